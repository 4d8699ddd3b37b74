package sim

import (
	"time"

	"github.com/osa030/tagbox/internal/app/control"
)

// Buttons simulates a panel of buttons and a rotary encoder.
type Buttons struct {
	ch chan control.Input
}

// NewButtons creates a simulated input device.
func NewButtons() *Buttons {
	return &Buttons{ch: make(chan control.Input, 16)}
}

// Inputs implements control.InputDevice.
func (b *Buttons) Inputs() <-chan control.Input {
	return b.ch
}

// Press presses a button. It reports false when the input buffer is full.
func (b *Buttons) Press(name string) bool {
	return b.send(control.Input{Kind: control.InputButton, Button: name, At: time.Now()})
}

// Turn turns the encoder by delta detents.
func (b *Buttons) Turn(delta int) bool {
	return b.send(control.Input{Kind: control.InputEncoder, Delta: delta, At: time.Now()})
}

// Close closes the device.
func (b *Buttons) Close() {
	close(b.ch)
}

func (b *Buttons) send(in control.Input) bool {
	select {
	case b.ch <- in:
		return true
	default:
		return false
	}
}
