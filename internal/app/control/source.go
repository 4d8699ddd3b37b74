package control

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// InputKind is the kind of a raw hardware input.
type InputKind int

const (
	InputButton  InputKind = iota // Button press
	InputEncoder                  // Rotary encoder turn
)

// Input is a raw input from a control device.
type Input struct {
	Kind   InputKind
	Button string    // Button name for InputButton
	Delta  int       // Detents for InputEncoder, positive is clockwise
	At     time.Time // Time of the input, zero means now
}

// InputDevice is a source of raw control inputs.
type InputDevice interface {
	Inputs() <-chan Input
}

// Sink receives manual control events.
type Sink interface {
	HandleManualEvent(ctx context.Context, ev Event) error
}

// Config holds the control mapping.
type Config struct {
	Buttons    map[string]string // Button name to action name
	EncoderCW  string            // Action per clockwise detent
	EncoderCCW string            // Action per counter-clockwise detent
	MaxDetents int               // Detents honored per encoder input
}

// Source maps device inputs to manual control events.
type Source struct {
	buttons    map[string]Action
	encoderCW  Action
	encoderCCW Action
	maxDetents int
	sink       Sink
	now        func() time.Time
}

// NewSource creates a source. Every mapped action name must be valid.
func NewSource(cfg Config, sink Sink) (*Source, error) {
	s := &Source{
		buttons:    make(map[string]Action, len(cfg.Buttons)),
		encoderCW:  ActionVolumeUp,
		encoderCCW: ActionVolumeDown,
		maxDetents: cfg.MaxDetents,
		sink:       sink,
		now:        time.Now,
	}
	if s.maxDetents <= 0 {
		s.maxDetents = 5
	}

	for button, name := range cfg.Buttons {
		a, err := ParseAction(name)
		if err != nil {
			return nil, errors.Wrapf(err, "button %s", button)
		}
		s.buttons[button] = a
	}
	if cfg.EncoderCW != "" {
		a, err := ParseAction(cfg.EncoderCW)
		if err != nil {
			return nil, errors.Wrap(err, "encoder clockwise")
		}
		s.encoderCW = a
	}
	if cfg.EncoderCCW != "" {
		a, err := ParseAction(cfg.EncoderCCW)
		if err != nil {
			return nil, errors.Wrap(err, "encoder counter-clockwise")
		}
		s.encoderCCW = a
	}
	return s, nil
}

// Translate converts a raw input into manual events.
func (s *Source) Translate(in Input) []Event {
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	switch in.Kind {
	case InputButton:
		a, ok := s.buttons[in.Button]
		if !ok {
			zlog.Debug().Msgf("control: unmapped button: button=%s", in.Button)
			return nil
		}
		return []Event{{Action: a, ObservedAt: at}}
	case InputEncoder:
		a := s.encoderCW
		n := in.Delta
		if n < 0 {
			a = s.encoderCCW
			n = -n
		}
		if n > s.maxDetents {
			n = s.maxDetents
		}
		events := make([]Event, n)
		for i := range events {
			events[i] = Event{Action: a, ObservedAt: at}
		}
		return events
	default:
		return nil
	}
}

// Run forwards device inputs until ctx is done or the device closes.
func (s *Source) Run(ctx context.Context, dev InputDevice) error {
	inputs := dev.Inputs()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-inputs:
			if !ok {
				zlog.Info().Msg("control: input device closed")
				return nil
			}
			for _, ev := range s.Translate(in) {
				if err := s.sink.HandleManualEvent(ctx, ev); err != nil {
					zlog.Warn().Err(err).Msgf("control: failed to deliver event: action=%s", ev.Action)
				}
			}
		}
	}
}
