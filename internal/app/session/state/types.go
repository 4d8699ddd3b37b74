// Package state provides device state management.
package state

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Phase represents the device lifecycle phase.
type Phase int

const (
	PhaseStarting Phase = iota // Components are being started
	PhaseRunning               // All components healthy
	PhaseDegraded              // Running with an unresolved hardware warning
	PhaseStopped               // Shut down
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseDegraded:
		return "degraded"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for ph := PhaseStarting; ph <= PhaseStopped; ph++ {
		if ph.String() == string(text) {
			*p = ph
			return nil
		}
	}
	return errors.Newf("unknown phase %q", text)
}

// Warning is a recorded hardware or playback problem.
type Warning struct {
	Source  string    `json:"source"` // "tagreader", "playback", ...
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Info is the device state view.
type Info struct {
	DeviceID  string     `json:"deviceId"`
	Phase     Phase      `json:"phase"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Degraded  []string   `json:"degraded,omitempty"`
	Warnings  []Warning  `json:"warnings,omitempty"`
}
