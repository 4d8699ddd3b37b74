// Package playback provides the playback decision engine.
package playback

import "github.com/cockroachdb/errors"

// State represents the playback state.
type State int

const (
	StateStopped State = iota // Nothing playing
	StateLoading              // Playlist is being loaded
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
	StateError                // Last audio command failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateStopped; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Newf("unknown playback state %q", text)
}
