// Package control turns physical buttons and encoders into manual control events.
package control

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnknownAction is returned when an action name is not recognized.
var ErrUnknownAction = errors.New("unknown action")

// Action is a manual playback action.
type Action int

const (
	ActionPlay Action = iota
	ActionPause
	ActionToggle
	ActionStop
	ActionNext
	ActionPrevious
	ActionVolumeUp
	ActionVolumeDown
	ActionMute
	ActionSeekForward
	ActionSeekBackward
)

var actionNames = map[Action]string{
	ActionPlay:         "play",
	ActionPause:        "pause",
	ActionToggle:       "toggle",
	ActionStop:         "stop",
	ActionNext:         "next",
	ActionPrevious:     "previous",
	ActionVolumeUp:     "volume_up",
	ActionVolumeDown:   "volume_down",
	ActionMute:         "mute",
	ActionSeekForward:  "seek_forward",
	ActionSeekBackward: "seek_backward",
}

// String returns the string representation of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction parses an action name. Dashes and case are ignored.
func ParseAction(s string) (Action, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownAction, "%q", s)
}

// Actions returns all actions in declaration order.
func Actions() []Action {
	actions := make([]Action, 0, len(actionNames))
	for a := ActionPlay; a <= ActionSeekBackward; a++ {
		actions = append(actions, a)
	}
	return actions
}

// Event is a manual control event.
type Event struct {
	Action     Action
	ObservedAt time.Time
}
