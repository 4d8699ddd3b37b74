package playback

import (
	"time"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/tagreader"
)

// CommandKind identifies a client command.
type CommandKind int

const (
	CmdPlay CommandKind = iota
	CmdPause
	CmdResume
	CmdToggle
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek
	CmdSetVolume
	CmdMute
	CmdUnmute
	CmdPresentTag
	CmdRemoveTag
)

var commandNames = map[CommandKind]string{
	CmdPlay:       "play",
	CmdPause:      "pause",
	CmdResume:     "resume",
	CmdToggle:     "toggle",
	CmdStop:       "stop",
	CmdNext:       "next",
	CmdPrevious:   "previous",
	CmdSeek:       "seek",
	CmdSetVolume:  "setVolume",
	CmdMute:       "mute",
	CmdUnmute:     "unmute",
	CmdPresentTag: "presentTag",
	CmdRemoveTag:  "removeTag",
}

// String returns the wire name of the command.
func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseCommandKind parses a wire command name.
func ParseCommandKind(name string) (CommandKind, bool) {
	for k, n := range commandNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// CommandNames returns all wire command names in declaration order.
func CommandNames() []string {
	names := make([]string, 0, len(commandNames))
	for k := CmdPlay; k <= CmdRemoveTag; k++ {
		names = append(names, commandNames[k])
	}
	return names
}

// Command is a command issued by a client or operator.
type Command struct {
	Kind       CommandKind
	PositionMs int64  // CmdSeek
	Volume     int    // CmdSetVolume
	TagUID     string // CmdPresentTag
}

// input is anything the engine loop consumes.
type input interface {
	input()
}

type tagInput struct {
	ev tagreader.Event
}

type manualInput struct {
	ev control.Event
}

type notificationInput struct {
	n audio.Notification
}

type commandInput struct {
	cmd   Command
	at    time.Time
	reply chan commandResult
}

type recheckInput struct {
	at time.Time
}

type commandResult struct {
	snapshot Snapshot
	err      error
}

func (tagInput) input()          {}
func (manualInput) input()       {}
func (notificationInput) input() {}
func (commandInput) input()      {}
func (recheckInput) input()      {}

func isLowValue(in input) bool {
	switch v := in.(type) {
	case notificationInput:
		return audio.IsLowValue(v.n)
	case recheckInput:
		return true
	default:
		return false
	}
}
