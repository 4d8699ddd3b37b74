package audio

import (
	"time"

	"github.com/osa030/tagbox/internal/domain/track"
)

// Notification is an asynchronous message from the audio engine.
type Notification interface {
	notification()
}

// TrackStarted is raised when a track begins playing.
type TrackStarted struct {
	PlaylistID string
	Index      int
	Track      track.Track
	Offset     time.Duration
}

// ProgressTick reports the playback position at a bounded rate.
type ProgressTick struct {
	PlaylistID string
	Index      int
	TrackID    string
	Position   time.Duration
	IsPlaying  bool
}

// TrackEnded is raised when the current track finished on its own.
type TrackEnded struct {
	PlaylistID string
	Index      int
	Track      track.Track
}

// PlaybackError is raised on a hardware fault outside of a command.
type PlaybackError struct {
	Op  string
	Err error
}

func (TrackStarted) notification()  {}
func (ProgressTick) notification()  {}
func (TrackEnded) notification()    {}
func (PlaybackError) notification() {}

// IsLowValue reports whether n may be dropped in favor of newer events.
func IsLowValue(n Notification) bool {
	_, ok := n.(ProgressTick)
	return ok
}
