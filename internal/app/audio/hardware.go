// Package audio provides the audio engine facade over the playback hardware.
package audio

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tagbox/internal/domain/track"
)

// Errors
var (
	ErrHardwareBusy      = errors.New("audio hardware busy")
	ErrNoPlaylist        = errors.New("no playlist loaded")
	ErrPlaylistExhausted = errors.New("playlist exhausted")
	ErrNothingToResume   = errors.New("nothing to resume")
	ErrInvalidIndex      = errors.New("track index out of range")
)

// Hardware is the narrow protocol of the audio output device.
// ErrHardwareBusy from any method is transient and retried by the engine.
type Hardware interface {
	Load(ctx context.Context, t track.Track) error
	PlayTrack(ctx context.Context, offset time.Duration) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Position() (time.Duration, error)
	// IsBusy reports whether the device is producing audio.
	IsBusy() bool
	SetVolume(ctx context.Context, percent int) error
	Reset(ctx context.Context) error
}
