// Package sim provides simulated device hardware for development and tests.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/domain/track"
)

// ErrNotLoaded is returned when playing without a loaded track.
var ErrNotLoaded = errors.New("no track loaded")

// Audio simulates an audio output device. Playback progresses on the wall
// clock and a track finishes once its duration has elapsed.
type Audio struct {
	mu sync.Mutex

	loaded        *track.Track
	playing       bool
	paused        bool
	startTime     time.Time
	offset        time.Duration
	pausedAt      *time.Time
	pausedElapsed time.Duration
	volume        int

	busyFailures int
	failNext     error
	positionErr  error
	resets       int

	now func() time.Time
}

// NewAudio creates a simulated audio device.
func NewAudio() *Audio {
	return &Audio{now: time.Now}
}

// SetClock overrides the time source.
func (a *Audio) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Load implements audio.Hardware.
func (a *Audio) Load(ctx context.Context, t track.Track) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	a.resetPlaybackLocked()
	loaded := t
	a.loaded = &loaded
	zlog.Debug().Msgf("sim: loaded: track=%s duration=%v", t.Name, t.Duration)
	return nil
}

// PlayTrack implements audio.Hardware.
func (a *Audio) PlayTrack(ctx context.Context, offset time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	if a.loaded == nil {
		return ErrNotLoaded
	}
	a.resetPlaybackLocked()
	a.startTime = toWallTime(a.now())
	a.offset = offset
	a.playing = true
	return nil
}

// Pause implements audio.Hardware.
func (a *Audio) Pause(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	if !a.playing || a.paused {
		return nil
	}
	now := toWallTime(a.now())
	a.pausedAt = &now
	a.paused = true
	return nil
}

// Resume implements audio.Hardware.
func (a *Audio) Resume(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	if !a.paused {
		return nil
	}
	if a.pausedAt != nil {
		a.pausedElapsed += toWallTime(a.now()).Sub(*a.pausedAt)
	}
	a.pausedAt = nil
	a.paused = false
	return nil
}

// Stop implements audio.Hardware.
func (a *Audio) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	a.resetPlaybackLocked()
	return nil
}

// Position implements audio.Hardware.
func (a *Audio) Position() (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.positionErr != nil {
		return 0, a.positionErr
	}
	return a.positionLocked(), nil
}

// IsBusy implements audio.Hardware.
func (a *Audio) IsBusy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing && !a.paused && a.positionLocked() < a.loaded.Duration
}

// SetVolume implements audio.Hardware.
func (a *Audio) SetVolume(ctx context.Context, percent int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injectedLocked(); err != nil {
		return err
	}
	a.volume = percent
	return nil
}

// Reset implements audio.Hardware.
func (a *Audio) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resets++
	a.busyFailures = 0
	a.resetPlaybackLocked()
	zlog.Info().Msgf("sim: audio device reset: count=%d", a.resets)
	return nil
}

// FailNext makes the next command fail with err.
func (a *Audio) FailNext(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = err
}

// SetBusy makes the next n commands report the device as busy.
func (a *Audio) SetBusy(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busyFailures = n
}

// FailPosition makes position reads fail with err until cleared with nil.
func (a *Audio) FailPosition(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionErr = err
}

// Volume returns the device volume.
func (a *Audio) Volume() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume
}

// Resets returns how many times the device was reset.
func (a *Audio) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

// Loaded returns the loaded track.
func (a *Audio) Loaded() (track.Track, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded == nil {
		return track.Track{}, false
	}
	return *a.loaded, true
}

func (a *Audio) injectedLocked() error {
	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return err
	}
	if a.busyFailures > 0 {
		a.busyFailures--
		return audio.ErrHardwareBusy
	}
	return nil
}

func (a *Audio) resetPlaybackLocked() {
	a.playing = false
	a.paused = false
	a.startTime = time.Time{}
	a.offset = 0
	a.pausedAt = nil
	a.pausedElapsed = 0
}

func (a *Audio) positionLocked() time.Duration {
	if !a.playing || a.loaded == nil {
		return 0
	}

	now := toWallTime(a.now())
	elapsed := now.Sub(a.startTime) - a.pausedElapsed
	if a.paused && a.pausedAt != nil {
		elapsed -= now.Sub(*a.pausedAt)
	}

	pos := a.offset + elapsed
	if pos < 0 {
		return 0
	}
	if pos > a.loaded.Duration {
		return a.loaded.Duration
	}
	return pos
}

// toWallTime returns the time with monotonic clock stripped so differences
// follow the wall clock.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
