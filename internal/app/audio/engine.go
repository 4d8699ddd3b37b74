package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/eventq"
	"github.com/osa030/tagbox/internal/domain/playlist"
	"github.com/osa030/tagbox/internal/domain/track"
)

// positionErrorLimit is the number of consecutive failed position reads
// tolerated while playing before a PlaybackError is raised.
const positionErrorLimit = 3

// Config holds audio engine configuration.
type Config struct {
	ProgressInterval         time.Duration // ProgressTick rate
	RetryAttempts            int           // Retries for a busy device before a reset
	RetryBackoff             time.Duration // Initial retry backoff
	PreviousRestartThreshold time.Duration // Previous restarts the track past this position
	SeekStep                 time.Duration // Seek forward/backward step
	VolumeStep               int           // Volume up/down step in percent
	DefaultVolume            int           // Volume applied at start
	QueueSize                int           // Notification queue size
}

// Status is returned by every command.
type Status struct {
	IsPlaying bool
	IsPaused  bool
}

// Engine is the audio facade. Commands are idempotent and serialized.
type Engine struct {
	mu sync.Mutex

	cfg Config
	hw  Hardware

	playlist *playlist.Descriptor
	index    int
	playing  bool
	paused   bool
	lastPos  time.Duration
	volume   int
	muted    bool

	positionErrors int

	notifications *eventq.Queue[Notification]
}

// NewEngine creates an audio engine.
func NewEngine(cfg Config, hw Hardware) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	return &Engine{
		cfg:           cfg,
		hw:            hw,
		volume:        clampVolume(cfg.DefaultVolume),
		notifications: eventq.New[Notification](cfg.QueueSize, IsLowValue),
	}
}

// Start applies the initial volume and runs the progress loop until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	err := e.do(ctx, "set_volume", func() error {
		return e.hw.SetVolume(ctx, e.volume)
	})
	e.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to apply initial volume")
	}

	go e.progressLoop(ctx)
	return nil
}

// NextNotification waits for the next notification.
func (e *Engine) NextNotification(ctx context.Context) (Notification, error) {
	return e.notifications.Pop(ctx)
}

// Close stops notification delivery.
func (e *Engine) Close() {
	e.notifications.Close()
}

// Play loads pl and starts track index at offset.
func (e *Engine) Play(ctx context.Context, pl *playlist.Descriptor, index int, offset time.Duration) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pl == nil || pl.IsEmpty() {
		return e.statusLocked(), ErrNoPlaylist
	}
	if _, ok := pl.TrackAt(index); !ok {
		return e.statusLocked(), errors.Wrapf(ErrInvalidIndex, "index %d of %d", index, pl.Len())
	}

	e.playlist = pl
	return e.startLocked(ctx, index, offset)
}

// Pause pauses playback. Pausing while not playing is a no-op.
func (e *Engine) Pause(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing || e.paused {
		return e.statusLocked(), nil
	}

	if pos, err := e.hw.Position(); err == nil {
		e.lastPos = pos
	}
	if err := e.do(ctx, "pause", func() error { return e.hw.Pause(ctx) }); err != nil {
		return e.statusLocked(), err
	}
	e.paused = true
	zlog.Debug().Msgf("audio: paused: position=%v", e.lastPos)
	return e.statusLocked(), nil
}

// Resume continues paused playback. Resuming while playing is a no-op.
func (e *Engine) Resume(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing && !e.paused {
		return e.statusLocked(), nil
	}
	if !e.playing {
		return e.statusLocked(), ErrNothingToResume
	}

	if err := e.do(ctx, "resume", func() error { return e.hw.Resume(ctx) }); err != nil {
		return e.statusLocked(), err
	}
	e.paused = false
	zlog.Debug().Msgf("audio: resumed: position=%v", e.lastPos)
	return e.statusLocked(), nil
}

// Stop stops playback. The playlist stays loaded.
func (e *Engine) Stop(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(ctx)
}

// Next plays the following track. Past the last track playback stops and
// ErrPlaylistExhausted is returned.
func (e *Engine) Next(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playlist == nil {
		return e.statusLocked(), ErrNoPlaylist
	}
	if e.index+1 >= e.playlist.Len() {
		if _, err := e.stopLocked(ctx); err != nil {
			return e.statusLocked(), err
		}
		return e.statusLocked(), ErrPlaylistExhausted
	}
	return e.startLocked(ctx, e.index+1, 0)
}

// Previous restarts the current track when it played past the restart
// threshold, otherwise plays the preceding track.
func (e *Engine) Previous(ctx context.Context) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playlist == nil {
		return e.statusLocked(), ErrNoPlaylist
	}

	target := e.index
	if e.positionLocked() <= e.cfg.PreviousRestartThreshold && e.index > 0 {
		target = e.index - 1
	}
	return e.startLocked(ctx, target, 0)
}

// Seek moves within the current track. The position is clamped to the track.
func (e *Engine) Seek(ctx context.Context, pos time.Duration) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return e.statusLocked(), ErrNothingToResume
	}
	cur, _ := e.playlist.TrackAt(e.index)
	if pos < 0 {
		pos = 0
	}
	if cur.Duration > 0 && pos > cur.Duration {
		pos = cur.Duration
	}

	if err := e.do(ctx, "seek", func() error { return e.hw.PlayTrack(ctx, pos) }); err != nil {
		return e.statusLocked(), err
	}
	if e.paused {
		if err := e.do(ctx, "pause", func() error { return e.hw.Pause(ctx) }); err != nil {
			return e.statusLocked(), err
		}
	}
	e.lastPos = pos
	return e.statusLocked(), nil
}

// SeekBy moves relative to the current position.
func (e *Engine) SeekBy(ctx context.Context, delta time.Duration) (Status, error) {
	return e.Seek(ctx, e.Position()+delta)
}

// SetVolume sets the volume in percent, clamped to 0..100.
func (e *Engine) SetVolume(ctx context.Context, percent int) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	percent = clampVolume(percent)
	if !e.muted {
		if err := e.do(ctx, "set_volume", func() error { return e.hw.SetVolume(ctx, percent) }); err != nil {
			return e.statusLocked(), err
		}
	}
	e.volume = percent
	return e.statusLocked(), nil
}

// StepVolume changes the volume by steps of the configured size.
func (e *Engine) StepVolume(ctx context.Context, steps int) (Status, error) {
	return e.SetVolume(ctx, e.Volume()+steps*e.cfg.VolumeStep)
}

// SetMuted mutes or unmutes without losing the volume.
func (e *Engine) SetMuted(ctx context.Context, muted bool) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.muted == muted {
		return e.statusLocked(), nil
	}
	level := e.volume
	if muted {
		level = 0
	}
	if err := e.do(ctx, "set_volume", func() error { return e.hw.SetVolume(ctx, level) }); err != nil {
		return e.statusLocked(), err
	}
	e.muted = muted
	return e.statusLocked(), nil
}

// Volume returns the volume in percent.
func (e *Engine) Volume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Muted reports whether output is muted.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// IsPlaying reports whether a track is playing and not paused.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && !e.paused
}

// IsPaused reports whether playback is paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing && e.paused
}

// Position returns the position within the current track.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// Current returns the current track and its index.
func (e *Engine) Current() (track.Track, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playlist == nil {
		return track.Track{}, 0, false
	}
	t, ok := e.playlist.TrackAt(e.index)
	return t, e.index, ok
}

func (e *Engine) startLocked(ctx context.Context, index int, offset time.Duration) (Status, error) {
	t, _ := e.playlist.TrackAt(index)

	if err := e.do(ctx, "load", func() error { return e.hw.Load(ctx, t) }); err != nil {
		e.playing, e.paused = false, false
		return e.statusLocked(), err
	}
	if err := e.do(ctx, "play", func() error { return e.hw.PlayTrack(ctx, offset) }); err != nil {
		e.playing, e.paused = false, false
		return e.statusLocked(), err
	}

	e.index = index
	e.playing = true
	e.paused = false
	e.lastPos = offset
	e.positionErrors = 0

	zlog.Debug().Msgf("audio: track started: playlist=%s index=%d track=%s offset=%v",
		e.playlist.ID, index, t.Name, offset)

	res, _ := e.notifications.TryPush(TrackStarted{
		PlaylistID: e.playlist.ID,
		Index:      index,
		Track:      t,
		Offset:     offset,
	})
	if !res.Queued {
		zlog.Warn().Msgf("audio: notification queue full, dropped track started: track=%s", t.ID)
	}
	return e.statusLocked(), nil
}

func (e *Engine) stopLocked(ctx context.Context) (Status, error) {
	if !e.playing {
		return e.statusLocked(), nil
	}
	if err := e.do(ctx, "stop", func() error { return e.hw.Stop(ctx) }); err != nil {
		return e.statusLocked(), err
	}
	e.playing = false
	e.paused = false
	e.lastPos = 0
	return e.statusLocked(), nil
}

func (e *Engine) statusLocked() Status {
	return Status{
		IsPlaying: e.playing && !e.paused,
		IsPaused:  e.playing && e.paused,
	}
}

func (e *Engine) positionLocked() time.Duration {
	if !e.playing || e.paused {
		return e.lastPos
	}
	if pos, err := e.hw.Position(); err == nil {
		e.lastPos = pos
	}
	return e.lastPos
}

// do runs a hardware call, retrying while the device reports busy. When the
// retries run out the device is reset once and the call is tried a last time.
func (e *Engine) do(ctx context.Context, op string, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrHardwareBusy) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	if e.cfg.RetryBackoff > 0 {
		b.InitialInterval = e.cfg.RetryBackoff
	}
	retries := uint64(0)
	if e.cfg.RetryAttempts > 0 {
		retries = uint64(e.cfg.RetryAttempts)
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrHardwareBusy) {
		return errors.Wrapf(err, "audio %s", op)
	}

	zlog.Warn().Msgf("audio: device stayed busy, resetting: op=%s attempts=%d", op, retries+1)
	if rerr := e.hw.Reset(ctx); rerr != nil {
		return errors.Wrapf(errors.CombineErrors(err, rerr), "audio %s", op)
	}
	if err := fn(); err != nil {
		return errors.Wrapf(err, "audio %s after reset", op)
	}
	return nil
}

func (e *Engine) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range e.checkProgress(ctx) {
				if _, err := e.notifications.Push(ctx, n); err != nil {
					return
				}
			}
		}
	}
}

// checkProgress samples the hardware and returns the notifications to raise.
func (e *Engine) checkProgress(ctx context.Context) []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing || e.paused || e.playlist == nil {
		return nil
	}
	cur, _ := e.playlist.TrackAt(e.index)

	pos, err := e.hw.Position()
	if err != nil {
		e.positionErrors++
		if e.positionErrors < positionErrorLimit {
			return nil
		}
		e.playing = false
		e.paused = false
		zlog.Error().Err(err).Msgf("audio: lost position: track=%s", cur.ID)
		return []Notification{PlaybackError{Op: "position", Err: err}}
	}
	e.positionErrors = 0
	e.lastPos = pos

	busy := e.hw.IsBusy()
	if busy && (cur.Duration <= 0 || pos < cur.Duration) {
		return []Notification{ProgressTick{
			PlaylistID: e.playlist.ID,
			Index:      e.index,
			TrackID:    cur.ID,
			Position:   pos,
			IsPlaying:  true,
		}}
	}

	if busy {
		if err := e.hw.Stop(ctx); err != nil {
			zlog.Warn().Err(err).Msgf("audio: failed to stop finished track: track=%s", cur.ID)
		}
	}
	e.playing = false
	e.paused = false
	e.lastPos = 0
	zlog.Debug().Msgf("audio: track ended: playlist=%s index=%d track=%s", e.playlist.ID, e.index, cur.Name)
	return []Notification{TrackEnded{PlaylistID: e.playlist.ID, Index: e.index, Track: cur}}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
