package playback

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/eventq"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/tagreader"
	"github.com/osa030/tagbox/internal/domain/playlist"
	"github.com/osa030/tagbox/internal/domain/track"
)

// Errors
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrEngineClosed   = errors.New("playback engine closed")
)

// Audio is the audio facade used by the engine.
type Audio interface {
	Play(ctx context.Context, pl *playlist.Descriptor, index int, offset time.Duration) (audio.Status, error)
	Pause(ctx context.Context) (audio.Status, error)
	Resume(ctx context.Context) (audio.Status, error)
	Stop(ctx context.Context) (audio.Status, error)
	Next(ctx context.Context) (audio.Status, error)
	Previous(ctx context.Context) (audio.Status, error)
	Seek(ctx context.Context, pos time.Duration) (audio.Status, error)
	SeekBy(ctx context.Context, delta time.Duration) (audio.Status, error)
	SetVolume(ctx context.Context, percent int) (audio.Status, error)
	StepVolume(ctx context.Context, steps int) (audio.Status, error)
	SetMuted(ctx context.Context, muted bool) (audio.Status, error)
	IsPlaying() bool
	IsPaused() bool
	Position() time.Duration
	Volume() int
	Muted() bool
	Current() (track.Track, int, bool)
	NextNotification(ctx context.Context) (audio.Notification, error)
}

// PlaylistLookup resolves tags to playlists.
type PlaylistLookup interface {
	Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error)
}

// UpdateSink receives the engine's outgoing updates.
type UpdateSink interface {
	PublishState(ctx context.Context, snap Snapshot)
	PublishPosition(ctx context.Context, pos Position)
}

// Config holds decision engine configuration.
type Config struct {
	ManualPriorityWindow time.Duration // Tag-driven auto pause/resume is suppressed this long after a manual action
	RecheckInterval      time.Duration // Periodic absence recheck, zero disables
	SeekStep             time.Duration // Step of seek_forward/seek_backward
	QueueSize            int           // Input queue size
	ResolveTimeout       time.Duration // Bound on one tag lookup
}

// DefaultResolveTimeout bounds a tag lookup when Config leaves it unset.
const DefaultResolveTimeout = 2 * time.Second

// Engine decides what to play from tag, manual and audio events. All
// decisions run on one goroutine fed by a single bounded queue.
type Engine struct {
	cfg    Config
	audio  Audio
	lookup PlaylistLookup
	sink   UpdateSink
	now    func() time.Time

	queue *eventq.Queue[input]

	mu      sync.RWMutex
	session Session

	// Owned by the loop goroutine.
	playlist   *playlist.Descriptor
	window     PriorityWindow
	tagPresent bool
	// halted is set when playback was stopped on purpose or failed, so a
	// late TrackEnded does not advance.
	halted bool
}

// NewEngine creates a decision engine.
func NewEngine(cfg Config, a Audio, l PlaylistLookup, sink UpdateSink) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	return &Engine{
		cfg:    cfg,
		audio:  a,
		lookup: l,
		sink:   sink,
		now:    time.Now,
		queue:  eventq.New[input](cfg.QueueSize, isLowValue),
		window: PriorityWindow{Window: cfg.ManualPriorityWindow},
		session: Session{
			State:  StateStopped,
			Volume: a.Volume(),
			Muted:  a.Muted(),
		},
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// HandleTagEvent queues a debounced tag event.
func (e *Engine) HandleTagEvent(ctx context.Context, ev tagreader.Event) error {
	return e.push(ctx, tagInput{ev: ev})
}

// HandleManualEvent queues a manual control event.
func (e *Engine) HandleManualEvent(ctx context.Context, ev control.Event) error {
	return e.push(ctx, manualInput{ev: ev})
}

// PresentTag queues a Present event for uid observed now.
func (e *Engine) PresentTag(ctx context.Context, uid string) error {
	return e.HandleTagEvent(ctx, tagreader.Present(uid, e.now()))
}

// RemoveTag queues an Absent event for the current tag observed now.
func (e *Engine) RemoveTag(ctx context.Context) error {
	return e.HandleTagEvent(ctx, tagreader.Absent(e.Snapshot().CurrentTag, e.now()))
}

// ManualAction queues a manual action observed now.
func (e *Engine) ManualAction(ctx context.Context, a control.Action) error {
	return e.HandleManualEvent(ctx, control.Event{Action: a, ObservedAt: e.now()})
}

// Execute runs a client command and waits for its outcome.
func (e *Engine) Execute(ctx context.Context, cmd Command) (Snapshot, error) {
	reply := make(chan commandResult, 1)
	if err := e.push(ctx, commandInput{cmd: cmd, at: e.now(), reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case res := <-reply:
		return res.snapshot, res.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (e *Engine) push(ctx context.Context, in input) error {
	if _, err := e.queue.Push(ctx, in); err != nil {
		if errors.Is(err, eventq.ErrClosed) {
			return ErrEngineClosed
		}
		return err
	}
	return nil
}

// Run consumes events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	go e.relayNotifications(ctx)
	if e.cfg.RecheckInterval > 0 {
		go e.recheckLoop(ctx)
	}

	zlog.Info().Msg("playback: decision engine started")
	for {
		in, err := e.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, eventq.ErrClosed) || ctx.Err() != nil {
				zlog.Info().Msg("playback: decision engine stopped")
				return nil
			}
			return errors.Wrap(err, "failed to read input")
		}
		e.handleSafely(ctx, in)
	}
}

// Close stops accepting events.
func (e *Engine) Close() {
	e.queue.Close()
}

func (e *Engine) handleSafely(ctx context.Context, in input) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: panic while handling %T: %v\n%s", in, r, debug.Stack())
			e.fail(ctx, errors.Newf("internal error: %v", r))
			if c, ok := in.(commandInput); ok {
				c.reply <- commandResult{snapshot: e.Snapshot(), err: errors.Newf("internal error: %v", r)}
			}
		}
	}()
	e.handle(ctx, in)
}

func (e *Engine) handle(ctx context.Context, in input) {
	switch v := in.(type) {
	case tagInput:
		e.handleTag(ctx, v.ev)
	case manualInput:
		_ = e.handleManual(ctx, v.ev.Action, v.ev.ObservedAt)
	case notificationInput:
		e.handleNotification(ctx, v.n)
	case commandInput:
		err := e.handleCommand(ctx, v.cmd, v.at)
		v.reply <- commandResult{snapshot: e.Snapshot(), err: err}
	case recheckInput:
		e.handleRecheck(ctx, v.at)
	default:
		panic(errors.AssertionFailedf("unexpected input %T", in))
	}
}

func (e *Engine) handleTag(ctx context.Context, ev tagreader.Event) {
	switch ev.Kind {
	case tagreader.KindPresent:
		e.onPresent(ctx, ev.UID, ev.ObservedAt)
	case tagreader.KindAbsent:
		e.onAbsent(ctx, ev.UID, ev.ObservedAt)
	}
}

func (e *Engine) onPresent(ctx context.Context, uid string, at time.Time) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
	pl, err := e.lookup.Resolve(rctx, uid)
	cancel()
	if err != nil || pl == nil {
		if err == nil || errors.Is(err, lookup.ErrUnknownTag) {
			zlog.Info().Msgf("playback: unknown tag ignored: uid=%s", uid)
		} else {
			zlog.Warn().Err(err).Msgf("playback: tag lookup failed, ignored: uid=%s", uid)
		}
		return
	}
	if pl.IsEmpty() {
		zlog.Warn().Msgf("playback: tag resolves to an empty playlist, ignored: uid=%s playlist=%s", uid, pl.ID)
		return
	}

	cur := e.Snapshot()
	same := uid == cur.CurrentTag && e.playlist != nil && e.playlist.ID == pl.ID
	if !same {
		zlog.Info().Msgf("playback: new tag: uid=%s playlist=%s tracks=%d", uid, pl.ID, pl.Len())
		e.tagPresent = true
		e.startPlaylist(ctx, uid, pl)
		return
	}

	e.tagPresent = true
	st := e.facade()
	switch {
	case st.IsPlaying:
		if !cur.AutoPause || cur.State != StatePlaying {
			e.sync(StatePlaying, func(s *Session) { s.AutoPause = true })
			e.publish(ctx)
		}
	case st.IsPaused:
		if e.window.Active(at) {
			zlog.Debug().Msgf("playback: resume suppressed by manual priority window: uid=%s", uid)
			return
		}
		zlog.Info().Msgf("playback: same tag returned, resuming: uid=%s position=%dms", uid, cur.PositionMs)
		st, err := e.audio.Resume(ctx)
		if err != nil {
			e.fail(ctx, err)
			return
		}
		e.halted = false
		e.sync(stateOf(st), func(s *Session) { s.AutoPause = st.IsPlaying })
		e.publish(ctx)
	default:
		if e.window.Active(at) {
			zlog.Debug().Msgf("playback: restart suppressed by manual priority window: uid=%s", uid)
			return
		}
		zlog.Info().Msgf("playback: same tag returned, restarting: uid=%s", uid)
		e.startPlaylist(ctx, uid, pl)
	}
}

func (e *Engine) startPlaylist(ctx context.Context, uid string, pl *playlist.Descriptor) {
	e.playlist = pl
	e.update(func(s *Session) {
		s.State = StateLoading
		s.CurrentTag = uid
		s.PlaylistID = pl.ID
		s.PlaylistName = pl.Name
		s.TrackCount = pl.Len()
		s.ErrorMessage = ""
	})

	st, err := e.audio.Play(ctx, pl, 0, 0)
	if err != nil {
		e.fail(ctx, err)
		return
	}
	e.halted = false
	e.sync(stateOf(st), func(s *Session) { s.AutoPause = st.IsPlaying })
	e.publish(ctx)
}

func (e *Engine) onAbsent(ctx context.Context, uid string, at time.Time) {
	cur := e.Snapshot()
	if uid != cur.CurrentTag {
		return
	}
	e.tagPresent = false

	if cur.State != StatePlaying || !cur.AutoPause {
		return
	}
	if e.window.Active(at) {
		zlog.Debug().Msgf("playback: auto pause suppressed by manual priority window: uid=%s", uid)
		return
	}
	e.autoPause(ctx, "tag removed")
}

func (e *Engine) handleRecheck(ctx context.Context, at time.Time) {
	if e.tagPresent {
		return
	}
	cur := e.Snapshot()
	if cur.State != StatePlaying || !cur.AutoPause || e.window.Active(at) {
		return
	}
	e.autoPause(ctx, "tag absent on recheck")
}

func (e *Engine) autoPause(ctx context.Context, reason string) {
	st, err := e.audio.Pause(ctx)
	if err != nil {
		e.fail(ctx, err)
		return
	}
	if !st.IsPaused {
		// The track ended before the pause reached the device. Returning
		// the tag restarts the playlist.
		e.halted = true
		zlog.Info().Msgf("playback: nothing to pause, stopped: reason=%s", reason)
	}
	e.sync(stateOf(st), func(s *Session) { s.AutoPause = false })
	zlog.Info().Msgf("playback: auto paused: reason=%s position=%dms", reason, e.Snapshot().PositionMs)
	e.publish(ctx)
}

func (e *Engine) handleManual(ctx context.Context, a control.Action, at time.Time) error {
	e.window.Record(at)
	e.update(func(s *Session) {
		s.AutoPause = false
		s.LastManualActionAt = e.window.LastManualActionAt
	})
	zlog.Debug().Msgf("playback: manual action: action=%s", a)

	var err error
	switch a {
	case control.ActionPlay:
		err = e.play(ctx)
	case control.ActionPause:
		err = e.pause(ctx)
	case control.ActionToggle:
		if e.facade().IsPlaying {
			err = e.pause(ctx)
		} else {
			err = e.play(ctx)
		}
	case control.ActionStop:
		err = e.stop(ctx)
	case control.ActionNext:
		err = e.transport(ctx, e.audio.Next)
	case control.ActionPrevious:
		err = e.transport(ctx, e.audio.Previous)
	case control.ActionVolumeUp:
		err = e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.StepVolume(ctx, 1) })
	case control.ActionVolumeDown:
		err = e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.StepVolume(ctx, -1) })
	case control.ActionMute:
		muted := e.audio.Muted()
		err = e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.SetMuted(ctx, !muted) })
	case control.ActionSeekForward:
		err = e.seekBy(ctx, e.cfg.SeekStep)
	case control.ActionSeekBackward:
		err = e.seekBy(ctx, -e.cfg.SeekStep)
	default:
		err = errors.Wrapf(ErrUnknownCommand, "action %d", a)
	}

	if err != nil {
		zlog.Info().Err(err).Msgf("playback: manual action rejected: action=%s", a)
	}
	return err
}

func (e *Engine) handleCommand(ctx context.Context, cmd Command, at time.Time) error {
	switch cmd.Kind {
	case CmdPresentTag:
		e.onPresent(ctx, cmd.TagUID, at)
		return nil
	case CmdRemoveTag:
		e.onAbsent(ctx, e.Snapshot().CurrentTag, at)
		return nil
	case CmdPlay:
		return e.handleManual(ctx, control.ActionPlay, at)
	case CmdPause:
		return e.handleManual(ctx, control.ActionPause, at)
	case CmdToggle:
		return e.handleManual(ctx, control.ActionToggle, at)
	case CmdStop:
		return e.handleManual(ctx, control.ActionStop, at)
	case CmdNext:
		return e.handleManual(ctx, control.ActionNext, at)
	case CmdPrevious:
		return e.handleManual(ctx, control.ActionPrevious, at)
	}

	e.window.Record(at)
	e.update(func(s *Session) {
		s.AutoPause = false
		s.LastManualActionAt = e.window.LastManualActionAt
	})

	switch cmd.Kind {
	case CmdResume:
		if !e.facade().IsPaused {
			return audio.ErrNothingToResume
		}
		return e.play(ctx)
	case CmdSeek:
		return e.seekTo(ctx, time.Duration(cmd.PositionMs)*time.Millisecond)
	case CmdSetVolume:
		return e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.SetVolume(ctx, cmd.Volume) })
	case CmdMute, CmdUnmute:
		muted := cmd.Kind == CmdMute
		return e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.SetMuted(ctx, muted) })
	default:
		return errors.Wrapf(ErrUnknownCommand, "command %d", cmd.Kind)
	}
}

func (e *Engine) play(ctx context.Context) error {
	cur := e.facade()
	switch {
	case cur.IsPlaying:
		e.refresh(ctx, cur)
		return nil
	case cur.IsPaused:
		st, err := e.audio.Resume(ctx)
		if err != nil {
			return e.reject(ctx, err)
		}
		e.halted = false
		e.sync(stateOf(st), nil)
		e.publish(ctx)
		return nil
	default:
		if e.playlist == nil {
			return audio.ErrNoPlaylist
		}
		st, err := e.audio.Play(ctx, e.playlist, 0, 0)
		if err != nil {
			return e.reject(ctx, err)
		}
		e.halted = false
		e.sync(stateOf(st), func(s *Session) { s.ErrorMessage = "" })
		e.publish(ctx)
		return nil
	}
}

func (e *Engine) pause(ctx context.Context) error {
	if cur := e.facade(); !cur.IsPlaying {
		e.refresh(ctx, cur)
		return nil
	}
	st, err := e.audio.Pause(ctx)
	if err != nil {
		return e.reject(ctx, err)
	}
	e.sync(e.observed(st), nil)
	e.publish(ctx)
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	st, err := e.audio.Stop(ctx)
	if err != nil {
		return e.reject(ctx, err)
	}
	e.halted = true
	e.sync(stateOf(st), func(s *Session) { s.PositionMs = 0 })
	e.publish(ctx)
	return nil
}

func (e *Engine) transport(ctx context.Context, fn func(context.Context) (audio.Status, error)) error {
	if e.playlist == nil {
		return audio.ErrNoPlaylist
	}
	st, err := fn(ctx)
	if errors.Is(err, audio.ErrPlaylistExhausted) {
		e.halted = true
		e.sync(stateOf(st), func(s *Session) { s.PositionMs = 0 })
		e.publish(ctx)
		return nil
	}
	if err != nil {
		return e.reject(ctx, err)
	}
	e.halted = false
	e.sync(stateOf(st), func(s *Session) { s.ErrorMessage = "" })
	e.publish(ctx)
	return nil
}

func (e *Engine) seekBy(ctx context.Context, delta time.Duration) error {
	return e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.SeekBy(ctx, delta) })
}

func (e *Engine) seekTo(ctx context.Context, pos time.Duration) error {
	return e.adjust(ctx, func(ctx context.Context) (audio.Status, error) { return e.audio.Seek(ctx, pos) })
}

// adjust runs a command that keeps the playback state.
func (e *Engine) adjust(ctx context.Context, fn func(context.Context) (audio.Status, error)) error {
	st, err := fn(ctx)
	if err != nil {
		return e.reject(ctx, err)
	}
	e.sync(e.observed(st), nil)
	e.publish(ctx)
	return nil
}

// refresh publishes the facade status when the session disagrees with it.
func (e *Engine) refresh(ctx context.Context, st audio.Status) {
	state := e.observed(st)
	if e.Snapshot().State == state {
		return
	}
	e.sync(state, nil)
	e.publish(ctx)
}

// facade returns the playback status reported by the audio engine.
func (e *Engine) facade() audio.Status {
	return audio.Status{IsPlaying: e.audio.IsPlaying(), IsPaused: e.audio.IsPaused()}
}

// observed maps a facade status to a session state. Error is kept until
// playback runs again.
func (e *Engine) observed(st audio.Status) State {
	state := stateOf(st)
	if state == StateStopped && e.Snapshot().State == StateError {
		return StateError
	}
	return state
}

func (e *Engine) handleNotification(ctx context.Context, n audio.Notification) {
	switch v := n.(type) {
	case audio.TrackStarted:
		if !e.isCurrent(v.PlaylistID) {
			return
		}
		cur := e.Snapshot()
		if cur.TrackIndex == v.Index && cur.TrackID == v.Track.ID {
			return
		}
		e.sync(e.observed(e.facade()), nil)
		e.publish(ctx)
	case audio.ProgressTick:
		cur := e.Snapshot()
		if !e.isCurrent(v.PlaylistID) || cur.TrackIndex != v.Index || cur.State != StatePlaying {
			return
		}
		posMs := v.Position.Milliseconds()
		e.update(func(s *Session) { s.PositionMs = posMs })
		e.sink.PublishPosition(ctx, Position{
			PlaylistID: v.PlaylistID,
			TrackID:    v.TrackID,
			PositionMs: posMs,
			IsPlaying:  v.IsPlaying,
		})
	case audio.TrackEnded:
		cur := e.Snapshot()
		st := e.facade()
		// The facade has already left the track; the session may lag behind.
		if !e.isCurrent(v.PlaylistID) || cur.TrackIndex != v.Index || e.halted || st.IsPlaying || st.IsPaused {
			return
		}
		zlog.Info().Msgf("playback: track ended, advancing: playlist=%s index=%d", v.PlaylistID, v.Index)
		st, err := e.audio.Next(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrPlaylistExhausted) {
				zlog.Info().Msgf("playback: playlist finished: playlist=%s", v.PlaylistID)
				e.halted = true
				e.sync(stateOf(st), func(s *Session) { s.PositionMs = 0 })
				e.publish(ctx)
				return
			}
			e.fail(ctx, err)
			return
		}
		e.sync(stateOf(st), nil)
		e.publish(ctx)
	case audio.PlaybackError:
		e.fail(ctx, errors.Wrapf(v.Err, "audio %s", v.Op))
	}
}

func (e *Engine) isCurrent(playlistID string) bool {
	return e.playlist != nil && e.playlist.ID == playlistID
}

// reject reports a failed command. Domain rejections leave the state alone,
// hardware failures move the session to Error.
func (e *Engine) reject(ctx context.Context, err error) error {
	if errors.Is(err, audio.ErrNoPlaylist) || errors.Is(err, audio.ErrNothingToResume) || errors.Is(err, audio.ErrInvalidIndex) {
		return err
	}
	e.fail(ctx, err)
	return err
}

func (e *Engine) fail(ctx context.Context, err error) {
	zlog.Error().Err(err).Msg("playback: audio failure")
	e.halted = true
	e.update(func(s *Session) {
		s.State = StateError
		s.IsPlaying = false
		s.IsPaused = false
		s.ErrorMessage = err.Error()
	})
	e.publish(ctx)
}

// sync refreshes the session from the audio engine and applies state.
func (e *Engine) sync(state State, mutate func(s *Session)) {
	t, index, ok := e.audio.Current()
	pos := e.audio.Position()
	volume := e.audio.Volume()
	muted := e.audio.Muted()

	e.update(func(s *Session) {
		s.State = state
		s.IsPlaying = state == StatePlaying
		s.IsPaused = state == StatePaused
		s.Volume = volume
		s.Muted = muted
		if ok {
			s.TrackIndex = index
			s.TrackID = t.ID
			s.TrackName = t.Name
			s.DurationMs = t.DurationMs()
			s.PositionMs = pos.Milliseconds()
		}
		if e.playlist != nil {
			s.PlaylistID = e.playlist.ID
			s.PlaylistName = e.playlist.Name
			s.TrackCount = e.playlist.Len()
		}
		if mutate != nil {
			mutate(s)
		}
	})
}

func (e *Engine) update(mutate func(s *Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mutate(&e.session)
	e.session.UpdatedAt = e.now()
}

func (e *Engine) publish(ctx context.Context) {
	snap := e.Snapshot()
	zlog.Debug().Msgf("playback: state: state=%s playlist=%s index=%d position=%dms",
		snap.State, snap.PlaylistID, snap.TrackIndex, snap.PositionMs)
	e.sink.PublishState(ctx, snap)
}

func (e *Engine) relayNotifications(ctx context.Context) {
	for {
		n, err := e.audio.NextNotification(ctx)
		if err != nil {
			return
		}
		if err := e.push(ctx, notificationInput{n: n}); err != nil {
			return
		}
	}
}

func (e *Engine) recheckLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RecheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.queue.TryPush(recheckInput{at: e.now()}); err != nil {
				return
			}
		}
	}
}

func stateOf(st audio.Status) State {
	switch {
	case st.IsPlaying:
		return StatePlaying
	case st.IsPaused:
		return StatePaused
	default:
		return StateStopped
	}
}
