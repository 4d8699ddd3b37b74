package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/app/audio"
	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/tagreader"
	"github.com/osa030/tagbox/internal/domain/playlist"
	"github.com/osa030/tagbox/internal/domain/track"
)

// fakeAudio records commands and keeps a minimal playback model.
type fakeAudio struct {
	calls []string
	fail  map[string]error

	pl      *playlist.Descriptor
	index   int
	pos     time.Duration
	playing bool
	paused  bool
	volume  int
	muted   bool

	notes chan audio.Notification
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{
		fail:   make(map[string]error),
		volume: 50,
		notes:  make(chan audio.Notification, 8),
	}
}

func (f *fakeAudio) status() audio.Status {
	return audio.Status{IsPlaying: f.playing, IsPaused: f.paused}
}

func (f *fakeAudio) call(op string) error {
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeAudio) Play(ctx context.Context, pl *playlist.Descriptor, index int, offset time.Duration) (audio.Status, error) {
	if err := f.call("play"); err != nil {
		return f.status(), err
	}
	f.pl, f.index, f.pos = pl, index, offset
	f.playing, f.paused = true, false
	return f.status(), nil
}

func (f *fakeAudio) Pause(ctx context.Context) (audio.Status, error) {
	if err := f.call("pause"); err != nil {
		return f.status(), err
	}
	if !f.playing {
		return f.status(), nil
	}
	f.playing, f.paused = false, true
	return f.status(), nil
}

func (f *fakeAudio) Resume(ctx context.Context) (audio.Status, error) {
	if err := f.call("resume"); err != nil {
		return f.status(), err
	}
	if !f.paused {
		return f.status(), audio.ErrNothingToResume
	}
	f.playing, f.paused = true, false
	return f.status(), nil
}

func (f *fakeAudio) Stop(ctx context.Context) (audio.Status, error) {
	if err := f.call("stop"); err != nil {
		return f.status(), err
	}
	f.playing, f.paused, f.pos = false, false, 0
	return f.status(), nil
}

func (f *fakeAudio) Next(ctx context.Context) (audio.Status, error) {
	if err := f.call("next"); err != nil {
		return f.status(), err
	}
	if f.pl == nil {
		return f.status(), audio.ErrNoPlaylist
	}
	if f.index+1 >= f.pl.Len() {
		f.playing, f.paused, f.pos = false, false, 0
		return f.status(), audio.ErrPlaylistExhausted
	}
	f.index++
	f.pos = 0
	f.playing, f.paused = true, false
	return f.status(), nil
}

func (f *fakeAudio) Previous(ctx context.Context) (audio.Status, error) {
	if err := f.call("previous"); err != nil {
		return f.status(), err
	}
	if f.index > 0 {
		f.index--
	}
	f.pos = 0
	f.playing, f.paused = true, false
	return f.status(), nil
}

func (f *fakeAudio) Seek(ctx context.Context, pos time.Duration) (audio.Status, error) {
	if err := f.call("seek"); err != nil {
		return f.status(), err
	}
	f.pos = pos
	return f.status(), nil
}

func (f *fakeAudio) SeekBy(ctx context.Context, delta time.Duration) (audio.Status, error) {
	if err := f.call("seek"); err != nil {
		return f.status(), err
	}
	f.pos += delta
	if f.pos < 0 {
		f.pos = 0
	}
	return f.status(), nil
}

func (f *fakeAudio) SetVolume(ctx context.Context, percent int) (audio.Status, error) {
	if err := f.call("volume"); err != nil {
		return f.status(), err
	}
	f.volume = percent
	return f.status(), nil
}

func (f *fakeAudio) StepVolume(ctx context.Context, steps int) (audio.Status, error) {
	return f.SetVolume(ctx, f.volume+steps*5)
}

func (f *fakeAudio) SetMuted(ctx context.Context, muted bool) (audio.Status, error) {
	if err := f.call("mute"); err != nil {
		return f.status(), err
	}
	f.muted = muted
	return f.status(), nil
}

func (f *fakeAudio) IsPlaying() bool         { return f.playing }
func (f *fakeAudio) IsPaused() bool          { return f.paused }
func (f *fakeAudio) Position() time.Duration { return f.pos }
func (f *fakeAudio) Volume() int             { return f.volume }
func (f *fakeAudio) Muted() bool             { return f.muted }

func (f *fakeAudio) Current() (track.Track, int, bool) {
	if f.pl == nil {
		return track.Track{}, 0, false
	}
	t, ok := f.pl.TrackAt(f.index)
	return t, f.index, ok
}

func (f *fakeAudio) NextNotification(ctx context.Context) (audio.Notification, error) {
	select {
	case n := <-f.notes:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingSink struct {
	mu        sync.Mutex
	states    []Snapshot
	positions []Position
}

func (r *recordingSink) PublishState(ctx context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, snap)
}

func (r *recordingSink) PublishPosition(ctx context.Context, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, pos)
}

func (r *recordingSink) last(t *testing.T) Snapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.states)
	return r.states[len(r.states)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func threeTracks(id string) *playlist.Descriptor {
	pl := &playlist.Descriptor{ID: id, Name: "Playlist " + id}
	for _, tid := range []string{"t0", "t1", "t2"} {
		pl.Tracks = append(pl.Tracks, track.Track{ID: id + "-" + tid, Name: tid, Path: "/m/" + tid, Duration: 3 * time.Minute})
	}
	return pl
}

type harness struct {
	engine *Engine
	audio  *fakeAudio
	sink   *recordingSink
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		audio: newFakeAudio(),
		sink:  &recordingSink{},
		now:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	lk := lookup.NewStatic(map[string]*playlist.Descriptor{
		"A": threeTracks("P1"),
		"B": threeTracks("P2"),
		"E": {ID: "EMPTY", Name: "Empty"},
	})
	h.engine = NewEngine(Config{
		ManualPriorityWindow: 5 * time.Second,
		SeekStep:             10 * time.Second,
	}, h.audio, lk, h.sink)
	h.engine.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) present(uid string) {
	h.engine.handle(context.Background(), tagInput{ev: tagreader.Present(uid, h.now)})
}

func (h *harness) absent(uid string) {
	h.engine.handle(context.Background(), tagInput{ev: tagreader.Absent(uid, h.now)})
}

func (h *harness) manual(a control.Action) {
	h.engine.handle(context.Background(), manualInput{ev: control.Event{Action: a, ObservedAt: h.now}})
}

func (h *harness) command(t *testing.T, cmd Command) (Snapshot, error) {
	t.Helper()
	reply := make(chan commandResult, 1)
	h.engine.handle(context.Background(), commandInput{cmd: cmd, at: h.now, reply: reply})
	res := <-reply
	return res.snapshot, res.err
}

// notify delivers n. A TrackEnded for the playing track first stops the
// fake, as the real facade does before raising it.
func (h *harness) notify(n audio.Notification) {
	if ended, ok := n.(audio.TrackEnded); ok && h.audio.pl != nil &&
		h.audio.pl.ID == ended.PlaylistID && h.audio.index == ended.Index {
		h.audio.playing, h.audio.paused = false, false
	}
	h.engine.handle(context.Background(), notificationInput{n: n})
}

func TestState_UnmarshalText(t *testing.T) {
	for st := StateStopped; st <= StateError; st++ {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, st, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("rewinding")))
}

func TestEngine_NewTagStartsPlaylist(t *testing.T) {
	h := newHarness(t)

	h.present("A")

	assert.Equal(t, []string{"play"}, h.audio.calls)
	require.Equal(t, 1, h.sink.count())
	snap := h.sink.last(t)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, "P1", snap.PlaylistID)
	assert.Equal(t, "A", snap.CurrentTag)
	assert.Equal(t, 0, snap.TrackIndex)
	assert.Equal(t, "P1-t0", snap.TrackID)
	assert.Equal(t, int64(0), snap.PositionMs)
	assert.Equal(t, 3, snap.TrackCount)
	assert.True(t, snap.IsPlaying)
	assert.False(t, snap.IsPaused)
	assert.True(t, snap.AutoPause)
}

func TestEngine_AbsentPausesAtPosition(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.audio.pos = 42 * time.Second
	h.advance(42 * time.Second)

	h.absent("A")

	assert.Equal(t, []string{"play", "pause"}, h.audio.calls)
	snap := h.sink.last(t)
	assert.Equal(t, StatePaused, snap.State)
	assert.False(t, snap.IsPlaying)
	assert.True(t, snap.IsPaused)
	assert.Equal(t, int64(42000), snap.PositionMs)
	assert.False(t, snap.AutoPause)
}

func TestEngine_SameTagResumes(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.audio.pos = 42 * time.Second
	h.advance(42 * time.Second)
	h.absent("A")
	h.advance(3 * time.Second)

	h.present("A")

	assert.Equal(t, []string{"play", "pause", "resume"}, h.audio.calls)
	snap := h.sink.last(t)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, int64(42000), snap.PositionMs)
	assert.Equal(t, 0, snap.TrackIndex)
	assert.True(t, snap.AutoPause)
}

func TestEngine_UnknownTagIsNoop(t *testing.T) {
	h := newHarness(t)
	before := h.engine.Snapshot()

	h.present("XYZ")
	h.present("E")

	assert.Empty(t, h.audio.calls)
	assert.Equal(t, 0, h.sink.count())
	assert.Equal(t, before, h.engine.Snapshot())

	// Also while something is playing
	h.present("A")
	playing := h.engine.Snapshot()
	h.present("XYZ")
	assert.Equal(t, []string{"play"}, h.audio.calls)
	assert.Equal(t, playing, h.engine.Snapshot())
}

func TestEngine_ManualActionSuppressesAutoPause(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.advance(10 * time.Second)

	h.manual(control.ActionNext)
	h.advance(time.Second)
	h.absent("A")

	assert.Equal(t, []string{"play", "next"}, h.audio.calls)
	snap := h.engine.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 1, snap.TrackIndex)
	assert.False(t, snap.AutoPause)
	assert.Equal(t, h.now.Add(-time.Second), snap.LastManualActionAt)
}

func TestEngine_AbsentIgnoredWithoutAutoPause(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.manual(control.ActionVolumeUp)
	h.advance(time.Minute)

	h.absent("A")

	assert.Equal(t, []string{"play", "volume"}, h.audio.calls)
	assert.Equal(t, StatePlaying, h.engine.Snapshot().State)
	assert.Equal(t, 55, h.engine.Snapshot().Volume)
}

func TestEngine_AbsentForOtherTagIgnored(t *testing.T) {
	h := newHarness(t)
	h.present("A")

	h.absent("B")

	assert.Equal(t, []string{"play"}, h.audio.calls)
	assert.Equal(t, StatePlaying, h.engine.Snapshot().State)
}

func TestEngine_DifferentTagSwitchesPlaylist(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.audio.pos = 20 * time.Second

	h.present("B")

	assert.Equal(t, []string{"play", "play"}, h.audio.calls)
	snap := h.sink.last(t)
	assert.Equal(t, "P2", snap.PlaylistID)
	assert.Equal(t, "B", snap.CurrentTag)
	assert.Equal(t, int64(0), snap.PositionMs)
}

func TestEngine_SameTagWhilePlayingReenablesAutoPause(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.manual(control.ActionVolumeDown)
	require.False(t, h.engine.Snapshot().AutoPause)
	published := h.sink.count()

	h.present("A")

	assert.Equal(t, []string{"play", "volume"}, h.audio.calls)
	assert.True(t, h.engine.Snapshot().AutoPause)
	assert.Equal(t, published+1, h.sink.count())
}

func TestEngine_SameTagAfterStopRestarts(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.manual(control.ActionStop)
	require.Equal(t, StateStopped, h.engine.Snapshot().State)

	// Inside the window the restart is suppressed
	h.advance(time.Second)
	h.present("A")
	assert.Equal(t, []string{"play", "stop"}, h.audio.calls)

	h.advance(10 * time.Second)
	h.present("A")
	assert.Equal(t, []string{"play", "stop", "play"}, h.audio.calls)
	snap := h.engine.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 0, snap.TrackIndex)
	assert.True(t, snap.AutoPause)
}

func TestEngine_ResumeSuppressedInsideWindow(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	h.manual(control.ActionPause)
	h.advance(time.Second)

	h.present("A")

	assert.Equal(t, []string{"play", "pause"}, h.audio.calls)
	assert.Equal(t, StatePaused, h.engine.Snapshot().State)
}

func TestEngine_TrackEnded(t *testing.T) {
	h := newHarness(t)
	h.present("A")
	pl := h.audio.pl

	t.Run("advances to the next track", func(t *testing.T) {
		h.notify(audio.TrackEnded{PlaylistID: "P1", Index: 0, Track: pl.Tracks[0]})
		assert.Equal(t, 1, h.engine.Snapshot().TrackIndex)
		assert.Equal(t, StatePlaying, h.engine.Snapshot().State)
	})

	t.Run("stale notification ignored", func(t *testing.T) {
		h.notify(audio.TrackEnded{PlaylistID: "P1", Index: 0, Track: pl.Tracks[0]})
		h.notify(audio.TrackEnded{PlaylistID: "P9", Index: 1})
		assert.Equal(t, 1, h.engine.Snapshot().TrackIndex)
	})

	t.Run("exhaustion stops", func(t *testing.T) {
		h.notify(audio.TrackEnded{PlaylistID: "P1", Index: 1, Track: pl.Tracks[1]})
		h.notify(audio.TrackEnded{PlaylistID: "P1", Index: 2, Track: pl.Tracks[2]})
		snap := h.sink.last(t)
		assert.Equal(t, StateStopped, snap.State)
		assert.Equal(t, int64(0), snap.PositionMs)
		assert.False(t, snap.IsPlaying)
	})
}

func TestEngine_ProgressTick(t *testing.T) {
	h := newHarness(t)
	h.present("A")

	h.notify(audio.ProgressTick{PlaylistID: "P1", Index: 0, TrackID: "P1-t0", Position: 1500 * time.Millisecond, IsPlaying: true})
	h.notify(audio.ProgressTick{PlaylistID: "P1", Index: 2, TrackID: "P1-t2", Position: time.Second, IsPlaying: true})

	require.Len(t, h.sink.positions, 1)
	assert.Equal(t, Position{PlaylistID: "P1", TrackID: "P1-t0", PositionMs: 1500, IsPlaying: true}, h.sink.positions[0])
	assert.Equal(t, int64(1500), h.engine.Snapshot().PositionMs)
}

func TestEngine_AudioFailureMovesToError(t *testing.T) {
	h := newHarness(t)
	h.audio.fail["play"] = audio.ErrHardwareBusy

	h.present("A")

	snap := h.sink.last(t)
	assert.Equal(t, StateError, snap.State)
	assert.Contains(t, snap.ErrorMessage, "busy")
	assert.False(t, snap.IsPlaying)

	// The next valid event recovers
	delete(h.audio.fail, "play")
	h.advance(10 * time.Second)
	h.present("A")
	snap = h.sink.last(t)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Empty(t, snap.ErrorMessage)
}

func TestEngine_PlaybackErrorNotification(t *testing.T) {
	h := newHarness(t)
	h.present("A")

	h.notify(audio.PlaybackError{Op: "position", Err: errors.New("device lost")})

	snap := h.sink.last(t)
	assert.Equal(t, StateError, snap.State)
	assert.Contains(t, snap.ErrorMessage, "device lost")
}

func TestEngine_Commands(t *testing.T) {
	t.Run("transport without playlist is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.command(t, Command{Kind: CmdNext})
		assert.ErrorIs(t, err, audio.ErrNoPlaylist)
		_, err = h.command(t, Command{Kind: CmdPlay})
		assert.ErrorIs(t, err, audio.ErrNoPlaylist)
		assert.Empty(t, h.audio.calls)
		assert.Equal(t, StateStopped, h.engine.Snapshot().State)
	})

	t.Run("resume requires paused", func(t *testing.T) {
		h := newHarness(t)
		h.present("A")
		_, err := h.command(t, Command{Kind: CmdResume})
		assert.ErrorIs(t, err, audio.ErrNothingToResume)
		assert.Equal(t, StatePlaying, h.engine.Snapshot().State)
	})

	t.Run("pause and toggle", func(t *testing.T) {
		h := newHarness(t)
		h.present("A")
		snap, err := h.command(t, Command{Kind: CmdPause})
		require.NoError(t, err)
		assert.Equal(t, StatePaused, snap.State)
		assert.False(t, snap.AutoPause)

		snap, err = h.command(t, Command{Kind: CmdToggle})
		require.NoError(t, err)
		assert.Equal(t, StatePlaying, snap.State)
	})

	t.Run("seek and volume", func(t *testing.T) {
		h := newHarness(t)
		h.present("A")
		snap, err := h.command(t, Command{Kind: CmdSeek, PositionMs: 30000})
		require.NoError(t, err)
		assert.Equal(t, int64(30000), snap.PositionMs)

		snap, err = h.command(t, Command{Kind: CmdSetVolume, Volume: 80})
		require.NoError(t, err)
		assert.Equal(t, 80, snap.Volume)

		snap, err = h.command(t, Command{Kind: CmdMute})
		require.NoError(t, err)
		assert.True(t, snap.Muted)
	})

	t.Run("presentTag command acts as a tag event", func(t *testing.T) {
		h := newHarness(t)
		snap, err := h.command(t, Command{Kind: CmdPresentTag, TagUID: "A"})
		require.NoError(t, err)
		assert.Equal(t, StatePlaying, snap.State)
		assert.True(t, snap.AutoPause)
		assert.True(t, snap.LastManualActionAt.IsZero())

		h.advance(time.Second)
		snap, err = h.command(t, Command{Kind: CmdRemoveTag})
		require.NoError(t, err)
		assert.Equal(t, StatePaused, snap.State)
	})

	t.Run("unknown command", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.command(t, Command{Kind: CommandKind(99)})
		assert.ErrorIs(t, err, ErrUnknownCommand)
	})
}

func TestEngine_Recheck(t *testing.T) {
	h := newHarness(t)
	h.present("A")

	h.engine.handle(context.Background(), recheckInput{at: h.now})
	assert.Equal(t, StatePlaying, h.engine.Snapshot().State)

	// A lost Absent is caught by the recheck once the tag is known to be gone
	h.engine.tagPresent = false
	h.engine.handle(context.Background(), recheckInput{at: h.now})
	assert.Equal(t, StatePaused, h.engine.Snapshot().State)
	assert.Equal(t, []string{"play", "pause"}, h.audio.calls)
}

func TestEngine_Run(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.NoError(t, h.engine.PresentTag(ctx, "A"))
	snap, err := h.engine.Execute(ctx, Command{Kind: CmdPause})
	require.NoError(t, err)
	assert.Equal(t, StatePaused, snap.State)
	assert.Equal(t, "A", snap.CurrentTag)

	h.engine.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.ErrorIs(t, h.engine.PresentTag(ctx, "A"), ErrEngineClosed)
}
