package playback

import (
	"context"
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
	"github.com/osa030/tagbox/internal/infra/sim"
)

var _ Audio = (*audio.Engine)(nil)

func TestEngine_FollowsFacadeWhenTrackEndsBeforePause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fac := audio.NewEngine(audio.Config{ProgressInterval: 5 * time.Millisecond}, sim.NewAudio())
	require.NoError(t, fac.Start(ctx))
	defer fac.Close()

	pl := &playlist.Descriptor{ID: "P1", Name: "Short", Tracks: []track.Track{
		{ID: "t0", Name: "t0", Path: "/m/t0", Duration: 50 * time.Millisecond},
		{ID: "t1", Name: "t1", Path: "/m/t1", Duration: time.Minute},
	}}
	sink := &recordingSink{}
	e := NewEngine(Config{ManualPriorityWindow: 5 * time.Second}, fac,
		lookup.NewStatic(map[string]*playlist.Descriptor{"A": pl}), sink)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return now })

	e.handle(ctx, tagInput{ev: tagreader.Present("A", now)})
	require.Equal(t, StatePlaying, e.Snapshot().State)

	// The facade finishes the short track on its own.
	require.Eventually(t, func() bool {
		return !fac.IsPlaying() && !fac.IsPaused()
	}, 2*time.Second, 5*time.Millisecond)

	// A manual pause is handled before the TrackEnded notification.
	e.handle(ctx, manualInput{ev: control.Event{Action: control.ActionPause, ObservedAt: now}})
	snap := e.Snapshot()
	assert.NotEqual(t, StatePaused, snap.State)
	assert.False(t, snap.IsPlaying)
	assert.False(t, snap.IsPaused)

	drainCtx, cancelDrain := context.WithTimeout(ctx, 2*time.Second)
	defer cancelDrain()
	for {
		n, err := fac.NextNotification(drainCtx)
		require.NoError(t, err)
		e.handle(ctx, notificationInput{n: n})
		if _, ok := n.(audio.TrackEnded); ok {
			break
		}
	}

	snap = e.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 1, snap.TrackIndex)
	assert.True(t, fac.IsPlaying())

	now = now.Add(10 * time.Second)
	e.handle(ctx, tagInput{ev: tagreader.Present("A", now)})
	snap = e.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, 1, snap.TrackIndex)
	assert.True(t, snap.AutoPause)
}

func TestEngine_AbsentAfterTrackEndedStops(t *testing.T) {
	h := newHarness(t)
	h.present("A")

	// The facade already left the track when the tag goes away.
	h.audio.playing = false
	h.absent("A")

	snap := h.engine.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.False(t, snap.IsPaused)

	// The pending TrackEnded no longer advances.
	h.notify(audio.TrackEnded{PlaylistID: "P1", Index: 0, Track: h.audio.pl.Tracks[0]})
	assert.Equal(t, []string{"play", "pause"}, h.audio.calls)

	// Returning the tag restarts the playlist.
	h.advance(time.Second)
	h.present("A")
	assert.Equal(t, []string{"play", "pause", "play"}, h.audio.calls)
	assert.Equal(t, StatePlaying, h.engine.Snapshot().State)
}

type stalledLookup struct{}

func (stalledLookup) Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_StalledLookupIsBounded(t *testing.T) {
	fa := newFakeAudio()
	sink := &recordingSink{}
	e := NewEngine(Config{ResolveTimeout: 20 * time.Millisecond}, fa, stalledLookup{}, sink)

	done := make(chan struct{})
	go func() {
		e.handle(context.Background(), tagInput{ev: tagreader.Present("A", time.Now())})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lookup was not cut off")
	}
	assert.Empty(t, fa.calls)
	assert.Equal(t, StateStopped, e.Snapshot().State)
}
