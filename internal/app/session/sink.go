package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/control"
	"github.com/osa030/tagbox/internal/app/lookup"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/tagreader"
)

// tagSink counts debounced tag events on their way to the playback engine.
type tagSink struct{ m *Manager }

func (s tagSink) HandleTagEvent(ctx context.Context, ev tagreader.Event) error {
	s.m.metrics.TagEvent(ev.Kind.String())
	return s.m.playback.HandleTagEvent(ctx, ev)
}

// manualSink counts manual control events on their way to the playback engine.
type manualSink struct{ m *Manager }

func (s manualSink) HandleManualEvent(ctx context.Context, ev control.Event) error {
	s.m.metrics.ManualAction(ev.Action.String())
	return s.m.playback.HandleManualEvent(ctx, ev)
}

// PublishState implements playback.UpdateSink.
func (m *Manager) PublishState(ctx context.Context, snap playback.Snapshot) {
	m.trackPlaybackHealth(snap)

	view := StateView{Playback: snap, Device: m.stateMgr.GetPhase()}
	if err := m.broadcast.PublishState(ctx, snap.PlaylistID, view); err != nil {
		zlog.Warn().Err(err).Msgf("session: failed to publish state: state=%s", snap.State)
	}
}

// PublishPosition implements playback.UpdateSink.
func (m *Manager) PublishPosition(ctx context.Context, pos playback.Position) {
	if err := m.broadcast.PublishPosition(ctx, pos.PlaylistID, pos); err != nil {
		zlog.Debug().Err(err).Msg("session: failed to publish position")
	}
}

// trackPlaybackHealth degrades the device while playback is in the error
// state and recovers it once playback leaves it.
func (m *Manager) trackPlaybackHealth(snap playback.Snapshot) {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()

	failed := snap.State == playback.StateError
	switch {
	case failed && !m.playbackFailed:
		m.metrics.PlaybackError()
		m.stateMgr.Warn("playback", "playback failed", errors.New(snap.ErrorMessage), m.now())
	case !failed && m.playbackFailed:
		m.stateMgr.Recover("playback")
		zlog.Info().Msgf("session: playback recovered: state=%s", snap.State)
	}
	m.playbackFailed = failed
}

// onReaderWarning records tag reader resets.
func (m *Manager) onReaderWarning(msg string, err error, recovered bool) {
	m.metrics.ReaderReset(recovered)
	m.stateMgr.Warn("tagreader", msg, err, m.now())
	if recovered {
		m.stateMgr.Recover("tagreader")
	}
}

// onCollectionChange relays library changes to observers.
func (m *Manager) onCollectionChange(change lookup.Change) {
	ctx := m.ctx
	for _, id := range change.Playlists {
		data := CollectionChange{PlaylistID: id}
		if pl, ok := m.lookup.Playlist(id); ok {
			data.Playlist = newPlaylistView(pl)
		} else {
			data.Removed = true
		}
		if err := m.broadcast.PublishCollectionChanged(ctx, id, data); err != nil {
			zlog.Warn().Err(err).Msgf("session: failed to publish collection change: playlist=%s", id)
		}
	}

	if change.TagsChanged || len(change.Playlists) > 0 {
		data := CollectionChange{Playlists: m.lookup.Summaries()}
		if err := m.broadcast.PublishCollectionChanged(ctx, "", data); err != nil {
			zlog.Warn().Err(err).Msg("session: failed to publish collection summary")
		}
	}
}
