package session

import (
	"time"

	"github.com/osa030/tagbox/internal/app/broadcast"
	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/app/session/state"
	"github.com/osa030/tagbox/internal/domain/observer"
	"github.com/osa030/tagbox/internal/domain/playlist"
)

// StateView is the payload of state.full events. Room snapshots also
// carry the collection of their room.
type StateView struct {
	Playback  playback.Snapshot  `json:"playback"`
	Device    state.Phase        `json:"device"`
	Playlists []playlist.Summary `json:"playlists,omitempty"`
	Playlist  *PlaylistView      `json:"playlist,omitempty"`
}

// PlaylistView is the observer view of one playlist.
type PlaylistView struct {
	playlist.Summary
	URL    string      `json:"url,omitempty"`
	Tracks []TrackView `json:"tracks"`
}

// TrackView is the observer view of one track.
type TrackView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	DurationMs int64    `json:"durationMs"`
	URL        string   `json:"url,omitempty"`
}

func newPlaylistView(pl *playlist.Descriptor) *PlaylistView {
	v := &PlaylistView{
		Summary: pl.Summary(),
		URL:     pl.URL,
		Tracks:  make([]TrackView, len(pl.Tracks)),
	}
	for i, t := range pl.Tracks {
		v.Tracks[i] = TrackView{
			ID:         t.ID,
			Name:       t.Name,
			Artists:    t.Artists,
			Album:      t.Album,
			DurationMs: t.DurationMs(),
			URL:        t.URL,
		}
	}
	return v
}

// CollectionChange is the payload of collection.changed events.
type CollectionChange struct {
	PlaylistID string             `json:"playlistId,omitempty"`
	Playlist   *PlaylistView      `json:"playlist,omitempty"`
	Removed    bool               `json:"removed,omitempty"`
	Playlists  []playlist.Summary `json:"playlists,omitempty"`
}

// ClientInfo describes a connected observer client.
type ClientInfo struct {
	ID              string     `json:"id"`
	RemoteAddr      string     `json:"remoteAddr"`
	UserAgent       string     `json:"userAgent,omitempty"`
	ConnectedAt     time.Time  `json:"connectedAt"`
	Rooms           []string   `json:"rooms"`
	TotalOperations int        `json:"totalOperations"`
	LastOperationAt *time.Time `json:"lastOperationAt,omitempty"`
}

func newClientInfo(s *observer.Session) ClientInfo {
	return ClientInfo{
		ID:              s.ID,
		RemoteAddr:      s.RemoteAddr,
		UserAgent:       s.UserAgent,
		ConnectedAt:     s.ConnectedAt,
		Rooms:           s.RoomList(),
		TotalOperations: s.TotalOperations,
		LastOperationAt: s.LastOperationAt,
	}
}

// Status is the full device status.
type Status struct {
	Device            state.Info         `json:"device"`
	Playback          playback.Snapshot  `json:"playback"`
	ReaderTag         string             `json:"readerTag,omitempty"`
	ReaderResets      int                `json:"readerResets"`
	Clients           []ClientInfo       `json:"clients"`
	Playlists         []playlist.Summary `json:"playlists"`
	ServerSeq         uint64             `json:"serverSeq"`
	Subscriptions     int                `json:"subscriptions"`
	PendingDeliveries int                `json:"pendingDeliveries"`
}

// Status returns the full device status.
func (m *Manager) Status() Status {
	st := Status{
		Device:            m.stateMgr.BuildInfo(),
		Playback:          m.playback.Snapshot(),
		ReaderResets:      m.poller.Resets(),
		Playlists:         m.lookup.Summaries(),
		ServerSeq:         m.broadcast.ServerSeq(),
		Subscriptions:     m.broadcast.SubscriptionCount(),
		PendingDeliveries: m.broadcast.PendingDeliveries(),
	}
	if uid, ok := m.poller.Current(); ok {
		st.ReaderTag = uid
	}
	for _, c := range m.clients.All() {
		st.Clients = append(st.Clients, newClientInfo(c))
	}
	return st
}

// UpdateGauges refreshes gauge metrics before a scrape.
func (m *Manager) UpdateGauges() {
	m.metrics.SetConnectedClients(m.clients.Count())
	m.metrics.SetPendingDeliveries(m.broadcast.PendingDeliveries())
}

// roomSnapshot builds the full-state payload sent to a client joining room.
func (m *Manager) roomSnapshot(room string) any {
	view := StateView{
		Playback: m.playback.Snapshot(),
		Device:   m.stateMgr.GetPhase(),
	}
	id, err := broadcast.ParseRoom(room)
	if err != nil || id == "" {
		view.Playlists = m.lookup.Summaries()
		return view
	}
	if pl, ok := m.lookup.Playlist(id); ok {
		view.Playlist = newPlaylistView(pl)
	}
	return view
}
