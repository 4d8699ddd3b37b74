// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/osa030/tagbox/internal/domain/track"
)

// Descriptor describes a playlist resolved from a tag.
type Descriptor struct {
	ID     string        // Playlist ID in the library
	Name   string        // Playlist name
	URL    string        // Remote source URL (Spotify), empty for local playlists
	Tracks []track.Track // Ordered tracks
}

// Summary is the lightweight view of a playlist sent to observers.
type Summary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TrackCount      int    `json:"trackCount"`
	TotalDurationMs int64  `json:"totalDurationMs"`
}

// TrackIDs returns all track IDs in the playlist.
func (p *Descriptor) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the total duration of all tracks.
func (p *Descriptor) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// Len returns the number of tracks.
func (p *Descriptor) Len() int {
	return len(p.Tracks)
}

// IsEmpty reports whether the playlist has no tracks.
func (p *Descriptor) IsEmpty() bool {
	return len(p.Tracks) == 0
}

// TrackAt returns the track at index i.
func (p *Descriptor) TrackAt(i int) (track.Track, bool) {
	if i < 0 || i >= len(p.Tracks) {
		return track.Track{}, false
	}
	return p.Tracks[i], true
}

// Summary returns the observer view of the playlist.
func (p *Descriptor) Summary() Summary {
	return Summary{
		ID:              p.ID,
		Name:            p.Name,
		TrackCount:      len(p.Tracks),
		TotalDurationMs: p.TotalDuration().Milliseconds(),
	}
}

// Equal reports whether two descriptors carry the same content.
func (p *Descriptor) Equal(o *Descriptor) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.ID != o.ID || p.Name != o.Name || p.URL != o.URL || len(p.Tracks) != len(o.Tracks) {
		return false
	}
	for i := range p.Tracks {
		a, b := p.Tracks[i], o.Tracks[i]
		if a.ID != b.ID || a.Path != b.Path || a.Duration != b.Duration || a.Name != b.Name {
			return false
		}
	}
	return true
}
