// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a single playable item of a playlist.
type Track struct {
	ID          string        // Track ID, unique within the library
	Name        string        // Track name
	Artists     []string      // Artist names
	Album       string        // Album name
	AlbumArtURL string        // Album art URL
	Duration    time.Duration // Track duration
	Path        string        // Media location handed to the audio hardware
	URL         string        // External URL (Spotify), empty for local media
}

// DurationMs returns the duration in milliseconds.
func (t *Track) DurationMs() int64 {
	return t.Duration.Milliseconds()
}

// ArtistLine returns the artists joined for display.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// IsRemote reports whether the track is only known through an external catalog.
func (t *Track) IsRemote() bool {
	return t.Path == "" && t.URL != ""
}
