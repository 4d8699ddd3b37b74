package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_DurationMs(t *testing.T) {
	tr := Track{Duration: 3*time.Minute + 250*time.Millisecond}
	assert.Equal(t, int64(180250), tr.DurationMs())
}

func TestTrack_ArtistLine(t *testing.T) {
	tests := []struct {
		name     string
		artists  []string
		expected string
	}{
		{name: "no artists", artists: nil, expected: ""},
		{name: "single artist", artists: []string{"A"}, expected: "A"},
		{name: "multiple artists", artists: []string{"A", "B", "C"}, expected: "A, B, C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Track{Artists: tt.artists}
			assert.Equal(t, tt.expected, tr.ArtistLine())
		})
	}
}

func TestTrack_IsRemote(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected bool
	}{
		{name: "local file", track: Track{Path: "/music/a.mp3"}, expected: false},
		{name: "spotify only", track: Track{URL: "https://open.spotify.com/track/x"}, expected: true},
		{name: "local with external url", track: Track{Path: "/music/a.mp3", URL: "https://open.spotify.com/track/x"}, expected: false},
		{name: "empty", track: Track{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.IsRemote())
		})
	}
}
