package spotify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
)

func TestExtractPlaylistID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Localized URL",
			input:    "https://open.spotify.com/intl-ja/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Plain playlist ID with whitespace",
			input:    "  37i9dQZF1DXcBWIGoYBM5M\n",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "URL with multiple query params",
			input:    "https://open.spotify.com/playlist/abc123?si=xyz&utm_source=copy",
			expected: "abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractPlaylistID(tt.input))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "rate limit", err: errors.New("Error 429: rate limit exceeded"), expected: true},
		{name: "server error 503", err: errors.New("503 Service Unavailable"), expected: true},
		{name: "client error 400", err: errors.New("400 Bad Request"), expected: false},
		{name: "not found", err: errors.New("404 not found"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestRetry(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Millisecond}

	t.Run("recovers from transient errors", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("503 Service Unavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			return errors.New("429 rate limit")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			return errors.New("404 not found")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestConvertTrack(t *testing.T) {
	ft := &spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			ID:       "t1",
			Name:     "Song",
			Duration: 183000,
			Artists:  []spotify.SimpleArtist{{Name: "A"}, {Name: "B"}},
		},
		Album: spotify.SimpleAlbum{
			Name:   "Album",
			Images: []spotify.Image{{URL: "https://img/1"}},
		},
	}

	tr := convertTrack(ft)
	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, "Song", tr.Name)
	assert.Equal(t, []string{"A", "B"}, tr.Artists)
	assert.Equal(t, "Album", tr.Album)
	assert.Equal(t, "https://img/1", tr.AlbumArtURL)
	assert.Equal(t, 183*time.Second, tr.Duration)
	assert.Equal(t, "https://open.spotify.com/track/t1", tr.URL)
	assert.True(t, tr.IsRemote())
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{ClientID: "id", ClientSecret: "s", RefreshToken: "r"}.Enabled())
}
