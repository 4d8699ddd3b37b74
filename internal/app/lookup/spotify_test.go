package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/domain/playlist"
)

type fakeSource struct {
	playlists map[string]*playlist.Descriptor
	err       error
	calls     int
}

func (f *fakeSource) GetPlaylist(ctx context.Context, url string) (*playlist.Descriptor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	pl, ok := f.playlists[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return pl, nil
}

func newTestSpotifyResolver(t *testing.T, src *fakeSource) (*SpotifyResolver, *time.Time) {
	t.Helper()
	r, err := NewSpotifyResolver(src, map[string]any{
		"tags": map[string]any{
			"04a1": "spotify:playlist:aaa",
			"04b2": "spotify:playlist:missing",
		},
		"cache_ttl_sec": 60,
	})
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestSpotifyResolver_Resolve(t *testing.T) {
	pl := testPlaylist("spotify:aaa", 3)
	src := &fakeSource{playlists: map[string]*playlist.Descriptor{"spotify:playlist:aaa": pl}}
	r, now := newTestSpotifyResolver(t, src)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "04a1")
	require.NoError(t, err)
	assert.Equal(t, "spotify:aaa", got.ID)
	assert.Equal(t, 1, src.calls)

	// Served from cache
	_, err = r.Resolve(ctx, "04a1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// Expired
	*now = now.Add(61 * time.Second)
	_, err = r.Resolve(ctx, "04a1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	// Expired and failing falls back to the cached copy
	*now = now.Add(61 * time.Second)
	src.err = errors.New("503 Service Unavailable")
	got, err = r.Resolve(ctx, "04a1")
	require.NoError(t, err)
	assert.Equal(t, "spotify:aaa", got.ID)

	_, err = r.Resolve(ctx, "ffff")
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = r.Resolve(ctx, "04b2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownTag)
}

func TestSpotifyResolver_Catalog(t *testing.T) {
	pl := testPlaylist("spotify:aaa", 2)
	src := &fakeSource{playlists: map[string]*playlist.Descriptor{"spotify:playlist:aaa": pl}}
	r, _ := newTestSpotifyResolver(t, src)

	assert.Empty(t, r.Summaries())

	_, err := r.Resolve(context.Background(), "04a1")
	require.NoError(t, err)

	sums := r.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, "spotify:aaa", sums[0].ID)

	got, ok := r.Playlist("spotify:aaa")
	require.True(t, ok)
	assert.Same(t, pl, got)
}

func TestNewSpotifyResolver_Settings(t *testing.T) {
	src := &fakeSource{}

	_, err := NewSpotifyResolver(src, map[string]any{})
	require.Error(t, err)

	_, err = NewSpotifyResolver(nil, map[string]any{"tags": map[string]any{"a": "b"}})
	require.Error(t, err)

	r, err := NewSpotifyResolver(src, map[string]any{"tags": map[string]any{"a": "b"}})
	require.NoError(t, err)
	assert.Equal(t, 600, r.cfg.CacheTTLSec)
	assert.Equal(t, "spotify", r.Name())
}
