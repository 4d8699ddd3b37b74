package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/playlist"
)

// TrackSource fetches playlists from an external catalog.
type TrackSource interface {
	GetPlaylist(ctx context.Context, playlistURL string) (*playlist.Descriptor, error)
}

// SpotifyConfig holds the spotify resolver settings.
type SpotifyConfig struct {
	Tags        map[string]string `mapstructure:"tags" validate:"required,min=1,dive,keys,required,endkeys,required"`
	CacheTTLSec int               `mapstructure:"cache_ttl_sec" default:"600" validate:"gte=0"`
}

type cachedPlaylist struct {
	playlist  *playlist.Descriptor
	fetchedAt time.Time
}

// SpotifyResolver resolves tags to Spotify playlists.
type SpotifyResolver struct {
	source TrackSource
	cfg    SpotifyConfig
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPlaylist // keyed by playlist URL
}

// NewSpotifyResolver creates a spotify resolver from settings.
func NewSpotifyResolver(source TrackSource, settings map[string]any) (*SpotifyResolver, error) {
	if source == nil {
		return nil, errors.New("spotify client is required")
	}

	var cfg SpotifyConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &SpotifyResolver{
		source: source,
		cfg:    cfg,
		now:    time.Now,
		cache:  make(map[string]cachedPlaylist),
	}, nil
}

// Resolve implements Resolver. Fetched playlists are cached for the configured TTL.
func (r *SpotifyResolver) Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error) {
	url, ok := r.cfg.Tags[uid]
	if !ok {
		return nil, ErrUnknownTag
	}

	r.mu.RLock()
	cached, hit := r.cache[url]
	r.mu.RUnlock()
	ttl := time.Duration(r.cfg.CacheTTLSec) * time.Second
	if hit && r.now().Sub(cached.fetchedAt) < ttl {
		return cached.playlist, nil
	}

	pl, err := r.source.GetPlaylist(ctx, url)
	if err != nil {
		if hit {
			zlog.Warn().Msgf("lookup: spotify fetch failed, using cached playlist: url=%s error=%v", url, err)
			return cached.playlist, nil
		}
		return nil, errors.Wrapf(err, "failed to fetch playlist %s", url)
	}

	r.mu.Lock()
	r.cache[url] = cachedPlaylist{playlist: pl, fetchedAt: r.now()}
	r.mu.Unlock()
	zlog.Debug().Msgf("lookup: spotify playlist fetched: url=%s id=%s tracks=%d", url, pl.ID, pl.Len())
	return pl, nil
}

// Name implements Resolver.
func (r *SpotifyResolver) Name() string {
	return "spotify"
}

// Summaries implements Cataloger. Only playlists fetched so far are listed.
func (r *SpotifyResolver) Summaries() []playlist.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID := make(map[string]*playlist.Descriptor, len(r.cache))
	for _, c := range r.cache {
		byID[c.playlist.ID] = c.playlist
	}
	return summarize(byID)
}

// Playlist implements Cataloger.
func (r *SpotifyResolver) Playlist(id string) (*playlist.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cache {
		if c.playlist.ID == id {
			return c.playlist, true
		}
	}
	return nil, false
}
