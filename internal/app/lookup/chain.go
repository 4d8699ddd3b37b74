package lookup

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/playlist"
)

// ResolverWithMetadata wraps a resolver with its metadata.
type ResolverWithMetadata struct {
	Resolver    Resolver
	DisplayName string
}

// Chain tries resolvers in order until one knows the tag.
type Chain struct {
	resolvers []ResolverWithMetadata
}

// NewChain creates a resolver chain.
func NewChain(resolvers []ResolverWithMetadata) *Chain {
	return &Chain{resolvers: resolvers}
}

// Resolve implements Resolver. A resolver failing for another reason than
// an unknown tag is skipped.
func (c *Chain) Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error) {
	var lastErr error
	for i, rm := range c.resolvers {
		pl, err := rm.Resolver.Resolve(ctx, uid)
		if err == nil {
			zlog.Debug().Msgf("lookup: tag resolved: uid=%s resolver=%s playlist=%s", uid, rm.DisplayName, pl.ID)
			return pl, nil
		}
		if errors.Is(err, ErrUnknownTag) {
			continue
		}
		zlog.Warn().Msgf("lookup: resolver failed, trying next: index=%d resolver=%s error=%v", i+1, rm.DisplayName, err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, errors.Wrapf(lastErr, "no resolver could resolve tag %s", uid)
	}
	return nil, ErrUnknownTag
}

// Name implements Resolver.
func (c *Chain) Name() string {
	return "chain"
}

// Summaries lists the playlists of every cataloging resolver.
func (c *Chain) Summaries() []playlist.Summary {
	seen := make(map[string]bool)
	var out []playlist.Summary
	for _, rm := range c.resolvers {
		cat, ok := rm.Resolver.(Cataloger)
		if !ok {
			continue
		}
		for _, s := range cat.Summaries() {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Playlist returns a playlist known to any cataloging resolver.
func (c *Chain) Playlist(id string) (*playlist.Descriptor, bool) {
	for _, rm := range c.resolvers {
		if cat, ok := rm.Resolver.(Cataloger); ok {
			if pl, ok := cat.Playlist(id); ok {
				return pl, true
			}
		}
	}
	return nil, false
}

// Watch starts every watching resolver.
func (c *Chain) Watch(ctx context.Context, onChange func(Change)) error {
	for _, rm := range c.resolvers {
		w, ok := rm.Resolver.(Watcher)
		if !ok {
			continue
		}
		if err := w.Watch(ctx, onChange); err != nil {
			return errors.Wrapf(err, "failed to watch resolver %s", rm.DisplayName)
		}
	}
	return nil
}
