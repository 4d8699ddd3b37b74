// Package lookup resolves tag uids to playlists.
package lookup

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tagbox/internal/domain/playlist"
)

// ErrUnknownTag is returned when a tag is not associated with any playlist.
var ErrUnknownTag = errors.New("unknown tag")

// Resolver resolves a tag uid to a playlist.
type Resolver interface {
	Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error)
	// Name returns the resolver type name (used in config).
	Name() string
}

// Cataloger lists the playlists a resolver knows about.
type Cataloger interface {
	Summaries() []playlist.Summary
	Playlist(id string) (*playlist.Descriptor, bool)
}

// Change describes a change of the playlist collection.
type Change struct {
	Playlists   []string // IDs of added, removed or modified playlists
	TagsChanged bool     // Tag assignments changed
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Playlists) == 0 && !c.TagsChanged
}

// Watcher reports collection changes.
type Watcher interface {
	Watch(ctx context.Context, onChange func(Change)) error
}

// Static resolves from a fixed map. Useful for tests and fixed setups.
type Static struct {
	tags      map[string]string
	playlists map[string]*playlist.Descriptor
}

// NewStatic creates a static resolver from tag uid to playlist.
func NewStatic(tags map[string]*playlist.Descriptor) *Static {
	s := &Static{
		tags:      make(map[string]string, len(tags)),
		playlists: make(map[string]*playlist.Descriptor),
	}
	for uid, pl := range tags {
		s.tags[uid] = pl.ID
		s.playlists[pl.ID] = pl
	}
	return s
}

// Resolve implements Resolver.
func (s *Static) Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error) {
	id, ok := s.tags[uid]
	if !ok {
		return nil, ErrUnknownTag
	}
	return s.playlists[id], nil
}

// Name implements Resolver.
func (s *Static) Name() string {
	return "static"
}

// Summaries implements Cataloger.
func (s *Static) Summaries() []playlist.Summary {
	return summarize(s.playlists)
}

// Playlist implements Cataloger.
func (s *Static) Playlist(id string) (*playlist.Descriptor, bool) {
	pl, ok := s.playlists[id]
	return pl, ok
}

func summarize(playlists map[string]*playlist.Descriptor) []playlist.Summary {
	out := make([]playlist.Summary, 0, len(playlists))
	for _, pl := range playlists {
		out = append(out, pl.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
