package lookup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tagbox/internal/domain/playlist"
	"github.com/osa030/tagbox/internal/domain/track"
)

// LibraryConfig holds the library resolver settings.
type LibraryConfig struct {
	Path       string `mapstructure:"path" validate:"required"`
	Watch      bool   `mapstructure:"watch" default:"true"`
	DebounceMs int    `mapstructure:"debounce_ms" default:"250" validate:"gte=0"`
}

type libraryFile struct {
	Playlists []libraryPlaylist `yaml:"playlists" validate:"dive"`
	Tags      map[string]string `yaml:"tags" validate:"dive,keys,required,endkeys,required"`
}

type libraryPlaylist struct {
	ID     string         `yaml:"id" validate:"required"`
	Name   string         `yaml:"name"`
	Tracks []libraryTrack `yaml:"tracks" validate:"dive"`
}

type libraryTrack struct {
	ID       string        `yaml:"id" validate:"required"`
	Name     string        `yaml:"name"`
	Artists  []string      `yaml:"artists"`
	Album    string        `yaml:"album"`
	Path     string        `yaml:"path" validate:"required"`
	Duration time.Duration `yaml:"duration" validate:"gt=0"`
}

// Library resolves tags from a YAML library file.
type Library struct {
	cfg LibraryConfig

	mu        sync.RWMutex
	tags      map[string]string
	playlists map[string]*playlist.Descriptor
}

// NewLibrary creates a library resolver from settings and loads the file.
func NewLibrary(settings map[string]any) (*Library, error) {
	var cfg LibraryConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return OpenLibrary(cfg)
}

// OpenLibrary loads a library file.
func OpenLibrary(cfg LibraryConfig) (*Library, error) {
	if abs, err := filepath.Abs(cfg.Path); err == nil {
		cfg.Path = abs
	}
	l := &Library{cfg: cfg}
	if _, err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the library file and reports what changed.
// On error the previous content is kept.
func (l *Library) Reload() (Change, error) {
	tags, playlists, err := readLibrary(l.cfg.Path)
	if err != nil {
		return Change{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	change := diff(l.tags, l.playlists, tags, playlists)
	l.tags = tags
	l.playlists = playlists
	zlog.Debug().Msgf("lookup: library loaded: path=%s playlists=%d tags=%d", l.cfg.Path, len(playlists), len(tags))
	return change, nil
}

func readLibrary(path string) (map[string]string, map[string]*playlist.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read library file")
	}

	var f libraryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse library file")
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, nil, errors.Wrap(err, "library validation failed")
	}

	playlists := make(map[string]*playlist.Descriptor, len(f.Playlists))
	for _, p := range f.Playlists {
		if _, dup := playlists[p.ID]; dup {
			return nil, nil, errors.Newf("duplicate playlist id %q", p.ID)
		}
		d := &playlist.Descriptor{ID: p.ID, Name: p.Name, Tracks: make([]track.Track, len(p.Tracks))}
		for i, t := range p.Tracks {
			d.Tracks[i] = track.Track{
				ID:       t.ID,
				Name:     t.Name,
				Artists:  t.Artists,
				Album:    t.Album,
				Path:     t.Path,
				Duration: t.Duration,
			}
		}
		playlists[p.ID] = d
	}

	tags := make(map[string]string, len(f.Tags))
	for uid, id := range f.Tags {
		if _, ok := playlists[id]; !ok {
			return nil, nil, errors.Newf("tag %q refers to unknown playlist %q", uid, id)
		}
		tags[uid] = id
	}
	return tags, playlists, nil
}

func diff(oldTags map[string]string, oldPlaylists map[string]*playlist.Descriptor,
	newTags map[string]string, newPlaylists map[string]*playlist.Descriptor) Change {
	var change Change

	for id, pl := range newPlaylists {
		if old, ok := oldPlaylists[id]; !ok || !old.Equal(pl) {
			change.Playlists = append(change.Playlists, id)
		}
	}
	for id := range oldPlaylists {
		if _, ok := newPlaylists[id]; !ok {
			change.Playlists = append(change.Playlists, id)
		}
	}
	sort.Strings(change.Playlists)

	if len(oldTags) != len(newTags) {
		change.TagsChanged = true
	} else {
		for uid, id := range newTags {
			if oldTags[uid] != id {
				change.TagsChanged = true
				break
			}
		}
	}
	return change
}

// Resolve implements Resolver.
func (l *Library) Resolve(ctx context.Context, uid string) (*playlist.Descriptor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.tags[uid]
	if !ok {
		return nil, ErrUnknownTag
	}
	return l.playlists[id], nil
}

// Name implements Resolver.
func (l *Library) Name() string {
	return "library"
}

// Summaries implements Cataloger.
func (l *Library) Summaries() []playlist.Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return summarize(l.playlists)
}

// Playlist implements Cataloger.
func (l *Library) Playlist(id string) (*playlist.Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pl, ok := l.playlists[id]
	return pl, ok
}

// Watch reloads the library when its file changes and reports non-empty
// changes. It returns once the watch is established.
func (l *Library) Watch(ctx context.Context, onChange func(Change)) error {
	if !l.cfg.Watch {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	// Watch the directory so editors replacing the file are noticed.
	if err := w.Add(filepath.Dir(l.cfg.Path)); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "failed to watch library directory")
	}

	go l.watchLoop(ctx, w, onChange)
	zlog.Info().Msgf("lookup: watching library: path=%s", l.cfg.Path)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, w *fsnotify.Watcher, onChange func(Change)) {
	defer w.Close()

	debounce := time.Duration(l.cfg.DebounceMs) * time.Millisecond
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != l.cfg.Path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			zlog.Warn().Err(err).Msg("lookup: library watcher error")
		case <-timer.C:
			change, err := l.Reload()
			if err != nil {
				zlog.Error().Err(err).Msgf("lookup: library reload failed, keeping previous content: path=%s", l.cfg.Path)
				continue
			}
			if change.Empty() {
				continue
			}
			zlog.Info().Msgf("lookup: library changed: playlists=%v tags_changed=%t", change.Playlists, change.TagsChanged)
			onChange(change)
		}
	}
}
