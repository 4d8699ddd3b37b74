package filter

import (
	"context"

	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// transportCommands need a loaded playlist.
var transportCommands = map[playback.CommandKind]bool{
	playback.CmdPlay:     true,
	playback.CmdResume:   true,
	playback.CmdToggle:   true,
	playback.CmdNext:     true,
	playback.CmdPrevious: true,
	playback.CmdSeek:     true,
}

// PlaylistLoadedFilter rejects transport commands while no playlist is loaded.
type PlaylistLoadedFilter struct{}

func (f *PlaylistLoadedFilter) Name() string {
	return "playlist_loaded_filter"
}

func (f *PlaylistLoadedFilter) Description() string {
	return "Rejects transport commands when no playlist is loaded"
}

func (f *PlaylistLoadedFilter) ReturnCodes() []string {
	return []string{"no_playlist"}
}

func (f *PlaylistLoadedFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *PlaylistLoadedFilter) AppliesTo(origin Origin) bool {
	return true
}

func (f *PlaylistLoadedFilter) Check(ctx context.Context, req Request, snap playback.Snapshot, client *observer.Session) Result {
	kind, ok := playback.ParseCommandKind(req.Command)
	if !ok || !transportCommands[kind] {
		return Accept()
	}
	if snap.PlaylistID == "" {
		return Reject("no_playlist")
	}
	return Accept()
}

func init() {
	Register("playlist_loaded_filter", func() Filter {
		return &PlaylistLoadedFilter{}
	})
}
