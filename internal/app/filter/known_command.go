package filter

import (
	"context"

	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// KnownCommandFilter rejects commands the playback engine does not know.
type KnownCommandFilter struct{}

func (f *KnownCommandFilter) Name() string {
	return "known_command_filter"
}

func (f *KnownCommandFilter) Description() string {
	return "Rejects unknown commands"
}

func (f *KnownCommandFilter) ReturnCodes() []string {
	return []string{"unknown_command"}
}

func (f *KnownCommandFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *KnownCommandFilter) AppliesTo(origin Origin) bool {
	return true
}

func (f *KnownCommandFilter) Check(ctx context.Context, req Request, snap playback.Snapshot, client *observer.Session) Result {
	if _, ok := playback.ParseCommandKind(req.Command); !ok {
		return Reject("unknown_command")
	}
	return Accept()
}

func init() {
	Register("known_command_filter", func() Filter {
		return &KnownCommandFilter{}
	})
}
