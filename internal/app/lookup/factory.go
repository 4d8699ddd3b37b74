package lookup

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/infra/config"
)

// NewChainFromConfig creates a resolver chain from configuration.
// source may be nil when no spotify resolver is configured.
func NewChainFromConfig(cfg *config.Config, source TrackSource) (*Chain, error) {
	if len(cfg.Library.Resolvers) == 0 {
		return nil, errors.New("no library resolvers configured")
	}

	var resolvers []ResolverWithMetadata

	for i, rcfg := range cfg.Library.Resolvers {
		var resolver Resolver
		var err error
		zlog.Debug().Msgf("creating resolver: index=%d type=%s settings=%+v", i+1, rcfg.Type, rcfg.Settings)
		switch rcfg.Type {
		case "library":
			resolver, err = NewLibrary(rcfg.Settings)

		case "spotify":
			resolver, err = NewSpotifyResolver(source, rcfg.Settings)

		default:
			return nil, errors.Newf("unsupported resolver type: %s (resolver index %d)", rcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create resolver (index %d, type %s)", i, rcfg.Type)
		}

		displayName := rcfg.DisplayName
		if displayName == "" {
			displayName = rcfg.Type
		}
		resolvers = append(resolvers, ResolverWithMetadata{
			Resolver:    resolver,
			DisplayName: displayName,
		})

		zlog.Info().Msgf("registered resolver: index=%d type=%s display_name=%s", i+1, rcfg.Type, displayName)
	}

	return NewChain(resolvers), nil
}
