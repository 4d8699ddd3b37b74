package filter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// OperationRateConfig represents the configuration for OperationRateFilter.
type OperationRateConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms" default:"200" validate:"gte=0,lte=60000"`
}

// OperationRateFilter rejects operations a client sends faster than the minimum interval.
type OperationRateFilter struct {
	config *OperationRateConfig
	now    func() time.Time
}

// NewOperationRateFilter creates a new operation rate filter.
func NewOperationRateFilter() *OperationRateFilter {
	return &OperationRateFilter{now: time.Now}
}

func (f *OperationRateFilter) Name() string {
	return "operation_rate_filter"
}

func (f *OperationRateFilter) Description() string {
	return "Rejects operations sent faster than the configured interval"
}

func (f *OperationRateFilter) ReturnCodes() []string {
	return []string{"rate_limited"}
}

func (f *OperationRateFilter) ValidateConfig(settings map[string]any) error {
	var config OperationRateConfig

	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("operation rate filter config: %+v", config)
	return nil
}

func (f *OperationRateFilter) AppliesTo(origin Origin) bool {
	// Operator tools are trusted
	return origin == OriginClient
}

func (f *OperationRateFilter) Check(ctx context.Context, req Request, snap playback.Snapshot, client *observer.Session) Result {
	if f.config == nil || client == nil || client.LastOperationAt == nil {
		return Accept()
	}
	interval := time.Duration(f.config.MinIntervalMs) * time.Millisecond
	if f.now().Sub(*client.LastOperationAt) < interval {
		return Reject("rate_limited")
	}
	return Accept()
}

func init() {
	Register("operation_rate_filter", func() Filter {
		return NewOperationRateFilter()
	})
}
