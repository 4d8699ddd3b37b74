// Package filter provides the guard chain for client operations.
package filter

import (
	"context"

	"github.com/osa030/tagbox/internal/app/playback"
	"github.com/osa030/tagbox/internal/domain/observer"
)

// Origin tells where an operation came from.
type Origin int

const (
	// OriginClient is an observer client connected over websocket.
	OriginClient Origin = iota
	// OriginOperator is the control RPC used by operator tools.
	OriginOperator
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginClient:
		return "client"
	case OriginOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Request represents an operation to be checked.
type Request struct {
	Command string
	Args    map[string]any
	Origin  Origin
}

// Result represents the result of a guard check.
type Result struct {
	Accepted bool
	Code     string // e.g., "unknown_command", "invalid_args", "no_playlist"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for operation guards.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to operations of the given origin.
	AppliesTo(origin Origin) bool
	// Check performs the filter check. client is nil for operator requests.
	Check(ctx context.Context, req Request, snap playback.Snapshot, client *observer.Session) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
