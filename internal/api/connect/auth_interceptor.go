package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/tagbox/internal/infra/config"
)

const (
	// OperatorTokenHeader is the header name for the operator token.
	OperatorTokenHeader = "X-Operator-Token"
)

var errInvalidToken = errors.New("invalid operator token")

// NewOperatorAuthInterceptor creates an interceptor that validates the
// operator token on every control call. No token configured means open access.
func NewOperatorAuthInterceptor(cfg *config.Config) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if cfg.Server.OperatorToken == "" {
				return next(ctx, req)
			}
			if req.Header().Get(OperatorTokenHeader) != cfg.Server.OperatorToken {
				return nil, connect.NewError(connect.CodeUnauthenticated, errInvalidToken)
			}
			return next(ctx, req)
		}
	}
}

// newTokenInterceptor attaches the operator token to outgoing calls.
func newTokenInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token != "" {
				req.Header().Set(OperatorTokenHeader, token)
			}
			return next(ctx, req)
		}
	}
}
