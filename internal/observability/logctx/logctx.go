// Package logctx carries the request-scoped logger through a context. The HTTP
// and reconciler middlewares install it; components read it with FromOr so
// their events inherit request_id, conversation_id and trace ids.
package logctx

import (
	"context"

	"github.com/wulinbill/loyverse-api/internal/observability"
)

type key struct{}

// With returns ctx carrying logger. A nil logger leaves ctx unchanged.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, key{}, logger)
}

// From returns the logger installed on ctx, or nil.
func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(key{}).(observability.Logger)
	return l
}

// FromOr prefers the request logger over the component logger, and never
// returns nil.
func FromOr(ctx context.Context, component observability.Logger) observability.Logger {
	switch l := From(ctx); {
	case l != nil:
		return l
	case component != nil:
		return component
	default:
		return observability.NopLogger()
	}
}
