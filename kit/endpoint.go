// Package kit holds the transport-agnostic endpoint shape shared by the
// HTTP and MCP surfaces, plus request-scoped context keys.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation: typed request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each call with its transport, duration and error.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.WarnContext(ctx, "kit: endpoint failed",
					"endpoint", name, "transport", GetTransport(ctx),
					"duration", time.Since(start), "error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "kit: endpoint served",
				"endpoint", name, "transport", GetTransport(ctx),
				"duration", time.Since(start))
			return resp, nil
		}
	}
}
