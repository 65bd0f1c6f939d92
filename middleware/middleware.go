// Package middleware implements the onion model middleware chain wrapping
// RPC execution: logging, timeouts, rate limiting, and retries around the
// handler that actually runs a procedure.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, req) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package middleware

import (
	"context"

	"gobus/message"
)

// HandlerFunc is the function signature for request handlers. Both the
// procedure handler and middleware-wrapped handlers share this signature.
// A nil return means the request must be dropped with no result sent —
// used for outer cancellation and similar cases where there is nothing
// safe to report back to the caller.
type HandlerFunc func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built from
// right to left so the first middleware in the list is the outermost layer.
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(businessHandler)
//	// Execution: Logging → Timeout → RateLimit → businessHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
