package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"gobus/message"
)

// RateLimitMiddleware throttles RPC execution with a token bucket: tokens
// refill at r per second up to burst, and a request with no token available
// is rejected rather than queued.
//
// The limiter is created once in the outer closure, shared across every
// request through the returned Middleware — creating it per-request would
// hand every call a fresh full bucket and defeat the limit entirely.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			if !limiter.Allow() {
				return message.NewErrorResult(req.ID, "rate limit exceeded", "")
			}
			return next(ctx, req)
		}
	}
}
