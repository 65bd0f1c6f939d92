package middleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"gobus/blog"
	"gobus/message"
)

// RetryMiddleware retries a failed call with exponential backoff, but only
// for errors that look transient (timeout, connection refused); any other
// error result is returned immediately.
func RetryMiddleware(logger *blog.Logger, maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			res := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if res == nil || !res.Error {
					return res
				}
				desc, _ := res.Result.(string)
				if !strings.Contains(desc, "timeout") && !strings.Contains(desc, "connection refused") {
					return res
				}
				logger.Warn("retrying rpc call",
					zap.String("canonical_name", req.CanonicalName()),
					zap.Int("attempt", i+1),
					zap.String("reason", desc),
				)
				time.Sleep(baseDelay * time.Duration(uint(1)<<uint(i)))
				res = next(ctx, req)
			}
			return res
		}
	}
}
