package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gobus/blog"
	"gobus/message"
)

// LoggingMiddleware records the canonical procedure name, duration, and any
// error for each RPC execution.
func LoggingMiddleware(logger *blog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			start := time.Now()

			res := next(ctx, req)

			duration := time.Since(start)
			switch {
			case res == nil:
				logger.Debug("rpc call dropped",
					zap.String("canonical_name", req.CanonicalName()),
					zap.Duration("duration", duration),
				)
			case res.Error:
				logger.Warn("rpc call failed",
					zap.String("canonical_name", req.CanonicalName()),
					zap.Duration("duration", duration),
					zap.String("trace", res.Trace),
				)
			default:
				logger.Debug("rpc call completed",
					zap.String("canonical_name", req.CanonicalName()),
					zap.Duration("duration", duration),
				)
			}
			return res
		}
	}
}
