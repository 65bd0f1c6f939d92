package middleware

import (
	"context"
	"time"

	"gobus/message"
)

// TimeOutMiddleware enforces a maximum duration for a single RPC execution.
// If the handler doesn't complete within the timeout, it returns an error
// result immediately; the handler goroutine itself is not cancelled unless
// it observes ctx.Done() internally.
//
// ctx.Done() firing doesn't always mean this call's own timeout elapsed —
// it also fires when the caller's ctx was itself cancelled (a shutdown
// tearing down the shared consume-loop context mid-request). That case
// isn't a timeout of this call at all, so it must not produce a
// ResultMessage: returning one would hand the caller a fabricated
// "request timed out" answer for a request that never actually finished.
// A nil return tells the caller to drop the request with no result.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			parent := ctx
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.ResultMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case res := <-done:
				return res
			case <-ctx.Done():
				if parent.Err() != nil {
					return nil
				}
				return message.NewErrorResult(req.ID, "request timed out", "")
			}
		}
	}
}
