package middleware

import (
	"context"
	"time"

	"sros-rpc/message"
)

// TimeOutMiddleware bounds each request by timeout. The request fails with
// context.DeadlineExceeded; the underlying send abandons the pending reply.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				reply *message.Reply
				err   error
			}
			done := make(chan result, 1)
			go func() {
				reply, err := next(ctx, req)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}
