package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"sros-rpc/message"
)

// ErrRateLimited is returned when the token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware limits requests with a token bucket of r tokens per
// second and the given burst. Requests over the limit fail immediately
// rather than queue, so a caller never sends a stale command late.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
