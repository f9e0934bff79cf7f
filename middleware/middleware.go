package middleware

import (
	"context"

	"sros-rpc/message"
)

// HandlerFunc sends one request and returns its reply.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) runs A first:
// A.before → B.before → C.before → h → C.after → B.after → A.after
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
