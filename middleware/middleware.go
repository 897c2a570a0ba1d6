// Package middleware wraps the server's procedure dispatch.
//
// Middlewares see every request that names a procedure. The describe
// handshake is answered before the chain runs.
package middleware

import (
	"context"

	"mq-rpc/message"
)

// HandlerFunc dispatches one decoded request and returns its reply.
type HandlerFunc func(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one runs outermost:
// Chain(A, B, C)(h) is A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
