package middleware

import (
	"context"
	"time"

	"mq-rpc/message"
)

// TimeOutMiddleware answers with a CallTimeout error when next does not
// finish within timeout. The handler keeps running with a cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.InvokeReply, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return message.ErrorReply(message.Errorf(message.KindCallTimeout,
					"%s did not finish within %v", req.Method, timeout))
			}
		}
	}
}
