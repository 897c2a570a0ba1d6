package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mq-rpc/message"
)

// RateLimitMiddleware rejects requests beyond r per second, with bursts of up
// to burst, using a token bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
			if !limiter.Allow() {
				return message.ErrorReply(message.Errorf(message.KindRateLimited, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
