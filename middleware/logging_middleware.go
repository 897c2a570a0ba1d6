package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mq-rpc/message"
)

// LoggingMiddleware logs the method, duration and outcome of every dispatch.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dispatch")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
			start := time.Now()
			reply := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if req.MethodID != nil {
				fields = append(fields, zap.Int("method_id", *req.MethodID))
			}
			if reply != nil && reply.Error != nil {
				logger.Warn("call failed", append(fields,
					zap.String("kind", string(reply.Error.Kind)),
					zap.String("error", reply.Error.Message))...)
				return reply
			}
			logger.Debug("call served", fields...)
			return reply
		}
	}
}
