package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sros-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Reply, error) {
			start := time.Now()
			reply, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("operation", req.Name()),
				zap.Bool("huge_tree", req.HugeTree),
				zap.Duration("duration", time.Since(start)),
			}
			if reply != nil {
				fields = append(fields, zap.String("message_id", reply.MessageID))
			}
			if err != nil {
				logger.Warn("rpc failed", append(fields, zap.Error(err))...)
				return reply, err
			}
			logger.Info("rpc", fields...)
			return reply, nil
		}
	}
}
