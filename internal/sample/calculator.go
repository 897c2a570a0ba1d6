package sample

import (
	"context"
	"time"

	"mq-rpc/future"
)

type calculator struct{}

func NewCalculator() Calculator {
	return calculator{}
}

func (calculator) Add(ctx context.Context, a, b int) *future.Future[int] {
	return future.Resolved(a + b)
}

func (calculator) LongOperation(ctx context.Context, millis int) *future.Future[future.Void] {
	return future.Go(func() (future.Void, error) {
		select {
		case <-time.After(time.Duration(millis) * time.Millisecond):
			return future.Void{}, nil
		case <-ctx.Done():
			return future.Void{}, ctx.Err()
		}
	})
}
