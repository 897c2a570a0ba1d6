package sample

import (
	"context"
	"testing"
	"time"

	"mq-rpc/client"
	"mq-rpc/proxy"
	"mq-rpc/server"
	"mq-rpc/transport"
)

func benchCalculator(b *testing.B, shared bool, workers int) *CalculatorClient {
	broker := transport.NewMemoryBroker()
	s, err := server.NewServer(broker, server.Config{Queue: "calculator", Workers: workers})
	if err != nil {
		b.Fatal(err)
	}
	if err := s.Register((*Calculator)(nil), NewCalculator()); err != nil {
		b.Fatal(err)
	}
	if err := s.Start(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { s.Shutdown(3 * time.Second) })

	binding, err := proxy.Bind(broker, (*Calculator)(nil), client.Config{
		RoutingKey:       "calculator",
		Timeout:          10 * time.Second,
		SharedReplyQueue: shared,
	}, 0)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { binding.Close() })
	return NewCalculatorClient(binding.Proxy)
}

// one caller, one reply queue
func BenchmarkSerialCallShared(b *testing.B) {
	calc := benchCalculator(b, true, 1)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := calc.Add(ctx, i, 1).Get(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// one caller, a reply queue per call
func BenchmarkSerialCallPerCall(b *testing.B) {
	calc := benchCalculator(b, false, 1)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := calc.Add(ctx, i, 1).Get(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// many callers multiplexed over one engine
func BenchmarkConcurrentCall(b *testing.B) {
	calc := benchCalculator(b, true, 8)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := calc.Add(ctx, 1, 2).Get(ctx); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
