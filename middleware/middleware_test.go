package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mq-rpc/message"
)

func echoHandler(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
	return message.ResultReply(json.RawMessage(`"ok"`))
}

func slowHandler(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
	time.Sleep(200 * time.Millisecond)
	return message.ResultReply(json.RawMessage(`"ok"`))
}

func failingHandler(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
	return message.ErrorReply(message.Errorf(message.KindInternalInvocation, "boom"))
}

func addRequest() *message.RabbitMessage {
	id := 0
	return &message.RabbitMessage{Method: "Add", Args: []json.RawMessage{[]byte("1"), []byte("2")}, MethodID: &id}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	reply := LoggingMiddleware(logger)(echoHandler)(context.Background(), addRequest())
	if string(reply.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got %s", reply.Result)
	}
	LoggingMiddleware(logger)(failingHandler)(context.Background(), addRequest())

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expect 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[0].ContextMap()["method"] != "Add" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[1].Level != zap.WarnLevel || entries[1].ContextMap()["kind"] != "InternalInvocationError" {
		t.Fatalf("unexpected entry %+v", entries[1])
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	reply := handler(context.Background(), addRequest())
	if reply.Error != nil {
		t.Fatalf("expect no error, got %v", reply.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	reply := handler(context.Background(), addRequest())
	if reply.Error == nil || reply.Error.Kind != message.KindCallTimeout {
		t.Fatalf("expect timeout error, got %+v", reply)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if reply := handler(context.Background(), addRequest()); reply.Error != nil {
			t.Fatalf("request %d should pass, got error: %v", i, reply.Error)
		}
	}

	reply := handler(context.Background(), addRequest())
	if reply.Error == nil || reply.Error.Kind != message.KindRateLimited {
		t.Fatalf("expect rate limit error, got %+v", reply)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
				order = append(order, name+".before")
				reply := next(ctx, req)
				order = append(order, name+".after")
				return reply
			}
		}
	}

	Chain(mark("A"), mark("B"))(echoHandler)(context.Background(), addRequest())

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("expect %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, order)
		}
	}
}
