package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mq-rpc/protocol"
)

func recv(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
	return Delivery{}
}

func openChannel(t *testing.T, b Broker) Channel {
	t.Helper()
	ch, err := b.Channel()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestDirectRouting(t *testing.T) {
	b := NewMemoryBroker()
	ch := openChannel(t, b)
	if err := ch.DeclareQueue("calc", false); err != nil {
		t.Fatal(err)
	}
	_, deliveries, err := ch.Consume("calc")
	if err != nil {
		t.Fatal(err)
	}

	props := protocol.RequestProperties("7", "replies")
	if err := ch.Publish(context.Background(), "", "calc", props, []byte(`{"method":"Add"}`)); err != nil {
		t.Fatal(err)
	}
	d := recv(t, deliveries)
	if string(d.Body) != `{"method":"Add"}` {
		t.Fatalf("body = %s", d.Body)
	}
	if d.Properties != props {
		t.Fatalf("properties = %+v, want %+v", d.Properties, props)
	}
	if d.RoutingKey != "calc" || d.ConsumerTag == "" {
		t.Fatalf("unexpected delivery %+v", d)
	}
}

func TestExchangeBinding(t *testing.T) {
	b := NewMemoryBroker()
	ch := openChannel(t, b)
	if err := ch.DeclareQueue("calc", false); err != nil {
		t.Fatal(err)
	}
	if err := ch.BindQueue("calc", "rpc", "calculator"); err != nil {
		t.Fatal(err)
	}
	if err := ch.BindQueue("calc", "", "calculator"); err == nil {
		t.Fatal("binding to the default exchange should fail")
	}
	_, deliveries, err := ch.Consume("calc")
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Publish(context.Background(), "rpc", "calculator", protocol.Properties{}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if d := recv(t, deliveries); d.Exchange != "rpc" {
		t.Fatalf("exchange = %q", d.Exchange)
	}
}

func TestUnroutableIsDropped(t *testing.T) {
	b := NewMemoryBroker()
	ch := openChannel(t, b)
	if err := ch.Publish(context.Background(), "", "nobody", protocol.Properties{}, []byte("x")); err != nil {
		t.Fatalf("publish to a missing queue: %v", err)
	}
	if err := ch.Publish(context.Background(), "rpc", "nobody", protocol.Properties{}, []byte("x")); err != nil {
		t.Fatalf("publish without binding: %v", err)
	}
}

func TestCompetingConsumers(t *testing.T) {
	b := NewMemoryBroker()
	pub := openChannel(t, b)
	if err := pub.DeclareQueue("work", false); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < 2; i++ {
		ch := openChannel(t, b)
		_, deliveries, err := ch.Consume("work")
		if err != nil {
			t.Fatal(err)
		}
		go func() {
			for d := range deliveries {
				mu.Lock()
				seen[string(d.Body)]++
				mu.Unlock()
				wg.Done()
			}
		}()
	}

	for i := 0; i < n; i++ {
		body := []byte{byte('a' + i%26), byte('0' + i/26)}
		if err := pub.Publish(context.Background(), "", "work", protocol.Properties{}, body); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("got %d distinct messages, want %d", len(seen), n)
	}
	for body, count := range seen {
		if count != 1 {
			t.Fatalf("message %q delivered %d times", body, count)
		}
	}
}

func TestReplyQueueAutoDelete(t *testing.T) {
	b := NewMemoryBroker()
	ch := openChannel(t, b)

	name, err := ch.DeclareReplyQueue()
	if err != nil {
		t.Fatal(err)
	}
	if !b.HasQueue(name) {
		t.Fatalf("reply queue %q not declared", name)
	}
	tag, deliveries, err := ch.Consume(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Cancel(tag); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-deliveries; ok {
		t.Fatal("delivery channel should close on cancel")
	}
	if b.HasQueue(name) {
		t.Fatal("reply queue should be deleted with its last consumer")
	}
	if err := ch.Cancel(tag); err == nil {
		t.Fatal("cancelling twice should fail")
	}
}

func TestCancelledReplyQueuesAreForgotten(t *testing.T) {
	b := NewMemoryBroker()
	ch := openChannel(t, b)

	for i := 0; i < 100; i++ {
		name, err := ch.DeclareReplyQueue()
		if err != nil {
			t.Fatal(err)
		}
		tag, _, err := ch.Consume(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := ch.Cancel(tag); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(b.QueueNames()); n != 0 {
		t.Fatalf("expected no live queues, got %d", n)
	}
	mc := ch.(*memChannel)
	mc.mu.Lock()
	n := len(mc.exclusive)
	mc.mu.Unlock()
	if n != 0 {
		t.Fatalf("channel still holds %d deleted reply queues", n)
	}
}

func TestCloseDeletesExclusiveQueues(t *testing.T) {
	b := NewMemoryBroker()
	ch, err := b.Channel()
	if err != nil {
		t.Fatal(err)
	}
	name, err := ch.DeclareReplyQueue()
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if b.HasQueue(name) {
		t.Fatal("exclusive queue outlived its channel")
	}
	if _, ok := <-ch.NotifyClose(); ok {
		t.Fatal("graceful close should not report an error")
	}
	if err := ch.Publish(context.Background(), "", "q", protocol.Properties{}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close: %v", err)
	}
	if err := ch.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: %v", err)
	}
}

func TestFailNotifiesChannels(t *testing.T) {
	b := NewMemoryBroker()
	ch, err := b.Channel()
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.DeclareQueue("calc", false); err != nil {
		t.Fatal(err)
	}
	_, deliveries, err := ch.Consume("calc")
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("connection reset")
	b.Fail(boom)

	select {
	case err := <-ch.NotifyClose():
		if !errors.Is(err, boom) {
			t.Fatalf("notify = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no close notification")
	}
	if _, ok := <-deliveries; ok {
		t.Fatal("consumer should stop on failure")
	}
	if _, err := b.Channel(); err == nil {
		t.Fatal("failed broker handed out a channel")
	}
}
