package registry

import (
	"context"
	"testing"
	"time"
)

func TestDestination(t *testing.T) {
	direct := ServiceInstance{Queue: "calculator"}
	if ex, key := direct.Destination(); ex != "" || key != "calculator" {
		t.Fatalf("direct destination = %q/%q", ex, key)
	}
	routed := ServiceInstance{Queue: "calculator", Exchange: "rpc", RoutingKey: "calc"}
	if ex, key := routed.Destination(); ex != "rpc" || key != "calc" {
		t.Fatalf("routed destination = %q/%q", ex, key)
	}
}

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Register(ctx, "svc", ServiceInstance{Queue: "q"}, 10); err == nil {
		t.Fatal("expect error for instance without id")
	}
	for _, id := range []string{"b", "a"} {
		if err := reg.Register(ctx, "svc", ServiceInstance{ID: id, Queue: "q-" + id}, 10); err != nil {
			t.Fatal(err)
		}
	}
	instances, _ := reg.Discover(ctx, "svc")
	if len(instances) != 2 || instances[0].ID != "a" {
		t.Fatalf("unexpected instances %+v", instances)
	}

	if err := reg.Deregister(ctx, "svc", "a"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Deregister(ctx, "svc", "a"); err == nil {
		t.Fatal("expect error deregistering twice")
	}
	instances, _ = reg.Discover(ctx, "svc")
	if len(instances) != 1 || instances[0].ID != "b" {
		t.Fatalf("unexpected instances %+v", instances)
	}
}

func TestMemoryRegistryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "svc")
	reg.Register(context.Background(), "svc", ServiceInstance{ID: "a"}, 10)
	reg.Register(context.Background(), "svc", ServiceInstance{ID: "b"}, 10)

	select {
	case instances := <-updates:
		if len(instances) != 2 {
			t.Fatalf("expect the latest list, got %+v", instances)
		}
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("expect closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch not closed")
	}
}
