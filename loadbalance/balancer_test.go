package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"mq-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{ID: "calc-1", Queue: "calculator", Weight: 10, Version: "1"},
	{ID: "calc-2", Queue: "calculator", Weight: 5, Version: "1"},
	{ID: "calc-3", Queue: "calculator", Weight: 10, Version: "1"},
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":               "RoundRobin",
		"roundrobin":     "RoundRobin",
		"weighted":       "WeightedRandom",
		"consistenthash": "ConsistentHash",
	} {
		b, err := New(name, "client-1")
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Fatalf("New(%q) = %s, want %s", name, b.Name(), want)
		}
	}
	if _, err := New("fastest", ""); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.ID
	}
	if results[0] == results[1] || results[1] == results[2] {
		t.Fatalf("expect distinct picks, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.ID != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.ID)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("k")} {
		if _, err := b.Pick(nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.ID]++
	}

	// Weight ratio is 10:5:10, so calc-1 and calc-3 should be ~2x of calc-2
	ratio := float64(counts["calc-1"]) / float64(counts["calc-2"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio calc-1/calc-2 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick([]registry.ServiceInstance{{ID: "only"}})
	if err != nil || inst.ID != "only" {
		t.Fatalf("Pick = %v, %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("client-1")

	// Same key should always map to the same instance
	inst1, _ := b.Pick(testInstances)
	inst2, _ := b.Pick(testInstances)
	if inst1.ID != inst2.ID {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.ID, inst2.ID)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.PickKey(fmt.Sprintf("key-%d", i))
		seen[inst.ID] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer("client-1")
	first, _ := b.Pick(testInstances)

	var rest []registry.ServiceInstance
	for _, inst := range testInstances {
		if inst.ID != first.ID {
			rest = append(rest, inst)
		}
	}
	next, err := b.Pick(rest)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID == first.ID {
		t.Fatalf("picked removed instance %s", first.ID)
	}
}
