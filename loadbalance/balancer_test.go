package loadbalance

import (
	"fmt"
	"testing"

	"sl4a-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "10.0.0.1:4321", Weight: 10, Version: "1.0"},
	{Addr: "10.0.0.2:4321", Weight: 5, Version: "1.0"},
	{Addr: "10.0.0.3:4321", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for i := 0; i < 2*len(testInstances); i++ {
		instance, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}

		expected := testInstances[i%len(testInstances)].Addr
		if instance.Addr != expected {
			t.Fatalf("pick %d: expect %s, got %s", i, expected, instance.Addr)
		}
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer("k")} {
		if _, err := b.Pick(nil); err != ErrNoInstances {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		instance, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[instance.Addr]++
	}

	// weights are 10:5:10
	ratio := float64(counts["10.0.0.1:4321"]) / float64(counts["10.0.0.2:4321"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomWithoutWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}

	instance, err := b.Pick([]registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if instance.Addr != "a" && instance.Addr != "b" {
		t.Fatalf("unexpected pick %s", instance.Addr)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("")

	first, err := b.PickKey(testInstances, "device-123")
	if err != nil {
		t.Fatal(err)
	}

	// stable for the same key, whatever the order of the instance list
	reversed := []registry.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	second, err := b.PickKey(reversed, "device-123")
	if err != nil {
		t.Fatal(err)
	}
	if first.Addr != second.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", first.Addr, second.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		instance, err := b.PickKey(testInstances, fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		seen[instance.Addr] = true
	}

	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashSurvivesRemoval(t *testing.T) {
	b := NewConsistentHashBalancer("")

	// keys owned by a remaining instance keep their owner when another one leaves
	remaining := testInstances[:2]
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)

		before, err := b.PickKey(testInstances, key)
		if err != nil {
			t.Fatal(err)
		}
		if before.Addr == testInstances[2].Addr {
			continue
		}

		after, err := b.PickKey(remaining, key)
		if err != nil {
			t.Fatal(err)
		}
		if before.Addr != after.Addr {
			t.Fatalf("%s moved from %s to %s", key, before.Addr, after.Addr)
		}
	}
}

func TestNew(t *testing.T) {
	for name, expected := range map[string]string{
		"":               "RoundRobin",
		"round-robin":    "RoundRobin",
		"weightedRandom": "WeightedRandom",
		"consistentHash": "ConsistentHash",
	} {
		b, err := New(name, "session")
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if b.Name() != expected {
			t.Fatalf("%q: expect %s, got %s", name, expected, b.Name())
		}
	}

	if _, err := New("fastest", ""); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}
