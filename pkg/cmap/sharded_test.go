package cmap

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{8, 8},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[string, int](tt.input)
			if m.ShardCount() != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d",
					tt.input, m.ShardCount(), tt.expected)
			}
		})
	}
}

func TestShardIndexStable(t *testing.T) {
	m := New[string, int]()
	for _, k := range []string{"duct/udp/a", "dispatch/ipn", "delivery/ipn:1.1"} {
		if a, b := m.shardIndex(k), m.shardIndex(k); a != b {
			t.Fatalf("shardIndex(%q) not stable: %d != %d", k, a, b)
		}
	}

	n := New[uint64, int]()
	used := make(map[uint64]struct{})
	for i := uint64(0); i < 256; i++ {
		used[n.shardIndex(i)] = struct{}{}
	}
	if len(used) < DefaultShardCount/2 {
		t.Errorf("integer keys hit only %d shards", len(used))
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}
	if !m.Has("b") {
		t.Error("Has(b) = false, want true")
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}

	m.Delete("a")
	if m.Has("a") {
		t.Error("Has(a) after Delete = true")
	}
}

func TestSetIfAbsentPopCompareAndDelete(t *testing.T) {
	m := New[string, int]()
	if !m.SetIfAbsent("n", 2) {
		t.Error("SetIfAbsent on absent key = false")
	}
	if m.SetIfAbsent("n", 9) {
		t.Error("SetIfAbsent on present key = true")
	}

	if m.CompareAndDelete("n", func(v int) bool { return v == 3 }) {
		t.Error("CompareAndDelete with wrong value = true")
	}
	if !m.CompareAndDelete("n", func(v int) bool { return v == 2 }) {
		t.Error("CompareAndDelete with matching value = false")
	}

	m.Set("p", 5)
	if v, ok := m.Pop("p"); !ok || v != 5 {
		t.Errorf("Pop = (%d, %v), want (5, true)", v, ok)
	}
	if _, ok := m.Pop("p"); ok {
		t.Error("second Pop = true")
	}
}

func TestRange(t *testing.T) {
	m := New[string, int]()
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	keys := m.Keys()
	sort.Strings(keys)
	if len(keys) != 10 || keys[0] != "k0" {
		t.Errorf("Keys() = %v", keys)
	}
	if len(m.Values()) != 10 {
		t.Errorf("len(Values()) = %d, want 10", len(m.Values()))
	}

	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Errorf("Range visited %d entries after stop, want 3", seen)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[uint64, int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 500; i++ {
				m.Set(base*1000+i, int(i))
				m.Get(base*1000 + i)
			}
		}(uint64(g))
	}
	wg.Wait()

	if m.Count() != 8*500 {
		t.Errorf("Count() = %d, want %d", m.Count(), 8*500)
	}
}
