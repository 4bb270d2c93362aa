package shardmap

import (
	"testing"

	"github.com/Voskan/slabshard/internal/layout"
)

func TestCurrentLazilyCreatesAndCaches(t *testing.T) {
	lay, err := layout.Validate(layout.Config{MaxThreads: 4, MaxPages: 2, InitialPageSize: 2})
	if err != nil {
		t.Fatalf("layout.Validate: %v", err)
	}
	m := New[int](lay, nil)

	if _, ok := m.Get(0); ok {
		t.Fatal("Get should report false before Current has been called")
	}

	s1, ok := m.Current(0)
	if !ok {
		t.Fatal("Current should succeed")
	}
	s2, ok := m.Current(0)
	if !ok || s2 != s1 {
		t.Fatal("Current should return the same shard on repeat calls")
	}

	s3, ok := m.Get(0)
	if !ok || s3 != s1 {
		t.Fatal("Get should now see the installed shard")
	}
}

func TestCurrentRejectsOutOfRangeTID(t *testing.T) {
	lay, err := layout.Validate(layout.Config{MaxThreads: 2, MaxPages: 2, InitialPageSize: 2})
	if err != nil {
		t.Fatalf("layout.Validate: %v", err)
	}
	m := New[int](lay, nil)

	if _, ok := m.Current(uint64(m.Len())); ok {
		t.Fatal("Current with tid == table length should fail")
	}
}

func TestTotalLenSumsAcrossShards(t *testing.T) {
	lay, err := layout.Validate(layout.Config{MaxThreads: 4, MaxPages: 2, InitialPageSize: 4})
	if err != nil {
		t.Fatalf("layout.Validate: %v", err)
	}
	m := New[int](lay, nil)

	s0, _ := m.Current(0)
	s1, _ := m.Current(1)
	s0.Insert(1)
	s0.Insert(2)
	s1.Insert(3)

	if got := m.TotalLen(); got != 3 {
		t.Fatalf("TotalLen() = %d, want 3", got)
	}
}
