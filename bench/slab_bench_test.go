// Package bench provides reproducible micro-benchmarks for slabshard.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// Benchmarks use a single value shape (a 64-byte struct) so results stay
// comparable across versions:
//
//  1. Insert       – write-only workload, one Participant
//  2. Get          – read-only workload after warm-up
//  3. GetParallel  – highly concurrent reads (b.RunParallel)
//  4. CrossTake    – insert on one Participant, Take from another
//
// Unit tests live under pkg/slab and pkg/pool; this file is for performance
// only.
package bench

import (
	"math/rand"
	"runtime"
	"testing"

	"github.com/Voskan/slabshard/pkg/slab"
)

type value64 struct {
	_ [64]byte
}

const dataset = 1 << 16

func newTestSlab(tb testing.TB) *slab.Slab[value64] {
	tb.Helper()
	s, err := slab.New[value64]()
	if err != nil {
		tb.Fatalf("slab.New: %v", err)
	}
	return s
}

func BenchmarkInsert(b *testing.B) {
	s := newTestSlab(b)
	part, err := s.Join()
	if err != nil {
		b.Fatalf("Join: %v", err)
	}
	val := value64{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Insert(part, val)
	}
}

func BenchmarkGet(b *testing.B) {
	s := newTestSlab(b)
	part, err := s.Join()
	if err != nil {
		b.Fatalf("Join: %v", err)
	}
	val := value64{}

	keys := make([]slab.Key, 0, dataset)
	for i := 0; i < dataset; i++ {
		k, ok := s.Insert(part, val)
		if !ok {
			break
		}
		keys = append(keys, k)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%len(keys)]
		g, ok := s.Get(k)
		if ok {
			g.Release()
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	s := newTestSlab(b)
	part, err := s.Join()
	if err != nil {
		b.Fatalf("Join: %v", err)
	}
	val := value64{}

	keys := make([]slab.Key, 0, dataset)
	for i := 0; i < dataset; i++ {
		k, ok := s.Insert(part, val)
		if !ok {
			break
		}
		keys = append(keys, k)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(len(keys))
		for pb.Next() {
			idx = (idx + 1) % len(keys)
			g, ok := s.Get(keys[idx])
			if ok {
				g.Release()
			}
		}
	})
}

// BenchmarkCrossTake measures Take from a Participant different from the
// one that performed the Insert — the remote (transfer-stack) path.
func BenchmarkCrossTake(b *testing.B) {
	s := newTestSlab(b)
	owner, err := s.Join()
	if err != nil {
		b.Fatalf("Join: %v", err)
	}
	remote, err := s.Join()
	if err != nil {
		b.Fatalf("Join: %v", err)
	}
	val := value64{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k, ok := s.Insert(owner, val)
		if !ok {
			continue
		}
		s.Take(remote, k)
	}
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
