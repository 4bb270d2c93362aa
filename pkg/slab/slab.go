// Package slab implements the public Slab[T] surface: a sharded,
// generational, lock-free store of owned values, keyed by a single packed
// uint64 that survives reuse of the same underlying storage indefinitely.
//
// A Slab never grows contention between goroutines that insert independently
// of one another — each caller first Joins the slab to obtain a Participant,
// which pins it to one shard for the lifetime of that Participant. Mutating
// a key from a different Participant than the one that inserted it (the
// common case for a producer/consumer handoff) still works, just through the
// slower cross-shard path.
package slab

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/metrics"
	"github.com/Voskan/slabshard/internal/participant"
	"github.com/Voskan/slabshard/internal/shard"
	"github.com/Voskan/slabshard/internal/shardconfig"
	"github.com/Voskan/slabshard/internal/shardmap"
)

// Key identifies one value for the lifetime of its generation. A Key that
// outlives its value (because the slot has since been reused) always fails
// to resolve rather than silently returning the new occupant — that is the
// entire point of packing a generation into it.
type Key = uint64

// Participant pins its holder to one shard. Callers should acquire one
// Participant per goroutine that will call Insert, and Close it when that
// goroutine is done with the Slab.
type Participant = participant.Participant

// Slab is a sharded, lock-free store of owned T values.
type Slab[T any] struct {
	lay      layout.Layout
	shards   *shardmap.Map[T]
	registry *participant.Registry
	metrics  metrics.Sink
	logger   *zap.Logger
	joined   atomic.Int64
}

// New constructs a Slab with the given options applied over the §6 defaults.
func New[T any](opts ...Option) (*Slab[T], error) {
	cfg := shardconfig.Default("slabshard_slab")
	for _, opt := range opts {
		opt(&cfg)
	}
	lay, cfg, err := shardconfig.Validate(cfg)
	if err != nil {
		return nil, err
	}
	shards := shardmap.New[T](lay, nil)
	return &Slab[T]{
		lay:      lay,
		shards:   shards,
		registry: participant.NewRegistry(uint64(shards.Len())),
		metrics:  metrics.New(cfg.Metrics, cfg.Registry),
		logger:   cfg.Logger,
	}, nil
}

// Join registers a new Participant with the slab. The returned handle must
// be Closed when the calling goroutine is finished using the slab.
//
// The participants gauge only ever counts upward: Participant.Close recycles
// the id for reuse, but this package has no way to learn about that, so the
// gauge reports the total number of successful Join calls rather than the
// live count.
func (s *Slab[T]) Join() (*Participant, error) {
	p, err := s.registry.Acquire()
	if err != nil {
		s.logger.Warn("slab: participant ids exhausted", zap.Error(err))
		return nil, err
	}
	s.metrics.SetParticipants(s.joined.Add(1))
	return p, nil
}

// Insert stores value on p's shard and returns its key.
func (s *Slab[T]) Insert(p *Participant, value T) (Key, bool) {
	sh, ok := s.shards.Current(p.ID())
	if !ok {
		s.metrics.IncInsert(false)
		return 0, false
	}
	key, inserted := sh.Insert(value)
	s.metrics.IncInsert(inserted)
	return key, inserted
}

// Get acquires a shared, scoped reference to the value stored at key. The
// returned Guard must be Released exactly once.
func (s *Slab[T]) Get(key Key) (Guard[T], bool) {
	addr, tid, gen := s.lay.UnpackKey(key)
	sh, ok := s.shards.Get(tid)
	if !ok {
		s.metrics.IncGet(false)
		return Guard[T]{}, false
	}
	g, ok := sh.Get(addr, gen)
	s.metrics.IncGet(ok)
	if !ok {
		return Guard[T]{}, false
	}
	return Guard[T]{g: g, lay: s.lay}, true
}

// Contains reports whether key currently resolves to a live value. It takes
// a reference through Get and releases it before returning, so the caller
// holds nothing afterwards.
func (s *Slab[T]) Contains(key Key) bool {
	g, ok := s.Get(key)
	if !ok {
		return false
	}
	g.Release()
	return true
}

// Remove marks the value at key for removal. p must be the Participant
// performing the operation; Remove picks the local or cross-shard path
// depending on whether key was minted by p's own shard.
func (s *Slab[T]) Remove(p *Participant, key Key) bool {
	addr, tid, gen := s.lay.UnpackKey(key)
	sh, ok := s.shards.Get(tid)
	if !ok {
		s.metrics.IncRemove(false)
		return false
	}
	var removed bool
	if tid == p.ID() {
		removed = sh.RemoveLocal(addr, gen)
	} else {
		removed = sh.RemoveRemote(addr, gen)
	}
	s.metrics.IncRemove(removed)
	return removed
}

// Take removes the value at key unconditionally — blocking for any
// outstanding Guards to Release — and returns it.
func (s *Slab[T]) Take(p *Participant, key Key) (T, bool) {
	addr, tid, gen := s.lay.UnpackKey(key)
	sh, ok := s.shards.Get(tid)
	if !ok {
		var zero T
		s.metrics.IncTake(false)
		return zero, false
	}
	var v T
	var took bool
	if tid == p.ID() {
		v, took = sh.TakeLocal(addr, gen)
	} else {
		v, took = sh.TakeRemote(addr, gen)
	}
	s.metrics.IncTake(took)
	return v, took
}

// Len returns the approximate number of live values across every shard.
func (s *Slab[T]) Len() int64 {
	n := s.shards.TotalLen()
	s.metrics.SetLive(n)
	return n
}

// Capacity returns the slab's total addressable capacity, irrespective of
// how many participants have joined.
func (s *Slab[T]) Capacity() uint64 { return s.shards.TotalCapacity() }

// UniqueIter calls fn once for every currently live value. Callers must
// ensure no concurrent Insert/Remove/Take races with this call — it walks
// slot storage directly without taking per-value references.
func (s *Slab[T]) UniqueIter(fn func(*T)) {
	s.shards.ForEach(func(sh *shard.Shard[T]) {
		sh.ForEach(fn)
	})
}
