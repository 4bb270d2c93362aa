// Package pool implements the public Pool[T] surface: a sharded,
// generational, lock-free store that reuses a slot's storage across
// Create/Clear cycles instead of handing it back to the runtime, for values
// whose allocation cost is worth amortizing (buffers, builders, anything
// with its own backing capacity).
//
// T is typically a pointer type (e.g. *bytes.Buffer wrapped to implement
// Clearable) so that Clear's mutations are visible through the same T the
// Pool handed out — a value-receiver Clear on a non-pointer T only resets a
// copy and accomplishes nothing.
package pool

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

// Key identifies one value for the lifetime of its generation.
type Key = uint64

// Participant pins its holder to one shard, the same way it does for Slab.
type Participant = participant.Participant

// Pool is a sharded, lock-free store of reusable T values.
type Pool[T Clearable] struct {
	lay      layout.Layout
	shards   *shardmap.Map[T]
	registry *participant.Registry
	metrics  metrics.Sink
	logger   *zap.Logger
	joined   atomic.Int64
	clearFn  func(*T)
}

// New constructs a Pool with the given options applied over the §6
// defaults.
func New[T Clearable](opts ...Option[T]) (*Pool[T], error) {
	cfg := config[T]{Config: shardconfig.Default("slabshard_pool")}
	for _, opt := range opts {
		opt(&cfg)
	}
	lay, base, err := shardconfig.Validate(cfg.Config)
	if err != nil {
		return nil, err
	}
	cfg.Config = base

	clearFn := func(v *T) {
		(*v).Clear()
		if cfg.clearCallback != nil {
			cfg.clearCallback(v)
		}
	}

	shards := shardmap.New[T](lay, clearFn)
	return &Pool[T]{
		lay:      lay,
		shards:   shards,
		registry: participant.NewRegistry(uint64(shards.Len())),
		metrics:  metrics.New(cfg.Metrics, cfg.Registry),
		logger:   cfg.Logger,
		clearFn:  clearFn,
	}, nil
}

// Join registers a new Participant with the pool. See Slab.Join for the
// same caveat on the participants gauge (it counts Join calls, not live
// participants).
func (p *Pool[T]) Join() (*Participant, error) {
	part, err := p.registry.Acquire()
	if err != nil {
		p.logger.Warn("pool: participant ids exhausted", zap.Error(err))
		return nil, err
	}
	p.metrics.SetParticipants(p.joined.Add(1))
	return part, nil
}

// Create claims a slot on part's shard and returns its key along with a
// pointer to populate. The storage holds the zero value the first time a
// slot is used, and the previous, already-cleared value when a slot is
// reused after Clear.
func (p *Pool[T]) Create(part *Participant) (Key, *T, bool) {
	sh, ok := p.shards.Current(part.ID())
	if !ok {
		p.metrics.IncInsert(false)
		return 0, nil, false
	}
	var ptr *T
	key, ok := sh.InitWith(func(v *T) { ptr = v })
	p.metrics.IncInsert(ok)
	if !ok {
		return 0, nil, false
	}
	return key, ptr, true
}

// CreateWith is Create's convenience form: initFn populates the claimed
// storage directly instead of the caller handling the returned pointer. If
// initFn panics, part is poisoned before the panic propagates — the slot it
// was writing to may have been left half-initialized, so part's shard must
// never be handed out again.
func (p *Pool[T]) CreateWith(part *Participant, initFn func(*T)) (key Key, ok bool) {
	sh, shOK := p.shards.Current(part.ID())
	if !shOK {
		p.metrics.IncInsert(false)
		return 0, false
	}

	guarded := func(v *T) {
		defer func() {
			if r := recover(); r != nil {
				part.Poison()
				panic(r)
			}
		}()
		initFn(v)
	}

	key, ok = sh.InitWith(guarded)
	p.metrics.IncInsert(ok)
	return key, ok
}

// Get acquires a shared, scoped reference to the value stored at key.
func (p *Pool[T]) Get(key Key) (Guard[T], bool) {
	addr, tid, gen := p.lay.UnpackKey(key)
	sh, ok := p.shards.Get(tid)
	if !ok {
		p.metrics.IncGet(false)
		return Guard[T]{}, false
	}
	g, ok := sh.Get(addr, gen)
	p.metrics.IncGet(ok)
	if !ok {
		return Guard[T]{}, false
	}
	return Guard[T]{g: g, lay: p.lay}, true
}

// GetOwned is Get's sibling for callers that want a reference that can
// outlive the call site without separately keeping the Pool alive: the
// returned OwnedGuard holds the *Pool[T] itself, so Go's garbage collector
// (rather than a manual Arc-style refcount, unnecessary here) keeps it
// reachable for as long as the guard is.
func (p *Pool[T]) GetOwned(key Key) (OwnedGuard[T], bool) {
	g, ok := p.Get(key)
	if !ok {
		return OwnedGuard[T]{}, false
	}
	return OwnedGuard[T]{g: g, pool: p}, true
}

// Clear marks the value at key for reuse: Clearable.Clear runs (immediately
// if no references are outstanding, otherwise once the last Guard/OwnedGuard
// releases), and the slot becomes available to a future Create/CreateWith.
func (p *Pool[T]) Clear(part *Participant, key Key) bool {
	addr, tid, gen := p.lay.UnpackKey(key)
	sh, ok := p.shards.Get(tid)
	if !ok {
		p.metrics.IncRemove(false)
		return false
	}
	var cleared bool
	if tid == part.ID() {
		cleared = sh.MarkClearLocal(addr, gen, p.clearFn)
	} else {
		cleared = sh.MarkClearRemote(addr, gen, p.clearFn)
	}
	p.metrics.IncRemove(cleared)
	return cleared
}

// Len returns the approximate number of live values across every shard.
func (p *Pool[T]) Len() int64 {
	n := p.shards.TotalLen()
	p.metrics.SetLive(n)
	return n
}

// Capacity returns the pool's total addressable capacity.
func (p *Pool[T]) Capacity() uint64 { return p.shards.TotalCapacity() }

// UniqueIter calls fn once for every currently live value. See
// Slab.UniqueIter for the exclusivity requirement.
func (p *Pool[T]) UniqueIter(fn func(*T)) {
	p.shards.ForEach(func(sh *shard.Shard[T]) {
		sh.ForEach(fn)
	})
}
