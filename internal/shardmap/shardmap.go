// Package shardmap implements the fixed-length table of lazily-created
// shards indexed by participant id, mirroring the original implementation's
// Array<T,C>.
package shardmap

import (
	"sync/atomic"

	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/shard"
)

// Map is a fixed-size table of per-participant shards. Its length is set
// once at construction (from the layout's MaxThreads, rounded to the next
// power of two, and at least 2) and never grows; a participant id beyond that length can
// never acquire a shard.
type Map[T any] struct {
	lay     layout.Layout
	shards  []atomic.Pointer[shard.Shard[T]]
	max     atomic.Int64
	clearFn func(*T)
}

// New builds an empty table sized for lay's maximum participant count.
// clearFn is nil for a Slab's table and non-nil (Clearable.Clear) for a
// Pool's table; it is forwarded to every lazily-constructed shard.
func New[T any](lay layout.Layout, clearFn func(*T)) *Map[T] {
	size := uint64(1) << uint(layoutTidBits(lay))
	m := &Map[T]{
		lay:     lay,
		shards:  make([]atomic.Pointer[shard.Shard[T]], size),
		clearFn: clearFn,
	}
	m.max.Store(-1)
	return m
}

func layoutTidBits(lay layout.Layout) uint { return lay.ThreadID.Bits }

// Len returns the table's fixed capacity.
func (m *Map[T]) Len() int { return len(m.shards) }

// Get returns the shard at tid without creating one, for remote-path callers
// that must not allocate a shard on behalf of a different participant.
func (m *Map[T]) Get(tid uint64) (*shard.Shard[T], bool) {
	if tid >= uint64(len(m.shards)) {
		return nil, false
	}
	s := m.shards[tid].Load()
	return s, s != nil
}

// Current returns the shard for tid, lazily constructing and CAS-installing
// one if this is the first access — only ever safe to call with the calling
// participant's own tid, since a new shard's page ladder is sized from lay
// and installed without any coordination from other participants.
func (m *Map[T]) Current(tid uint64) (*shard.Shard[T], bool) {
	if tid >= uint64(len(m.shards)) {
		return nil, false
	}
	slot := &m.shards[tid]
	if existing := slot.Load(); existing != nil {
		return existing, true
	}
	fresh := shard.New[T](tid, m.lay, m.clearFn)
	if slot.CompareAndSwap(nil, fresh) {
		m.bumpMax(int64(tid))
		return fresh, true
	}
	return slot.Load(), true
}

func (m *Map[T]) bumpMax(tid int64) {
	for {
		cur := m.max.Load()
		if tid <= cur {
			return
		}
		if m.max.CompareAndSwap(cur, tid) {
			return
		}
	}
}

// ForEach walks every shard that has ever been installed, in ascending tid
// order. Requires exclusive access to the enclosing Slab/Pool.
func (m *Map[T]) ForEach(fn func(*shard.Shard[T])) {
	top := m.max.Load()
	for i := int64(0); i <= top; i++ {
		if s := m.shards[i].Load(); s != nil {
			fn(s)
		}
	}
}

// TotalLen returns the sum of every installed shard's current length.
func (m *Map[T]) TotalLen() int64 {
	var total int64
	m.ForEach(func(s *shard.Shard[T]) { total += s.Len() })
	return total
}

// TotalCapacity returns the allocator's total addressable capacity across
// every participant slot, irrespective of how many shards have actually been
// installed.
func (m *Map[T]) TotalCapacity() uint64 {
	return m.lay.TotalCapacityPerShard * uint64(len(m.shards))
}
