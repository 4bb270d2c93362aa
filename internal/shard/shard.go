// Package shard implements a single participant's sequence of pages: the
// write-locality domain that lets inserts proceed without contending with
// any other thread.
package shard

import (
	"sync/atomic"

	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/page"
	"github.com/Voskan/slabshard/internal/slot"
)

// Shard owns one participant's geometrically-growing page ladder. Inserts
// always land on the shard belonging to the calling participant; Get/Remove/
// Take against a key whose thread-id names a different shard take the
// "remote" path, which only ever touches a page's lock-free transfer stack.
type Shard[T any] struct {
	tid   uint64
	lay   layout.Layout
	pages []*page.Page[T]
	count atomic.Int64
}

// New constructs a shard for participant tid, with an empty page ladder
// sized from lay's configuration. No slot storage is allocated yet. clearFn
// is nil for a Slab-backing shard and non-nil (Clearable.Clear) for a
// Pool-backing shard.
func New[T any](tid uint64, lay layout.Layout, clearFn func(*T)) *Shard[T] {
	pages := make([]*page.Page[T], lay.Config.MaxPages)
	for i := range pages {
		n := uint64(i)
		pages[i] = page.New[T](lay.PageSize(n), lay.PagePrevSize(n), clearFn)
	}
	return &Shard[T]{tid: tid, lay: lay, pages: pages}
}

// TID returns the shard's owning participant id.
func (s *Shard[T]) TID() uint64 { return s.tid }

// Len returns the approximate number of live values in the shard.
func (s *Shard[T]) Len() int64 { return s.count.Load() }

func (s *Shard[T]) slotLayout() slot.Layout { return s.lay.SlotLayout() }

// Insert tries each page in ascending index order (first-fit: keeps
// lower-numbered, likely-hotter pages dense) and stores value in the first
// one with room. It returns the full packed key.
func (s *Shard[T]) Insert(value T) (key uint64, ok bool) {
	sl := s.slotLayout()
	for _, pg := range s.pages {
		addr, gen, inserted := pg.Insert(sl, value)
		if inserted {
			s.count.Add(1)
			return s.lay.PackKey(addr, s.tid, gen), true
		}
	}
	return 0, false
}

// InitWith is Insert's pool-flavoured sibling: initFn is invoked with a
// pointer to the claimed (already allocated, zeroed-or-cleared) storage to
// populate, rather than moving a value in from the caller.
func (s *Shard[T]) InitWith(initFn func(*T)) (key uint64, ok bool) {
	sl := s.slotLayout()
	for _, pg := range s.pages {
		addr, gen, inserted := pg.InitWith(sl, initFn)
		if inserted {
			s.count.Add(1)
			return s.lay.PackKey(addr, s.tid, gen), true
		}
	}
	return 0, false
}

func (s *Shard[T]) pageFor(address uint64) (*page.Page[T], bool) {
	idx := s.lay.PageIndex(address)
	if idx >= uint64(len(s.pages)) {
		return nil, false
	}
	return s.pages[idx], true
}

// Get acquires a shared reference to the value at (address, gen).
func (s *Shard[T]) Get(address, gen uint64) (page.Guard[T], bool) {
	pg, ok := s.pageFor(address)
	if !ok {
		return page.Guard[T]{}, false
	}
	return pg.Get(s.slotLayout(), address, gen)
}

// RemoveLocal marks for removal; call only when the current participant IS
// this shard's owner.
func (s *Shard[T]) RemoveLocal(address, gen uint64) bool {
	pg, ok := s.pageFor(address)
	if !ok {
		return false
	}
	removed := pg.Remove(s.slotLayout(), address, gen, pg.LocalFreeList())
	if removed {
		s.count.Add(-1)
	}
	return removed
}

// RemoveRemote marks for removal from a participant other than this shard's
// owner; freed offsets go through the page's transfer stack instead of the
// local free list.
func (s *Shard[T]) RemoveRemote(address, gen uint64) bool {
	pg, ok := s.pageFor(address)
	if !ok {
		return false
	}
	removed := pg.Remove(s.slotLayout(), address, gen, pg.TransferStack())
	if removed {
		s.count.Add(-1)
	}
	return removed
}

// TakeLocal removes unconditionally (blocking for outstanding references to
// drain) and returns the value. Call only from this shard's owner.
func (s *Shard[T]) TakeLocal(address, gen uint64) (T, bool) {
	pg, ok := s.pageFor(address)
	if !ok {
		var zero T
		return zero, false
	}
	v, took := pg.Take(s.slotLayout(), address, gen, pg.LocalFreeList())
	if took {
		s.count.Add(-1)
	}
	return v, took
}

// TakeRemote is TakeLocal's cross-thread counterpart.
func (s *Shard[T]) TakeRemote(address, gen uint64) (T, bool) {
	pg, ok := s.pageFor(address)
	if !ok {
		var zero T
		return zero, false
	}
	v, took := pg.Take(s.slotLayout(), address, gen, pg.TransferStack())
	if took {
		s.count.Add(-1)
	}
	return v, took
}

// MarkClearLocal is RemoveLocal's pool-flavoured sibling: clearFn resets the
// value in place (retaining capacity) instead of taking it out.
func (s *Shard[T]) MarkClearLocal(address, gen uint64, clearFn func(*T)) bool {
	pg, ok := s.pageFor(address)
	if !ok {
		return false
	}
	cleared := pg.MarkClear(s.slotLayout(), address, gen, pg.LocalFreeList(), clearFn)
	if cleared {
		s.count.Add(-1)
	}
	return cleared
}

// MarkClearRemote is MarkClearLocal's cross-thread counterpart.
func (s *Shard[T]) MarkClearRemote(address, gen uint64, clearFn func(*T)) bool {
	pg, ok := s.pageFor(address)
	if !ok {
		return false
	}
	cleared := pg.MarkClear(s.slotLayout(), address, gen, pg.TransferStack(), clearFn)
	if cleared {
		s.count.Add(-1)
	}
	return cleared
}

// ForEach walks every page's live values. Requires exclusive access to the
// enclosing Slab/Pool (see their UniqueIter methods).
func (s *Shard[T]) ForEach(fn func(*T)) {
	sl := s.slotLayout()
	for _, pg := range s.pages {
		pg.ForEach(sl, fn)
	}
}
