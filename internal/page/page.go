// Package page implements a shard's fixed-length array of slots plus its
// local free list and remote transfer stack, allocated lazily on first use.
package page

import (
	"sync/atomic"

	"github.com/Voskan/slabshard/internal/slot"
	"github.com/Voskan/slabshard/internal/stack"
)

// Page is one entry in a shard's geometrically-growing page ladder. Its
// slot array is not allocated until the first Insert targets it, so an
// unused Slab or Pool holds only the shard table and a handful of empty
// Page headers.
type Page[T any] struct {
	slots atomic.Pointer[[]slot.Slot[T]]

	// localFreeHead is mutated only by the page's owning shard's thread.
	// It is the offset (relative to this page) of the first locally-freed
	// slot, or stack.Null (sentinel for "list exhausted") once every slot
	// has been claimed and none locally released.
	localFreeHead uint64

	transfer *stack.Stack

	prevSize uint64 // offset at which this page begins in shard address space
	size     uint64 // slot count

	// clearFn is nil for a page backing a Slab (a deferred release finishes
	// via RemoveValue) and non-nil for a page backing a Pool (a deferred
	// release finishes via ClearValue(clearFn), retaining the slot for
	// reuse instead of zeroing it).
	clearFn func(*T)
}

// New constructs a page of the given size, beginning at prevSize within its
// shard's linear address space. The slot array itself is not allocated
// until first use. clearFn is nil for Slab-owned pages.
func New[T any](size, prevSize uint64, clearFn func(*T)) *Page[T] {
	return &Page[T]{
		transfer: stack.New(),
		prevSize: prevSize,
		size:     size,
		clearFn:  clearFn,
	}
}

// Size returns the page's slot count.
func (p *Page[T]) Size() uint64 { return p.size }

// materialize allocates the backing slot array on first use, wiring each
// slot's free-list "next" link to form a complete chain over the whole
// page — the entire page starts out on the free list, so no separate
// bump-allocation path is needed once it exists. Only ever called from the
// owning shard's single writer goroutine, so the racy-looking
// load-then-maybe-store is safe without a CAS; the atomic.Pointer is there
// so concurrent remote Get/Take calls always observe either nothing or a
// fully-initialized array.
func (p *Page[T]) materialize() *[]slot.Slot[T] {
	if existing := p.slots.Load(); existing != nil {
		return existing
	}
	fresh := make([]slot.Slot[T], p.size)
	for i := range fresh {
		if next := uint64(i) + 1; next < p.size {
			fresh[i].SetNext(next)
		} else {
			fresh[i].SetNext(stack.Null)
		}
	}
	p.slots.Store(&fresh)
	return &fresh
}

// Insert claims a free slot, materializing the page if this is its first
// use, and stores value into it. It returns the slot's address within the
// shard's linear space (prevSize + local offset) and the generation value
// was stored at.
func (p *Page[T]) Insert(lay slot.Layout, value T) (address, gen uint64, ok bool) {
	arrPtr := p.slots.Load()
	if arrPtr == nil {
		arrPtr = p.materialize()
	}
	arr := *arrPtr

	head := p.localFreeHead
	if head >= p.size {
		newHead, popped := p.transfer.PopAll()
		if !popped {
			return 0, 0, false
		}
		p.localFreeHead = newHead
		head = newHead
	}
	if head >= p.size {
		return 0, 0, false
	}

	s := &arr[head]
	g, inserted := s.Insert(lay, value)
	if !inserted {
		return 0, 0, false
	}
	p.localFreeHead = s.Next()
	return p.prevSize + head, g, true
}

// InitWith is Insert's pool-flavoured sibling: instead of moving a
// caller-supplied value in, it hands the claimed (already-allocated,
// already-cleared-or-zeroed) storage to initFn to populate in place.
func (p *Page[T]) InitWith(lay slot.Layout, initFn func(*T)) (address, gen uint64, ok bool) {
	arrPtr := p.slots.Load()
	if arrPtr == nil {
		arrPtr = p.materialize()
	}
	arr := *arrPtr

	head := p.localFreeHead
	if head >= p.size {
		newHead, popped := p.transfer.PopAll()
		if !popped {
			return 0, 0, false
		}
		p.localFreeHead = newHead
		head = newHead
	}
	if head >= p.size {
		return 0, 0, false
	}

	s := &arr[head]
	g, ptr, began := s.BeginWrite(lay)
	if !began {
		return 0, 0, false
	}
	initFn(ptr)
	p.localFreeHead = s.Next()
	return p.prevSize + head, g, true
}

func (p *Page[T]) resolve(address uint64) (*slot.Slot[T], uint64, bool) {
	arrPtr := p.slots.Load()
	if arrPtr == nil {
		return nil, 0, false
	}
	if address < p.prevSize {
		return nil, 0, false
	}
	offset := address - p.prevSize
	if offset >= p.size {
		return nil, 0, false
	}
	return &(*arrPtr)[offset], offset, true
}

// Guard is a scoped reference to a value living in a page. Unlike a bare
// slot.Guard, it knows its own offset and owning page, so Release can finish
// a removal that was deferred because references were outstanding when
// Remove/MarkClear ran.
type Guard[T any] struct {
	inner  slot.Guard[T]
	page   *Page[T]
	offset uint64
}

// Value returns a pointer to the guarded value.
func (g Guard[T]) Value() *T { return g.inner.Value() }

// Release drops the reference. If this was the last outstanding reference
// to a value that had been marked for removal while still referenced, it
// completes that removal now, freeing the offset via the page's transfer
// stack — always the transfer stack here, never the local free list, since
// Release may run on any goroutine, not just the page's owning shard.
func (g Guard[T]) Release(lay slot.Layout) {
	if g.page == nil {
		return
	}
	if g.inner.Release(lay) {
		g.page.finishDeferredRemoval(lay, g.offset)
	}
}

func (p *Page[T]) finishDeferredRemoval(lay slot.Layout, offset uint64) {
	arrPtr := p.slots.Load()
	if arrPtr == nil {
		return
	}
	s := &(*arrPtr)[offset]
	gen := s.Generation(lay)
	if p.clearFn != nil {
		s.ClearValue(lay, gen, offset, p.transfer, p.clearFn)
		return
	}
	s.RemoveValue(lay, gen, offset, p.transfer)
}

// Get acquires a shared reference to the slot at address, if it is live at
// the given generation.
func (p *Page[T]) Get(lay slot.Layout, address, gen uint64) (Guard[T], bool) {
	s, offset, ok := p.resolve(address)
	if !ok {
		return Guard[T]{}, false
	}
	g, ok := s.Get(lay, gen)
	if !ok {
		return Guard[T]{}, false
	}
	return Guard[T]{inner: g, page: p, offset: offset}, true
}

// Remove marks the slot at address for removal, finishing the cleanup
// immediately (via free) if no references were outstanding. free should be
// p.LocalFreeList() for owner-thread callers or p.TransferStack() for
// remote callers.
func (p *Page[T]) Remove(lay slot.Layout, address, gen uint64, free slot.FreeList) bool {
	s, offset, ok := p.resolve(address)
	if !ok {
		return false
	}
	removeNow, matched := s.MarkForRemoval(lay, gen)
	if !matched {
		return false
	}
	if removeNow {
		_, done := s.RemoveValue(lay, gen, offset, free)
		return done
	}
	return true
}

// Take removes the slot at address unconditionally, blocking (via bounded
// spin back-off) until any outstanding references drain, and returns the
// value that was stored there.
func (p *Page[T]) Take(lay slot.Layout, address, gen uint64, free slot.FreeList) (T, bool) {
	s, offset, ok := p.resolve(address)
	if !ok {
		var zero T
		return zero, false
	}
	return s.RemoveValue(lay, gen, offset, free)
}

// MarkClear is Remove's pool-flavoured sibling: it defers to clearFn
// (expected to call Clearable.Clear) instead of taking the value, retaining
// the slot's storage for the next Create to reuse.
func (p *Page[T]) MarkClear(lay slot.Layout, address, gen uint64, free slot.FreeList, clearFn func(*T)) bool {
	s, offset, ok := p.resolve(address)
	if !ok {
		return false
	}
	removeNow, matched := s.MarkForRemoval(lay, gen)
	if !matched {
		return false
	}
	if removeNow {
		return s.ClearValue(lay, gen, offset, free, clearFn)
	}
	return true
}

// LocalFreeList returns the owner-thread-only free list: offsets released
// locally are prepended directly to this page's local head, with no atomic
// operations at all.
func (p *Page[T]) LocalFreeList() slot.FreeList { return localFreeList[T]{p} }

// TransferStack returns the page's lock-free remote free list.
func (p *Page[T]) TransferStack() *stack.Stack { return p.transfer }

// ForEach calls fn with a pointer to every currently-live value's storage.
// Requires exclusive access to the whole allocator (see Slab.UniqueIter /
// Pool.UniqueIter) since it does not take any per-slot reference.
func (p *Page[T]) ForEach(lay slot.Layout, fn func(*T)) {
	arrPtr := p.slots.Load()
	if arrPtr == nil {
		return
	}
	arr := *arrPtr
	for i := range arr {
		if arr[i].IsLive(lay) {
			fn(arr[i].Value())
		}
	}
}

type localFreeList[T any] struct{ p *Page[T] }

func (f localFreeList[T]) Push(offset uint64, setNext func(next uint64)) {
	setNext(f.p.localFreeHead)
	f.p.localFreeHead = offset
}
