// Package slot implements the per-element lifecycle state machine at the
// core of the allocator: a lifecycle word packing a 2-bit state tag, a
// reference count, and a generation counter into one atomic uint64, plus the
// free-list "next" link and the value storage itself.
//
// Combining lifecycle, refcount and generation into a single word is load
// bearing: it lets Get's CAS atomically reject an access whose generation
// has just advanced, and lets a Guard's release atomically decide whether it
// was the last outstanding reference. Splitting them into separate atomics
// would let a reader observe a matching generation and then have its
// refcount increment race a concurrent removal.
package slot

import (
	"runtime"
	"sync/atomic"

	"github.com/Voskan/slabshard/internal/bitpack"
)

// State is the 2-bit lifecycle tag. NotRemoved is the normal live state;
// Marked means a removal was requested while references were outstanding
// (subsequent Get calls must fail); Removing is the short transient that
// serializes the actual cleanup between competing last-release races.
type State uint64

const (
	NotRemoved State = 0b00
	Marked     State = 0b01
	Removing   State = 0b11
)

var stateField = bitpack.Field{Shift: 0, Bits: 2}

// Layout is the lifecycle word's bit geometry: refcount and generation
// fields sized to match a slab's key layout (see internal/layout), so a
// slot's current generation is always directly comparable to a key's.
type Layout struct {
	RefCount    bitpack.Field
	Generation  bitpack.Field
	MaxRefCount uint64
}

// Slot holds at most one value of type T plus its lifecycle metadata. The
// zero Slot is a valid, empty, generation-0 slot.
type Slot[T any] struct {
	lifecycle atomic.Uint64
	// next is the free-list link. It is mutated by whichever goroutine
	// currently owns the right to push this slot onto a free list (the
	// page owner for the local list, any releasing goroutine for the
	// transfer stack) — never read concurrently with that write.
	next  uint64
	value T
}

// Guard is a scoped, refcounted handle to a slot's value. It must be
// released exactly once; Release reports whether this was the final
// outstanding reference to a slot that had been marked for removal, in which
// case the caller (the owning page) must finish the deferred cleanup.
type Guard[T any] struct {
	s *Slot[T]
}

func unpackState(word uint64) State { return State(stateField.Unpack(word)) }

func packState(word uint64, s State) uint64 {
	return (word &^ stateField.Mask()) | (uint64(s) << stateField.Shift)
}

func (l Layout) unpackRefs(word uint64) uint64 { return l.RefCount.Unpack(word) }
func (l Layout) unpackGen(word uint64) uint64  { return l.Generation.Unpack(word) }

func (l Layout) pack(state State, refs, gen uint64) uint64 {
	word := packState(0, state)
	word = l.RefCount.Pack(word, refs)
	word = l.Generation.Pack(word, gen)
	return word
}

// Generation returns the slot's current generation, for callers (pages)
// that need it without going through Get — e.g. to compute the key of a
// freshly inserted value.
func (s *Slot[T]) Generation(lay Layout) uint64 {
	return lay.unpackGen(s.lifecycle.Load())
}

// Next returns the free-list link. Caller (the owning page, or the single
// goroutine draining/pushing a transfer stack entry) guarantees exclusive
// access.
func (s *Slot[T]) Next() uint64 { return s.next }

// SetNext writes the free-list link.
func (s *Slot[T]) SetNext(next uint64) { s.next = next }

// Get attempts to acquire a shared reference to the slot at the expected
// generation. It fails if the generation has moved on, if the slot is not
// in the NotRemoved state, or if the refcount is already at its configured
// maximum.
func (s *Slot[T]) Get(lay Layout, gen uint64) (Guard[T], bool) {
	lifecycle := s.lifecycle.Load()
	for {
		state := unpackState(lifecycle)
		curGen := lay.unpackGen(lifecycle)
		refs := lay.unpackRefs(lifecycle)

		if gen != curGen || state != NotRemoved {
			return Guard[T]{}, false
		}
		if refs >= lay.MaxRefCount {
			return Guard[T]{}, false
		}

		next := lay.pack(state, refs+1, curGen)
		if s.lifecycle.CompareAndSwap(lifecycle, next) {
			return Guard[T]{s: s}, true
		}
		lifecycle = s.lifecycle.Load()
	}
}

// IsLive reports whether the slot currently holds a value in the
// NotRemoved state, regardless of generation — used by iteration, which
// requires exclusive access to the whole structure and so does not need to
// check a specific generation.
func (s *Slot[T]) IsLive(lay Layout) bool {
	return unpackState(s.lifecycle.Load()) == NotRemoved
}

// Value returns a pointer to the slot's stored value. Valid for as long as
// the caller holds a Guard (or exclusive write access during Insert/
// BeginWrite).
func (s *Slot[T]) Value() *T { return &s.value }

// Value dereferences the guarded slot.
func (g Guard[T]) Value() *T { return g.s.Value() }

// Release decrements the reference count. It reports whether this was the
// last outstanding reference to a slot that had been Marked for removal —
// if so, the lifecycle is advanced to Removing and the caller (the owning
// page) must finish the deferred removal (RemoveValue/ClearValue).
func (g Guard[T]) Release(lay Layout) (deferredRemoval bool) {
	s := g.s
	lifecycle := s.lifecycle.Load()
	for {
		state := unpackState(lifecycle)
		gen := lay.unpackGen(lifecycle)
		refs := lay.unpackRefs(lifecycle)

		var newState State
		var last bool
		if refs <= 1 {
			last = true
			if state == Marked {
				newState = Removing
			} else {
				newState = state
			}
		} else {
			newState = state
		}

		newRefs := refs - 1
		next := lay.pack(newState, newRefs, gen)
		if s.lifecycle.CompareAndSwap(lifecycle, next) {
			return last && state == Marked
		}
		lifecycle = s.lifecycle.Load()
	}
}

// BeginWrite claims an empty slot for writing: it requires the refcount to
// be zero (a referenced slot can never be (re)written), sets state to
// NotRemoved at the current generation, and returns a pointer to the
// now-exclusively-owned storage for the caller to populate. Used by both
// Slab's Insert (which copies a caller-supplied value in) and Pool's
// Create/CreateWith (which hand the pointer to an initializer).
func (s *Slot[T]) BeginWrite(lay Layout) (gen uint64, ptr *T, ok bool) {
	lifecycle := s.lifecycle.Load()
	curGen := lay.unpackGen(lifecycle)
	refs := lay.unpackRefs(lifecycle)

	if refs != 0 {
		return 0, nil, false
	}

	newLifecycle := lay.pack(NotRemoved, 0, curGen)
	if !s.lifecycle.CompareAndSwap(lifecycle, newLifecycle) {
		return 0, nil, false
	}
	return curGen, &s.value, true
}

// Insert stores value into an empty slot, returning the generation it was
// stored at.
func (s *Slot[T]) Insert(lay Layout, value T) (gen uint64, ok bool) {
	gen, ptr, ok := s.BeginWrite(lay)
	if !ok {
		return 0, false
	}
	*ptr = value
	return gen, true
}

// MarkForRemoval transitions a live slot at the expected generation to
// Marked. It reports (removedNow, matched): matched is false if the slot was
// not at the expected generation or was no longer in the NotRemoved state
// (nothing happened); removedNow is true if
// there were no outstanding references, meaning the caller must immediately
// finish the removal via RemoveValue.
func (s *Slot[T]) MarkForRemoval(lay Layout, gen uint64) (removedNow, matched bool) {
	lifecycle := s.lifecycle.Load()
	for {
		curGen := lay.unpackGen(lifecycle)
		if gen != curGen || unpackState(lifecycle) != NotRemoved {
			return false, false
		}
		refs := lay.unpackRefs(lifecycle)
		next := lay.pack(Marked, refs, curGen)
		if s.lifecycle.CompareAndSwap(lifecycle, next) {
			return refs == 0, true
		}
		lifecycle = s.lifecycle.Load()
	}
}

// exponentialBackoff spins with a capped exponent, yielding to the scheduler
// once the spin count grows past the point where busy-waiting helps.
func exponentialBackoff(exp *int) {
	if *exp < 8 {
		n := 1 << uint(*exp)
		for i := 0; i < n; i++ {
			// pause-equivalent: Gosched at exp==0 would yield every
			// iteration, so only spin a tight empty loop here.
		}
		*exp++
		return
	}
	runtime.Gosched()
}

// drainRefs advances the slot to gen's successor and spins (exponential
// back-off, capped, then yielding) until no references remain, then invokes
// onReady while holding exclusive rights to the value. It returns false if
// the slot was not at the expected generation before the advance began — a
// concurrent remove/take already won the race.
func (s *Slot[T]) drainRefs(lay Layout, gen uint64, onReady func(ptr *T)) bool {
	lifecycle := s.lifecycle.Load()
	advanced := false
	spinExp := 0
	nextGen := (gen + 1) & lay.Generation.Max()

	for {
		curGen := lay.unpackGen(lifecycle)
		if !advanced && gen != curGen {
			return false
		}

		if !advanced {
			state := unpackState(lifecycle)
			refs := lay.unpackRefs(lifecycle)
			next := lay.pack(state, refs, nextGen)
			if !s.lifecycle.CompareAndSwap(lifecycle, next) {
				lifecycle = s.lifecycle.Load()
				spinExp = 0
				continue
			}
			advanced = true
			lifecycle = next
		}

		refs := lay.unpackRefs(lifecycle)
		if refs == 0 {
			onReady(&s.value)
			return true
		}

		exponentialBackoff(&spinExp)
		lifecycle = s.lifecycle.Load()
	}
}

// RemoveValue advances the slot past gen, waits for outstanding references
// to drain, takes the stored value out (leaving the zero value behind), and
// reports it via free's Push once the offset is safe to reuse.
func (s *Slot[T]) RemoveValue(lay Layout, gen, offset uint64, free FreeList) (T, bool) {
	var out T
	var zero T
	ok := s.drainRefs(lay, gen, func(ptr *T) {
		out = *ptr
		*ptr = zero
	})
	if !ok {
		return out, false
	}
	free.Push(offset, s.SetNext)
	return out, true
}

// ClearValue is RemoveValue's pool counterpart: rather than taking the value
// out, it hands the still-allocated storage to clearFn (expected to call
// Clearable.Clear, retaining capacity) and leaves it in place for the next
// Create to reuse.
func (s *Slot[T]) ClearValue(lay Layout, gen, offset uint64, free FreeList, clearFn func(*T)) bool {
	ok := s.drainRefs(lay, gen, clearFn)
	if !ok {
		return false
	}
	free.Push(offset, s.SetNext)
	return true
}

// FreeList abstracts over the local (owner-only) free list and the
// transfer stack, so a single RemoveValue/ClearValue implementation can
// serve local and remote callers.
type FreeList interface {
	Push(offset uint64, setNext func(next uint64))
}
