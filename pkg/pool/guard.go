package pool

import (
	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/page"
)

// Guard is a scoped, refcounted reference to a value stored in a Pool.
// Must be Released exactly once.
type Guard[T Clearable] struct {
	g   page.Guard[T]
	lay layout.Layout
}

// Value returns a pointer to the guarded value, valid until Release.
func (g Guard[T]) Value() *T { return g.g.Value() }

// Release drops the reference.
func (g Guard[T]) Release() {
	g.g.Release(g.lay.SlotLayout())
}

// OwnedGuard is Guard's self-sufficient sibling: it holds the *Pool[T]
// itself rather than requiring the caller to keep one around separately,
// the Go-GC-backed analogue of the original implementation's Arc<Self>-based
// get_owned.
type OwnedGuard[T Clearable] struct {
	g    Guard[T]
	pool *Pool[T]
}

// Value returns a pointer to the guarded value, valid until Release.
func (g OwnedGuard[T]) Value() *T { return g.g.Value() }

// Release drops the reference.
func (g OwnedGuard[T]) Release() { g.g.Release() }
