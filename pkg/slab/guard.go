package slab

import (
	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/page"
)

// Guard is a scoped, refcounted reference to a value stored in a Slab. Go
// has no destructors, so unlike the original RAII guard this must be
// Released explicitly — typically via defer immediately after a successful
// Get.
type Guard[T any] struct {
	g   page.Guard[T]
	lay layout.Layout
}

// Value returns a pointer to the guarded value, valid until Release.
func (g Guard[T]) Value() *T { return g.g.Value() }

// Release drops the reference. Guards must be released exactly once.
func (g Guard[T]) Release() {
	g.g.Release(g.lay.SlotLayout())
}
