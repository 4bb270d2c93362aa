package pool

// Clearable is implemented by values a Pool can reuse: Clear resets a
// value's observable contents while letting it keep whatever backing
// capacity it already allocated (e.g. a slice's underlying array), which is
// the entire reason to reach for a Pool instead of a Slab.
type Clearable interface {
	Clear()
}
