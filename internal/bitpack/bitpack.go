// Package bitpack implements the field-packing discipline shared by every
// layer of the allocator: keys, lifecycle words, and page addresses are all
// built out of adjacent, non-overlapping bit ranges inside a single uint64.
//
// A Field describes one such range. Packing a value into a word clears the
// field's bits and ORs in the shifted value; unpacking masks and shifts back
// out. pack/unpack are exact inverses for any value that fits the field's
// width — callers are responsible for keeping values in range except where
// this package asserts it for them.
package bitpack

import "fmt"

// Field is a contiguous, self-contained bit range within a uint64: bits
// [Shift, Shift+Bits) belong to it and no other Field may overlap that
// range.
type Field struct {
	Shift uint
	Bits  uint
}

// NewField builds a Field starting immediately above prev (prev may be the
// zero Field, in which case this is the least-significant field).
func NewField(prev Field, bits uint) Field {
	return Field{Shift: prev.Shift + prev.Bits, Bits: bits}
}

// Max returns the largest value the field can hold.
func (f Field) Max() uint64 {
	if f.Bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << f.Bits) - 1
}

// Mask returns the field's bits, in position.
func (f Field) Mask() uint64 {
	return f.Max() << f.Shift
}

// Pack clears the field inside into and ORs value<<shift into place.
// Panics if value does not fit the field's width — a field overflow is a
// configuration bug, not a runtime condition callers should recover from.
func (f Field) Pack(into, value uint64) uint64 {
	if value > f.Max() {
		panic(fmt.Sprintf("bitpack: value %#x does not fit field width %d (max %#x)", value, f.Bits, f.Max()))
	}
	return (into &^ f.Mask()) | (value << f.Shift)
}

// Unpack extracts the field's value from word.
func (f Field) Unpack(word uint64) uint64 {
	return (word >> f.Shift) & f.Max()
}

// Fits reports whether value fits within the field without panicking.
func (f Field) Fits(value uint64) bool {
	return value <= f.Max()
}
