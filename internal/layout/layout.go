// Package layout turns the handful of configuration constants a caller picks
// (max threads, max pages, initial page size, reserved bits) into the
// concrete bit-field geometry used by every other internal package: how a
// key's Address/ThreadID/Generation fields are packed, and how wide the
// matching Generation field inside a slot's lifecycle word must be.
//
// This is the Go analogue of the teacher's pkg/config.go: a validated,
// immutable bundle computed once at construction time and threaded through
// the rest of the allocator.
package layout

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/Voskan/slabshard/internal/bitpack"
	"github.com/Voskan/slabshard/internal/slot"
)

// WordBits is the width of the machine word every key and lifecycle value is
// packed into. The allocator only supports 64-bit keys.
const WordBits = 64

// Config is the compile-time-visible configuration bundle described in
// spec §4.1 / §6.
type Config struct {
	// MaxThreads bounds how many distinct participants (threads /
	// goroutine registrations) may hold a shard concurrently.
	MaxThreads uint64
	// MaxPages bounds the length of each shard's page ladder.
	MaxPages uint64
	// InitialPageSize is the slot count of a shard's first page; later
	// pages double in size.
	InitialPageSize uint64
	// ReservedBits is the number of high bits of a key left for callers to
	// repurpose; the allocator never touches them.
	ReservedBits uint64
}

// DefaultConfig returns the §6 defaults, scaled for a 64-bit machine word:
// 4096 threads, word-width/2 pages, 32-slot initial pages, no reserved bits.
func DefaultConfig() Config {
	return Config{
		MaxThreads:      4096,
		MaxPages:        WordBits / 2,
		InitialPageSize: 32,
		ReservedBits:    0,
	}
}

// Layout is the validated, derived geometry for a Config: the bit widths of
// each key field and of the lifecycle word's refcount/generation fields, plus
// the page-size ladder itself.
type Layout struct {
	Config Config

	// Key fields, least-significant first: Address, ThreadID, Generation.
	Address    bitpack.Field
	ThreadID   bitpack.Field
	Generation bitpack.Field

	// RefCount is the lifecycle word's refcount field. The lifecycle word
	// is a separate uint64 from the key and reuses the key's Generation
	// field at the same position, so RefCount and the 2-bit state tag
	// claim every bit below Generation; the reserved high bits above it
	// stay unused in the lifecycle word.
	RefCount bitpack.Field
	// MaxRefCount is the statically bounded maximum refcount (spec
	// invariant 4): the smaller of what RefCount's bit width allows and a
	// sane operational ceiling, so overflow is reachable in tests without
	// needing billions of concurrent guards.
	MaxRefCount uint64

	// ActualInitialPageSize is InitialPageSize rounded up to a power of
	// two.
	ActualInitialPageSize uint64
	// TotalCapacityPerShard is the sum of every page's slot count.
	TotalCapacityPerShard uint64
}

var (
	ErrZeroMaxThreads      = errors.New("layout: MaxThreads must be > 0")
	ErrZeroMaxPages        = errors.New("layout: MaxPages must be > 0")
	ErrZeroInitialPageSize = errors.New("layout: InitialPageSize must be > 0")
	ErrBitsExhausted       = errors.New("layout: configuration does not fit in a 64-bit word")
)

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	return uint64(1) << bits.Len64(n)
}

// Validate computes and validates the derived Layout for cfg, performing the
// §4.1/§9 start-up assertions: power-of-two sizes, total bits within the
// word width, reserved bits fitting alongside them.
func Validate(cfg Config) (Layout, error) {
	if cfg.MaxThreads == 0 {
		return Layout{}, ErrZeroMaxThreads
	}
	if cfg.MaxPages == 0 {
		return Layout{}, ErrZeroMaxPages
	}
	if cfg.InitialPageSize == 0 {
		return Layout{}, ErrZeroInitialPageSize
	}

	actualInitial := nextPow2(cfg.InitialPageSize)
	maxShards := nextPow2(cfg.MaxThreads)

	// Total per-shard capacity across the page ladder:
	// initial * (2^MaxPages - 1), the sum of a doubling geometric series.
	var totalCap uint64
	if cfg.MaxPages >= 64 {
		return Layout{}, ErrBitsExhausted
	}
	totalCap = actualInitial * ((uint64(1) << cfg.MaxPages) - 1)
	if totalCap == 0 {
		totalCap = actualInitial
	}

	addrBits := uint(bits.Len64(totalCap - 1))
	if addrBits == 0 {
		addrBits = 1
	}
	tidBits := uint(bits.Len64(maxShards - 1))
	if tidBits == 0 {
		tidBits = 1
	}

	used := uint64(addrBits) + uint64(tidBits) + cfg.ReservedBits
	if used >= WordBits {
		return Layout{}, fmt.Errorf("%w: address(%d)+thread(%d)+reserved(%d) bits leave no room for a generation",
			ErrBitsExhausted, addrBits, tidBits, cfg.ReservedBits)
	}
	genBits := uint(WordBits - used)

	addrField := bitpack.Field{Shift: 0, Bits: addrBits}
	tidField := bitpack.NewField(addrField, tidBits)
	genField := bitpack.NewField(tidField, genBits)

	// Lifecycle word: 2 bits of state, then refcount, then a generation
	// field of the same width as the key's, so a key's generation and a
	// slot's current generation are always directly comparable.
	if genField.Shift <= 2 {
		return Layout{}, fmt.Errorf("%w: generation field (%d bits) leaves no room for refcount", ErrBitsExhausted, genBits)
	}
	refBits := genField.Shift - 2
	const operationalRefCeiling = uint64(1)<<20 - 1
	refField := bitpack.Field{Shift: 2, Bits: refBits}
	maxRefs := refField.Max()
	if maxRefs > operationalRefCeiling {
		maxRefs = operationalRefCeiling
	}

	return Layout{
		Config:                cfg,
		Address:               addrField,
		ThreadID:              tidField,
		Generation:             genField,
		RefCount:              refField,
		MaxRefCount:           maxRefs,
		ActualInitialPageSize: actualInitial,
		TotalCapacityPerShard: totalCap,
	}, nil
}

// PageSize returns the slot count of the n-th page (0-indexed); pages double
// in size starting from ActualInitialPageSize.
func (l Layout) PageSize(n uint64) uint64 {
	return l.ActualInitialPageSize << n
}

// PageIndex computes which page in the doubling ladder contains the given
// per-shard address, via the closed-form in spec §4.4: no search loop, a
// single leading-zeros computation.
func (l Layout) PageIndex(address uint64) uint64 {
	n := (address / l.ActualInitialPageSize) + 1
	return uint64(bits.Len64(n) - 1)
}

// PagePrevSize returns the total slot count of every page before page n
// (i.e. the address at which page n begins in the shard's linear space).
func (l Layout) PagePrevSize(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return l.ActualInitialPageSize * ((uint64(1) << n) - 1)
}

// SlotLayout extracts the lifecycle-word geometry (refcount field,
// generation field, and the operational refcount ceiling) that
// internal/slot needs to operate on a slot independent of the key layout.
func (l Layout) SlotLayout() slot.Layout {
	return slot.Layout{
		RefCount:    l.RefCount,
		Generation:  l.Generation,
		MaxRefCount: l.MaxRefCount,
	}
}

// PackKey combines address, threadID and generation into one key.
func (l Layout) PackKey(address, threadID, generation uint64) uint64 {
	var word uint64
	word = l.Address.Pack(word, address)
	word = l.ThreadID.Pack(word, threadID)
	word = l.Generation.Pack(word, generation)
	return word
}

// UnpackKey splits a key back into its three fields.
func (l Layout) UnpackKey(key uint64) (address, threadID, generation uint64) {
	return l.Address.Unpack(key), l.ThreadID.Unpack(key), l.Generation.Unpack(key)
}
