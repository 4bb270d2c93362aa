package slot

import (
	"sync"
	"testing"

	"github.com/Voskan/slabshard/internal/bitpack"
	"github.com/Voskan/slabshard/internal/stack"
)

func testLayout() Layout {
	refField := bitpack.Field{Shift: 2, Bits: 4}
	genField := bitpack.NewField(refField, 8)
	return Layout{
		RefCount:    refField,
		Generation:  genField,
		MaxRefCount: 4,
	}
}

type recordingFree struct {
	pushed []uint64
}

func (f *recordingFree) Push(offset uint64, setNext func(uint64)) {
	setNext(stack.Null)
	f.pushed = append(f.pushed, offset)
}

// P2: insert-then-get yields a guard dereferencing to the inserted value.
func TestInsertThenGet(t *testing.T) {
	lay := testLayout()
	var s Slot[string]

	gen, ok := s.Insert(lay, "hello")
	if !ok {
		t.Fatal("Insert failed")
	}
	g, ok := s.Get(lay, gen)
	if !ok {
		t.Fatal("Get failed after Insert")
	}
	if *g.Value() != "hello" {
		t.Fatalf("Value() = %q, want %q", *g.Value(), "hello")
	}
	g.Release(lay)
}

func TestGetWrongGenerationFails(t *testing.T) {
	lay := testLayout()
	var s Slot[int]

	gen, _ := s.Insert(lay, 42)
	if _, ok := s.Get(lay, gen+1); ok {
		t.Fatal("Get with wrong generation should fail")
	}
}

// P6: refcount never exceeds MaxRefCount.
func TestGetRespectsMaxRefCount(t *testing.T) {
	lay := testLayout()
	var s Slot[int]
	gen, _ := s.Insert(lay, 1)

	var guards []Guard[int]
	for i := uint64(0); i < lay.MaxRefCount; i++ {
		g, ok := s.Get(lay, gen)
		if !ok {
			t.Fatalf("Get #%d should have succeeded", i)
		}
		guards = append(guards, g)
	}
	if _, ok := s.Get(lay, gen); ok {
		t.Fatal("Get beyond MaxRefCount should fail")
	}
	for _, g := range guards {
		g.Release(lay)
	}
}

// P3 / P5-adjacent: marking for removal rejects subsequent Get calls even
// before the value is actually taken.
func TestMarkForRemovalBlocksGet(t *testing.T) {
	lay := testLayout()
	var s Slot[int]
	gen, _ := s.Insert(lay, 7)

	removedNow, matched := s.MarkForRemoval(lay, gen)
	if !matched {
		t.Fatal("MarkForRemoval should match current generation")
	}
	if !removedNow {
		t.Fatal("MarkForRemoval with zero outstanding refs should report removedNow")
	}
	if _, ok := s.Get(lay, gen); ok {
		t.Fatal("Get should fail once marked for removal")
	}
}

// P5: only one of two concurrent MarkForRemoval calls on the same
// generation can report removedNow/matched.
func TestMarkForRemovalSerializes(t *testing.T) {
	lay := testLayout()
	var s Slot[int]
	gen, _ := s.Insert(lay, 7)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, matched := s.MarkForRemoval(lay, gen)
			results[i] = matched
		}(i)
	}
	wg.Wait()

	matchedCount := 0
	for _, m := range results {
		if m {
			matchedCount++
		}
	}
	if matchedCount != 1 {
		t.Fatalf("expected exactly 1 matching MarkForRemoval, got %d", matchedCount)
	}
}

// P3: ABA resistance — after remove+reinsert the old key's generation no
// longer resolves.
func TestRemoveValueAdvancesGeneration(t *testing.T) {
	lay := testLayout()
	var s Slot[string]
	free := &recordingFree{}

	gen1, _ := s.Insert(lay, "a")
	out, ok := s.RemoveValue(lay, gen1, 0, free)
	if !ok || out != "a" {
		t.Fatalf("RemoveValue = (%q, %v), want (\"a\", true)", out, ok)
	}
	if len(free.pushed) != 1 || free.pushed[0] != 0 {
		t.Fatalf("expected offset 0 pushed to free list, got %v", free.pushed)
	}

	gen2, ok := s.Insert(lay, "b")
	if !ok {
		t.Fatal("re-insert should succeed")
	}
	if gen2 == gen1 {
		t.Fatal("generation should have advanced across remove+reinsert")
	}
	if _, ok := s.Get(lay, gen1); ok {
		t.Fatal("Get with stale generation should fail (ABA)")
	}
	g, ok := s.Get(lay, gen2)
	if !ok || *g.Value() != "b" {
		t.Fatalf("Get(gen2) = (%v, %v), want (\"b\", true)", g, ok)
	}
	g.Release(lay)
}

func TestRemoveValueWaitsForOutstandingGuard(t *testing.T) {
	lay := testLayout()
	var s Slot[int]
	free := &recordingFree{}

	gen, _ := s.Insert(lay, 99)
	g, ok := s.Get(lay, gen)
	if !ok {
		t.Fatal("Get failed")
	}

	done := make(chan struct{})
	go func() {
		s.RemoveValue(lay, gen, 0, free)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RemoveValue returned before outstanding guard released")
	default:
	}

	g.Release(lay)
	<-done

	if len(free.pushed) != 1 {
		t.Fatalf("expected 1 free-list push, got %d", len(free.pushed))
	}
}

func TestClearValueRetainsSlotForReuse(t *testing.T) {
	lay := testLayout()
	var s Slot[*counter]
	c := &counter{}
	gen, _ := s.Insert(lay, c)

	free := &recordingFree{}
	ok := s.ClearValue(lay, gen, 0, free, func(v **counter) { (*v).cleared = true })
	if !ok {
		t.Fatal("ClearValue should succeed")
	}
	if !c.cleared {
		t.Fatal("clearFn should have run")
	}
	// The value pointer itself is retained (not zeroed) — this is the core
	// difference from RemoveValue.
	if s.Value() == nil || *s.Value() != c {
		t.Fatal("ClearValue should retain the existing storage in place")
	}
}

type counter struct{ cleared bool }
