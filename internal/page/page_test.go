package page

import (
	"testing"

	"github.com/Voskan/slabshard/internal/bitpack"
	"github.com/Voskan/slabshard/internal/slot"
)

func testLayout() slot.Layout {
	refField := bitpack.Field{Shift: 2, Bits: 6}
	genField := bitpack.NewField(refField, 16)
	return slot.Layout{
		RefCount:    refField,
		Generation:  genField,
		MaxRefCount: refField.Max(),
	}
}

func TestPageInsertThenGet(t *testing.T) {
	lay := testLayout()
	p := New[string](4, 0, nil)

	addr, gen, ok := p.Insert(lay, "x")
	if !ok {
		t.Fatal("Insert failed")
	}
	g, ok := p.Get(lay, addr, gen)
	if !ok || *g.Value() != "x" {
		t.Fatalf("Get = (%v,%v), want (\"x\", true)", g, ok)
	}
	g.Release(lay)
}

// Scenario 2 (tiny config): a 2-slot page accepts exactly two inserts, the
// third fails, and after a take a new insert succeeds again.
func TestPageCapacityExhaustionAndReuse(t *testing.T) {
	lay := testLayout()
	p := New[int](2, 0, nil)

	a1, g1, ok := p.Insert(lay, 1)
	if !ok {
		t.Fatal("first insert should succeed")
	}
	a2, g2, ok := p.Insert(lay, 2)
	if !ok {
		t.Fatal("second insert should succeed")
	}
	if a1 == a2 {
		t.Fatal("two live inserts should not share an address")
	}
	if _, _, ok := p.Insert(lay, 3); ok {
		t.Fatal("third insert into a 2-slot page should fail")
	}

	v, ok := p.Take(lay, a1, g1, p.LocalFreeList())
	if !ok || v != 1 {
		t.Fatalf("Take = (%d,%v), want (1,true)", v, ok)
	}

	a3, g3, ok := p.Insert(lay, 4)
	if !ok {
		t.Fatal("insert after take should succeed")
	}
	if a3 != a1 {
		t.Fatalf("expected reuse of freed address %d, got %d", a1, a3)
	}
	if g3 == g1 {
		t.Fatal("reused slot should carry a new generation")
	}

	// The untouched second value is still intact.
	g, ok := p.Get(lay, a2, g2)
	if !ok || *g.Value() != 2 {
		t.Fatalf("Get(a2) = (%v,%v), want (2,true)", g, ok)
	}
	g.Release(lay)
}

func TestPageRemoveThenGetFails(t *testing.T) {
	lay := testLayout()
	p := New[int](4, 0, nil)

	addr, gen, _ := p.Insert(lay, 5)
	if !p.Remove(lay, addr, gen, p.LocalFreeList()) {
		t.Fatal("Remove should succeed")
	}
	if _, ok := p.Get(lay, addr, gen); ok {
		t.Fatal("Get after Remove should fail")
	}
}

func TestPageDeferredRemovalOnGuardRelease(t *testing.T) {
	lay := testLayout()
	p := New[int](1, 0, nil)

	addr, gen, _ := p.Insert(lay, 11)
	g, ok := p.Get(lay, addr, gen)
	if !ok {
		t.Fatal("Get failed")
	}

	if !p.Remove(lay, addr, gen, p.TransferStack()) {
		t.Fatal("Remove while referenced should still report success (matched)")
	}
	if _, ok := p.Get(lay, addr, gen); ok {
		t.Fatal("Get should fail once marked, even before guard releases")
	}

	g.Release(lay)

	newAddr, _, ok := p.Insert(lay, 22)
	if !ok || newAddr != addr {
		t.Fatalf("expected deferred removal to free address %d for reuse, got addr=%d ok=%v", addr, newAddr, ok)
	}
}

func TestPageResolveRejectsOutOfRange(t *testing.T) {
	lay := testLayout()
	p := New[int](4, 100, nil)

	if _, ok := p.Get(lay, 50, 0); ok {
		t.Fatal("address below prevSize should not resolve")
	}
	if _, ok := p.Get(lay, 200, 0); ok {
		t.Fatal("address beyond page size should not resolve")
	}
}

func TestPageForEachSkipsRemoved(t *testing.T) {
	lay := testLayout()
	p := New[int](4, 0, nil)

	a1, g1, _ := p.Insert(lay, 1)
	_, _, _ = p.Insert(lay, 2)
	p.Remove(lay, a1, g1, p.LocalFreeList())

	var seen []int
	p.ForEach(lay, func(v *int) { seen = append(seen, *v) })
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("ForEach = %v, want [2]", seen)
	}
}

func TestPageMarkClearRetainsCapacity(t *testing.T) {
	lay := testLayout()
	p := New[*flag](4, 0, nil)

	f := &flag{}
	addr, gen, _ := p.Insert(lay, f)

	ok := p.MarkClear(lay, addr, gen, p.LocalFreeList(), func(v **flag) { (*v).cleared = true })
	if !ok {
		t.Fatal("MarkClear should succeed")
	}
	if !f.cleared {
		t.Fatal("clearFn should have run")
	}
}

type flag struct{ cleared bool }
