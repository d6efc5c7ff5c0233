package fiber

import (
	"testing"
	"unsafe"
)

// localField returns the address of payload word i of a local block.
// Index -1 addresses the header.
func localField(obj Value, i int) *Value {
	return (*Value)(unsafe.Pointer(uintptr(obj) + uintptr(i)*wordBytes))
}

// markLocal gives obj the transient mark, as a stack frame slot
// referencing it would.
func markLocal(t *testing.T, sc *Scanner, s *Segment, obj Value) {
	t.Helper()
	slot := obj
	if ix := sc.visit(s.LocalArenas(), func(Value, *Value) {}, &slot); ix < 0 {
		t.Fatalf("address %#x not recognized as a local block", uintptr(obj))
	}
}

func collectRoots(roots *[]Value) RootFunc {
	return func(v Value, addr *Value) { *roots = append(*roots, v) }
}

func TestLocalAllocBumpsDownward(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o1 := s.LocalAlloc(2, TagScannable)
	o2 := s.LocalAlloc(3, TagScannable)

	if got := s.LocalSP(); got != -7 {
		t.Errorf("local sp = %d, want -7 after 2+3 payload words", got)
	}
	if uintptr(o2) >= uintptr(o1) {
		t.Error("later allocation not below the earlier one")
	}
	la := s.LocalArenas()
	if la == nil || len(la.arenas) != 1 {
		t.Fatal("expected a single arena")
	}
	if hd := *localField(o1, -1); hd != makeHeader(2, TagScannable, colorLocal) {
		t.Errorf("first header = %#x", uintptr(hd))
	}
	if hd := *localField(o2, -1); hd != makeHeader(3, TagScannable, colorLocal) {
		t.Errorf("second header = %#x", uintptr(hd))
	}
}

func TestArenaPushDoubles(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.LocalAlloc(1, TagOpaque)
	if got := len(s.LocalArenas().arenas[0].words); got != arenaInitWords {
		t.Fatalf("first arena %d words, want %d", got, arenaInitWords)
	}

	// Too big for the remainder of the first arena.
	s.LocalAlloc(5000, TagOpaque)
	la := s.LocalArenas()
	if len(la.arenas) != 2 {
		t.Fatalf("arena count = %d, want 2", len(la.arenas))
	}
	if got := len(la.arenas[1].words); got != 2*arenaInitWords {
		t.Errorf("second arena %d words, want doubled %d", got, 2*arenaInitWords)
	}
	if got := s.LocalSP(); got != -5003 {
		t.Errorf("local sp = %d, want -5003", got)
	}
}

func TestScanLocalAllocations(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o1 := s.LocalAlloc(2, TagScannable)
	o2 := s.LocalAlloc(2, TagScannable)
	*localField(o1, 0) = 0x1000 // heap
	*localField(o1, 1) = 0x3   // immediate
	*localField(o2, 0) = o1    // older block, forward during the walk
	*localField(o2, 1) = 0x2000

	sc := &Scanner{IsRef: isRef}
	markLocal(t, sc, s, o2)

	var roots []Value
	sc.scanLocalAllocations(s, collectRoots(&roots))

	want := map[Value]bool{0x1000: true, 0x2000: true}
	if len(roots) != len(want) {
		t.Fatalf("roots = %#v, want exactly the two heap references", roots)
	}
	for _, v := range roots {
		if !want[v] {
			t.Errorf("unexpected root %#x", uintptr(v))
		}
	}
	if headerColor(*localField(o1, -1)) != colorLocal {
		t.Error("mark not reset on the transitively reached block")
	}
	if headerColor(*localField(o2, -1)) != colorLocal {
		t.Error("mark not reset on the directly reached block")
	}
}

func TestScanSkipsDeadBlocks(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	dead := s.LocalAlloc(2, TagScannable)
	*localField(dead, 0) = 0x1000
	*localField(dead, 1) = 0x2000

	sc := &Scanner{IsRef: isRef}
	var roots []Value
	sc.scanLocalAllocations(s, collectRoots(&roots))
	if len(roots) != 0 {
		t.Errorf("unmarked block contributed roots %#v", roots)
	}
}

func TestScanOpaquePayloadNotScanned(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o := s.LocalAlloc(2, TagOpaque)
	*localField(o, 0) = 0x1000
	*localField(o, 1) = 0x2000

	sc := &Scanner{IsRef: isRef}
	markLocal(t, sc, s, o)

	var roots []Value
	sc.scanLocalAllocations(s, collectRoots(&roots))
	if len(roots) != 0 {
		t.Errorf("opaque payload contributed roots %#v", roots)
	}
	if headerColor(*localField(o, -1)) != colorLocal {
		t.Error("mark not reset on the opaque block")
	}
}

func TestScanClosureSkipsCodeSlot(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o := s.LocalAlloc(3, TagClosure)
	*localField(o, 0) = 0x4000 // code pointer, even but never reported
	*localField(o, 1) = 0x6000
	*localField(o, 2) = 0x5

	sc := &Scanner{IsRef: isRef}
	markLocal(t, sc, s, o)

	var roots []Value
	sc.scanLocalAllocations(s, collectRoots(&roots))
	if len(roots) != 1 || roots[0] != 0x6000 {
		t.Errorf("roots = %#v, want only the environment reference", roots)
	}
}

func TestBackwardLocalPointerIsFatal(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o1 := s.LocalAlloc(2, TagScannable)
	o2 := s.LocalAlloc(2, TagScannable)
	*localField(o1, 0) = o2 // older block referencing a newer one
	*localField(o1, 1) = 0x3
	*localField(o2, 0) = 0x3
	*localField(o2, 1) = 0x3

	sc := &Scanner{IsRef: isRef}
	markLocal(t, sc, s, o1)

	interceptFatal(t)
	expectFatal(t, "backwards local pointer", func() {
		sc.scanLocalAllocations(s, func(Value, *Value) {})
	})
}

func TestScanCrossesArenaBoundary(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	o1 := s.LocalAlloc(2, TagScannable)
	*localField(o1, 0) = 0x1000
	*localField(o1, 1) = 0x3
	s.LocalAlloc(5000, TagOpaque) // spacer forcing a second arena
	o3 := s.LocalAlloc(1, TagScannable)
	*localField(o3, 0) = 0x2000

	if len(s.LocalArenas().arenas) != 2 {
		t.Fatal("spacer did not force a second arena")
	}

	sc := &Scanner{IsRef: isRef}
	markLocal(t, sc, s, o1)
	markLocal(t, sc, s, o3)

	var roots []Value
	sc.scanLocalAllocations(s, collectRoots(&roots))

	want := map[Value]bool{0x1000: true, 0x2000: true}
	if len(roots) != len(want) {
		t.Fatalf("roots = %#v, want one per arena", roots)
	}
	for _, v := range roots {
		if !want[v] {
			t.Errorf("unexpected root %#x", uintptr(v))
		}
	}
}
