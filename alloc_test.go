package fiber

import (
	"errors"
	"testing"
)

func TestSizeClass(t *testing.T) {
	ctx, _ := testContext(t)
	base := ctx.cfg.FiberStackWords
	tests := []struct {
		wosize int
		want   int
	}{
		{base, 0},
		{base * 2, 1},
		{base * 4, 2},
		{base * 8, 3},
		{base * 16, 4},
		{base * 32, -1},
		{base + 1, -1},
		{base / 2, -1},
		{777, -1},
	}
	for _, tt := range tests {
		if got := ctx.sizeClass(tt.wosize); got != tt.want {
			t.Errorf("sizeClass(%d) = %d, want %d", tt.wosize, got, tt.want)
		}
	}
}

func TestCacheLIFOReuse(t *testing.T) {
	ctx, b := testContext(t)
	s1, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx.FreeSegment(s1)
	ctx.FreeSegment(s2)

	before := b.allocs
	r1, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != s2 {
		t.Error("most recently freed segment was not reused first")
	}
	if r2 != s1 {
		t.Error("earlier freed segment was not reused second")
	}
	if b.allocs != before {
		t.Errorf("backend called %d times on the cached path", b.allocs-before)
	}
}

func TestUnpooledSizeNotCached(t *testing.T) {
	ctx, b := testContext(t)
	const odd = 777
	s, err := ctx.AllocSegment(odd, 0, 0, 0, nextFiberID())
	if err != nil {
		t.Fatal(err)
	}
	ctx.FreeSegment(s)
	if b.releases != 1 {
		t.Fatalf("unpooled segment not released to the backend")
	}
	if _, err := ctx.AllocSegment(odd, 0, 0, 0, nextFiberID()); err != nil {
		t.Fatal(err)
	}
	if b.allocs != 2 {
		t.Errorf("backend called %d times, want 2 (no reuse for unpooled sizes)", b.allocs)
	}
}

func TestCloseReleasesCache(t *testing.T) {
	ctx, b := testContext(t)
	var segs []*Segment
	for i := 0; i < 3; i++ {
		s, err := ctx.AllocFiberStack(0, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		segs = append(segs, s)
	}
	for _, s := range segs {
		ctx.FreeSegment(s)
	}
	if b.releases != 0 {
		t.Fatal("pooled segments released before teardown")
	}
	ctx.Close()
	if b.releases != len(segs) {
		t.Errorf("teardown released %d segments, want %d", b.releases, len(segs))
	}
}

func TestAllocationFailureIsOutOfMemory(t *testing.T) {
	ctx, b := testContext(t)
	b.failNext = true
	_, err := ctx.AllocSegment(777, 0, 0, 0, nextFiberID())
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestFiberIDsMonotonic(t *testing.T) {
	ctx, _ := testContext(t)
	s1, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID() <= s1.ID() {
		t.Errorf("ids not increasing: %d then %d", s1.ID(), s2.ID())
	}
}

func TestHandlerInitialization(t *testing.T) {
	ctx, _ := testContext(t)
	s, err := ctx.AllocSegment(64, 0x10, 0x20, 0x30, nextFiberID())
	if err != nil {
		t.Fatal(err)
	}
	h := s.Handler()
	if h.HandleValue != 0x10 || h.HandleExn != 0x20 || h.HandleEffect != 0x30 {
		t.Errorf("handler triple = %#x/%#x/%#x", uintptr(h.HandleValue), uintptr(h.HandleExn), uintptr(h.HandleEffect))
	}
	if h.Parent != nil {
		t.Error("fresh segment has a parent")
	}
}

func TestFreeSegmentPoison(t *testing.T) {
	ctx, _ := testContext(t)
	poisonFreed = true
	t.Cleanup(func() { poisonFreed = false })

	s, err := ctx.AllocFiberStack(0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.Push(0x1234)
	ctx.FreeSegment(s)
	for i, v := range s.words {
		if v != poisonWord {
			t.Fatalf("word %d = %#x, want poison", i, uintptr(v))
		}
	}
}
