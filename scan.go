package fiber

// RootFunc receives one discovered root: the slot's current value and
// the address of the slot holding it, so a moving collector can update
// it in place.
type RootFunc func(v Value, addr *Value)

// ScanFlags select scanning behavior for one pass.
type ScanFlags uint32

const (
	// ScanOnlyYoung restricts the pass to young values. Direct-slot
	// scanning then skips the code-address filter, since the action
	// ignores anything that is not a young heap value anyway.
	ScanOnlyYoung ScanFlags = 1 << 0
)

// Scanner walks suspended segment chains for the collector. The
// classifiers come from the embedding runtime: IsRef decides whether a
// word references a managed block (local arena blocks included), IsYoung
// identifies minor-heap values, IsCode identifies code addresses stored
// as naked words on direct-slot stacks.
type Scanner struct {
	// Frames selects compiled-frame mode when non-nil; otherwise every
	// slot between sp and the top is tested individually.
	Frames  *FrameTable
	IsRef   func(Value) bool
	IsYoung func(Value) bool
	IsCode  func(Value) bool
}

// ScanChain reports every live reference in the chain rooted at stack:
// the segment's frames, then its handler triple, then its local
// allocations, then the parent segment, terminating at a segment with no
// parent. regs is the register-save area for the innermost frames.
func (sc *Scanner) ScanChain(ctx *Context, stack *Segment, regs []Value, flags ScanFlags, f RootFunc) {
	for stack != nil {
		stack.checkMagic()

		if sc.Frames != nil {
			sc.scanFrames(ctx, stack, regs, f)
		} else {
			sc.scanSlots(stack, flags, f)
		}

		h := &stack.handler
		if sc.Frames != nil {
			f(h.HandleValue, &h.HandleValue)
			f(h.HandleExn, &h.HandleExn)
			f(h.HandleEffect, &h.HandleEffect)
		} else {
			if sc.scannable(flags, h.HandleValue) {
				f(h.HandleValue, &h.HandleValue)
			}
			if sc.scannable(flags, h.HandleExn) {
				f(h.HandleExn, &h.HandleExn)
			}
			if sc.scannable(flags, h.HandleEffect) {
				f(h.HandleEffect, &h.HandleEffect)
			}
		}

		if sc.Frames != nil {
			sc.scanLocalAllocations(stack, f)
		} else if stack.arenas != nil {
			fatalf("segment %d: local arenas on a direct-slot stack", stack.id)
		}

		stack = stack.Parent()
	}
}

// scannable filters direct-slot values: never report non-references, and
// never hand a code address to the collector unless the pass only looks
// at young values.
func (sc *Scanner) scannable(flags ScanFlags, v Value) bool {
	if sc.IsRef == nil || !sc.IsRef(v) {
		return false
	}
	if flags&ScanOnlyYoung != 0 {
		return true
	}
	return sc.IsCode == nil || !sc.IsCode(v)
}

func (sc *Scanner) scanSlots(s *Segment, flags ScanFlags, f RootFunc) {
	for i := s.sp; i < len(s.words); i++ {
		if v := s.words[i]; sc.scannable(flags, v) {
			f(v, &s.words[i])
		}
	}
}

// scanFrames walks the segment's native frames: read the return address
// at sp, look up its descriptor, report the live slots, advance by the
// frame size. A boundary descriptor marks a return to external code; the
// walk resumes with the register state saved in the context's call-link
// list for this segment and skips the boundary record.
func (sc *Scanner) scanFrames(ctx *Context, s *Segment, regs []Value, f RootFunc) {
	la := s.arenas
	link := ctx.cStack
	nextRegs := func() []Value {
		for ; link != nil; link = link.Prev {
			if link.Seg == s {
				l := link
				link = link.Prev
				return l.Regs
			}
		}
		fatalf("segment %d: no call link at external boundary", s.id)
		return nil
	}

	i := s.sp
	for {
		if i >= len(s.words) {
			return
		}
		ret := s.At(i)
		d := sc.Frames.Lookup(ret)
		if d == nil {
			fatalf("segment %d: no frame descriptor for return address %#x", s.id, uintptr(ret))
			return
		}
		if d.External {
			regs = nextRegs()
			i += chunkHeaderWords
			continue
		}
		for _, ofs := range d.Live {
			var p *Value
			if ofs.IsReg() {
				p = &regs[ofs.Index()]
			} else {
				p = &s.words[i+ofs.Index()]
			}
			sc.visit(la, f, p)
		}
		i += d.FrameWords
	}
}

// visit classifies the value in one slot. Heap references go to the
// collector callback; a reference into a local arena receives the
// transient mark so the arena walk treats the block as live. Returns the
// arena index when this call marked a local block, -1 otherwise.
func (sc *Scanner) visit(la *LocalArenas, f RootFunc, p *Value) int {
	v := *p
	if sc.IsRef == nil || !sc.IsRef(v) {
		return -1
	}
	if sc.IsYoung != nil && sc.IsYoung(v) {
		f(v, p)
		return -1
	}
	if la != nil {
		if ix := la.indexOf(v); ix >= 0 {
			a := &la.arenas[ix]
			hidx := int((uintptr(v)-a.base())/wordBytes) - 1
			hd := a.words[hidx]
			if headerColor(hd) == colorMarkedLocal {
				return -1
			}
			a.words[hidx] = withColor(hd, colorMarkedLocal)
			return ix
		}
	}
	f(v, p)
	return -1
}
