package fiber

// EnsureCapacity checks that the current segment has requiredWords
// available below sp and grows it when not. ErrStackOverflow is a
// catchable failure: it is returned when the backend strategy forbids
// growth or when doubling would exceed the configured cap. Growth must
// only run on the context's own current segment; the caller arranges
// that no other party is scanning it.
func (c *Context) EnsureCapacity(requiredWords int) error {
	if c.current.Available() >= requiredWords {
		return nil
	}
	return c.grow(requiredWords)
}

// MaybeExpandStack keeps the reserve threshold available before entering
// generated code, plus the words the call trampoline pushes.
func (c *Context) MaybeExpandStack() error {
	needed := stackThresholdWords + 8 + stackPaddingWord
	if c.current.Available() >= needed {
		return nil
	}
	return c.grow(needed)
}

// grow replaces the current segment with a larger copy. Capacity doubles
// until it covers the live words plus the requirement, capped at the
// context maximum. The live suffix is copied verbatim, arena state moves
// to the new segment, and every absolute pointer into the old memory
// range (exception chain, call links, saved frame pointers) is
// translated by the move delta. Growth never changes which segment is
// whose parent.
func (c *Context) grow(requiredWords int) error {
	if !c.backend.SupportsGrowth() {
		return ErrStackOverflow
	}
	old := c.current
	old.checkMagic()

	used := old.Used()
	wosize := old.Len()
	for {
		if wosize >= c.maxStackWords {
			return ErrStackOverflow
		}
		wosize *= 2
		if wosize >= used+requiredWords {
			break
		}
	}
	logger.Debug("growing stack", "id", old.ID(), "words", wosize)

	h := old.Handler()
	nw, err := c.AllocSegment(wosize, h.HandleValue, h.HandleExn, h.HandleEffect, old.id)
	if err != nil {
		return ErrStackOverflow
	}

	copy(nw.words[nw.Len()-used:], old.words[old.sp:])
	nw.sp = nw.Len() - used
	nw.handler.Parent = old.handler.Parent

	// Detach the arena stack from the old segment so its release cannot
	// double-free arena memory.
	nw.arenas, nw.localSP = old.arenas, old.localSP
	old.arenas, old.localSP = nil, 0

	delta := nw.High() - old.High()
	c.rewriteExceptionChain(old, nw, delta)
	c.rewriteCallLinks(old, nw, delta)

	c.FreeSegment(old)
	c.current = nw
	return nil
}

// rewriteExceptionChain translates the exception-handler chain for the
// new segment. Each node's slot holds the address of the enclosing node;
// the walk translates links while they still lie in the old range and
// stops at the first address outside it. The asynchronous handler is a
// member of the same chain and is updated in place when encountered.
func (c *Context) rewriteExceptionChain(old, nw *Segment, delta uintptr) {
	p := &c.exnHandler
	for *p != 0 && old.containsFrameAddr(*p) {
		updateAsync := *p == c.asyncExnHandler
		*p = Value(uintptr(*p) + delta)
		if updateAsync {
			c.asyncExnHandler = *p
		}
		if uintptr(*p) == nw.High() {
			break
		}
		p = &nw.words[nw.indexOf(*p)]
	}
}

// rewriteCallLinks repoints every call link that recorded the old
// segment. Multiple links may reference the same segment, since
// callbacks run on existing stacks. The saved frame-pointer chain above
// each boundary record is translated while its links stay in the old
// range; per-link asynchronous trap frames are translated independently
// of which segment the link records.
func (c *Context) rewriteCallLinks(old, nw *Segment, delta uintptr) {
	for l := c.cStack; l != nil; l = l.Prev {
		if l.Seg == old {
			l.Seg = nw
			l.SP = Value(uintptr(l.SP) + delta)

			idx := nw.indexOf(l.SP)
			for {
				prev := nw.At(idx)
				if !old.Contains(prev) {
					break
				}
				tr := Value(uintptr(prev) + delta)
				nw.SetAt(idx, tr)
				idx = nw.indexOf(tr)
			}
		}
		if l.AsyncExnHandler != 0 && old.Contains(l.AsyncExnHandler) {
			l.AsyncExnHandler = Value(uintptr(l.AsyncExnHandler) + delta)
		}
	}
}
