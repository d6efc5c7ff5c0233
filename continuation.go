package fiber

import "sync/atomic"

// MarkHook is implemented by the collector. Before a continuation's
// chain changes hands while a concurrent mark phase may be running, the
// chain is darkened (reported reachable) so the collector cannot miss it
// mid-transfer. This is a publication barrier, not a lock.
type MarkHook interface {
	MarkingInProgress() bool
	DarkenChain(*Segment)
}

type markHookBox struct{ h MarkHook }

var markHook atomic.Pointer[markHookBox]

// SetMarkHook installs the collector's marking hook for the process.
func SetMarkHook(h MarkHook) {
	if h == nil {
		markHook.Store(nil)
		return
	}
	markHook.Store(&markHookBox{h: h})
}

func currentMarkHook() MarkHook {
	if b := markHook.Load(); b != nil {
		return b.h
	}
	return nil
}

// Continuation is a one-shot, atomically guarded owner of a suspended
// segment chain. A populated continuation holds the only reference to
// its chain; once emptied it stays empty, except through an explicit
// Replace by a privileged caller.
type Continuation struct {
	stack atomic.Pointer[Segment]
}

// NewContinuation captures chain into a fresh continuation. The chain
// must not be otherwise referenced by any active computation.
func NewContinuation(chain *Segment) *Continuation {
	c := &Continuation{}
	c.stack.Store(chain)
	return c
}

// Take empties the continuation and returns its chain. Of any set of
// concurrent calls exactly one succeeds; the rest, and every later call,
// get ErrAlreadyResumed. Losers must not retry the same continuation.
func (c *Continuation) Take() (*Segment, error) {
	s := c.take()
	if s == nil {
		return nil, ErrAlreadyResumed
	}
	return s, nil
}

func (c *Continuation) take() *Segment {
	// Barrier between execution and any context that might be marking
	// this continuation: darken the chain before it changes hands.
	if h := currentMarkHook(); h != nil && h.MarkingInProgress() {
		if s := c.stack.Load(); s != nil {
			h.DarkenChain(s)
		}
	}
	return c.stack.Swap(nil)
}

// TakeAndUpdateHandlers is Take, re-delimiting the chain's outermost
// segment under a new handler triple before returning it.
func (c *Continuation) TakeAndUpdateHandlers(hval, hexn, heff Value) (*Segment, error) {
	s, err := c.Take()
	if err != nil {
		return nil, err
	}
	outer := s
	for outer.Parent() != nil {
		outer = outer.Parent()
	}
	outer.handler.HandleValue = hval
	outer.handler.HandleExn = hexn
	outer.handler.HandleEffect = heff
	return s, nil
}

// Replace installs chain into an emptied continuation for controlled
// reuse. The continuation must be empty.
func (c *Continuation) Replace(chain *Segment) {
	if !c.stack.CompareAndSwap(nil, chain) {
		fatalf("replace of a populated continuation")
	}
}

// Drop abandons the continuation, releasing its segments through the
// given context. A no-op when already taken.
func (c *Continuation) Drop(ctx *Context) {
	if s := c.take(); s != nil {
		ctx.FreeChain(s)
	}
}
