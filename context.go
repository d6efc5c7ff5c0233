package fiber

// numStackClasses is the number of pooling size classes: the base fiber
// size doubled up to four times.
const numStackClasses = 5

// CallLink records the stack pointer at the moment execution left
// generated code for a foreign call, together with the register state
// the scanner must resume from at the matching boundary and the saved
// frame-pointer chain above the boundary record. Links form a
// per-context list, most recent first.
type CallLink struct {
	Seg  *Segment
	SP   Value // address of the boundary record on the stack
	Regs []Value
	// AsyncExnHandler is the asynchronous exception trap frame active
	// at the time of the call, 0 when none.
	AsyncExnHandler Value
	Prev            *CallLink
}

// Context is one execution context. It exclusively owns its segment
// cache, so cache push and pop need no locking; everything that crosses
// contexts (the fiber id counter, continuation slots) is atomic.
type Context struct {
	backend         Backend
	cfg             Config
	maxStackWords   int
	cache           [numStackClasses]*Segment
	current         *Segment
	cStack          *CallLink
	exnHandler      Value
	asyncExnHandler Value
}

// NewContext creates an execution context over the process backend.
func NewContext(b Backend, cfg Config) *Context {
	return &Context{
		backend:       b,
		cfg:           cfg,
		maxStackWords: cfg.MaxStackWords,
	}
}

// Backend returns the context's stack memory strategy.
func (c *Context) Backend() Backend { return c.backend }

// Current returns the actively executing segment.
func (c *Context) Current() *Segment { return c.current }

// SetCurrent installs the actively executing segment.
func (c *Context) SetCurrent(s *Segment) { c.current = s }

// ExnHandler returns the head of the current exception-handler chain.
func (c *Context) ExnHandler() Value { return c.exnHandler }

// SetExnHandler installs the head of the exception-handler chain.
func (c *Context) SetExnHandler(v Value) { c.exnHandler = v }

// AsyncExnHandler returns the current asynchronous trap frame address.
func (c *Context) AsyncExnHandler() Value { return c.asyncExnHandler }

// SetAsyncExnHandler installs the asynchronous trap frame address.
func (c *Context) SetAsyncExnHandler(v Value) { c.asyncExnHandler = v }

// PushCallLink records a foreign call boundary.
func (c *Context) PushCallLink(l *CallLink) {
	l.Prev = c.cStack
	c.cStack = l
}

// PopCallLink removes and returns the most recent foreign call boundary.
func (c *Context) PopCallLink() *CallLink {
	l := c.cStack
	if l == nil {
		fatalf("pop on an empty call-link list")
		return nil
	}
	c.cStack = l.Prev
	l.Prev = nil
	return l
}

// Close releases every cached segment back to the backend. The context
// must not be used afterwards.
func (c *Context) Close() {
	for i := range c.cache {
		for s := c.cache[i]; s != nil; {
			next := s.nextFree
			s.nextFree = nil
			c.backend.Release(s)
			s = next
		}
		c.cache[i] = nil
	}
}

// SetMaxStackWords adjusts the growth cap. The cap is clamped so the
// in-use portion of the current stack plus the reserve threshold always
// fits.
func (c *Context) SetMaxStackWords(n int) {
	if cur := c.current; cur != nil {
		used := cur.Used() + stackThresholdWords
		if n < used {
			n = used
		}
	}
	if n != c.maxStackWords {
		logger.Debug("changing stack limit", "words", n)
	}
	c.maxStackWords = n
}

// MaxStackWords returns the current growth cap.
func (c *Context) MaxStackWords() int { return c.maxStackWords }
