package fiber

import "sync/atomic"

// fiberID is process-wide and monotonically increasing; ids are never
// reused while the process runs.
var fiberID atomic.Int64

func nextFiberID() int64 {
	return fiberID.Add(1) - 1
}

// poisonFreed fills pooled segments with a recognizable pattern on free,
// making stale reads obvious. Off unless tests or debugging enable it.
var poisonFreed = false

const poisonWord Value = 0x4242424242424242

// sizeClass returns the cache bucket for a request, or -1 when the
// request is unpooled. A request is poolable only when it exactly equals
// the base fiber size doubled up to numStackClasses-1 times.
func (c *Context) sizeClass(wosize int) int {
	class := c.cfg.FiberStackWords
	for b := 0; b < numStackClasses; b++ {
		if wosize == class {
			return b
		}
		class += class
	}
	return -1
}

// AllocSegment returns a segment with at least wosize usable words,
// initialized with the handler triple, no parent, an empty stack and
// cleared arena state. Pooled sizes are served from the context cache
// when possible.
func (c *Context) AllocSegment(wosize int, hval, hexn, heff Value, id int64) (*Segment, error) {
	return c.allocClassSegment(wosize, c.sizeClass(wosize), hval, hexn, heff, id)
}

func (c *Context) allocClassSegment(wosize, bucket int, hval, hexn, heff Value, id int64) (*Segment, error) {
	var s *Segment
	if bucket >= 0 && c.cache[bucket] != nil {
		s = c.cache[bucket]
		c.cache[bucket] = s.nextFree
		s.nextFree = nil
	} else {
		var err error
		s, err = c.backend.Allocate(wosize, id)
		if err != nil {
			return nil, err
		}
		s.bucket = bucket
	}

	s.handler = Handler{HandleValue: hval, HandleExn: hexn, HandleEffect: heff}
	s.sp = len(s.words)
	s.exnPtr = 0
	s.id = id
	s.arenas = nil
	s.localSP = 0
	s.magic = segmentMagic

	// Alignment only ever adds capacity.
	if len(s.words) < wosize {
		fatalf("segment %d: capacity %d below request %d", id, len(s.words), wosize)
	}
	return s, nil
}

// AllocFiberStack allocates a base-class fiber stack with a fresh id.
func (c *Context) AllocFiberStack(hval, hexn, heff Value) (*Segment, error) {
	id := nextFiberID()
	s, err := c.allocClassSegment(c.cfg.FiberStackWords, 0, hval, hexn, heff, id)
	if err != nil {
		return nil, err
	}
	logger.Debug("allocated fiber stack", "id", id, "words", c.cfg.FiberStackWords)
	return s, nil
}

// AllocMainStack allocates the initial stack for a main computation or
// an auxiliary thread, with no handlers installed.
func (c *Context) AllocMainStack(wosize int) (*Segment, error) {
	return c.AllocSegment(wosize, 0, 0, 0, nextFiberID())
}

// FreeSegment releases a segment: attached local arenas first (they are
// unreachable once the segment is cached), then the segment itself, onto
// the context's free list for pooled sizes or back to the backend
// otherwise.
func (c *Context) FreeSegment(s *Segment) {
	s.checkMagic()
	freeLocalArenas(s)
	if s.bucket >= 0 {
		if poisonFreed {
			for i := range s.words {
				s.words[i] = poisonWord
			}
		}
		s.nextFree = c.cache[s.bucket]
		c.cache[s.bucket] = s
	} else {
		c.backend.Release(s)
	}
}

// FreeChain releases a whole segment chain, innermost first.
func (c *Context) FreeChain(s *Segment) {
	for s != nil {
		p := s.Parent()
		c.FreeSegment(s)
		s = p
	}
}
