package fiber

import "unsafe"

// Handler is the record placed past the high end of a segment: the
// handler triple installed by the delimiter, plus the parent link that
// chains segments into a delimited continuation. The outermost segment
// of a chain has a nil parent.
type Handler struct {
	HandleValue  Value
	HandleExn    Value
	HandleEffect Value
	Parent       *Segment
}

const segmentMagic = 0x42

// Segment is one allocated unit of stack memory plus its handler record.
// The value stack grows downward through the usable region: sp is the
// index of the current top, len(words) when the stack is empty.
type Segment struct {
	id       int64
	bucket   int     // size-class bucket, -1 when unpooled
	byteSize uintptr // total allocation length, header and trailer included
	mapping  []byte  // backing mapping for the mmap strategies, nil otherwise
	buf      []Value // backing words for the heap strategy, nil otherwise
	words    []Value // usable stack region
	sp       int
	exnPtr   Value // head of the exception-handler chain, 0 when none
	arenas   *LocalArenas
	localSP  int      // non-positive word offset from the top arena's end
	nextFree *Segment // cache free-list link, meaningful only while pooled
	handler  Handler
	magic    uint8
}

// ID returns the segment's fiber id, unique for the process lifetime.
func (s *Segment) ID() int64 { return s.id }

// Len returns the usable capacity in words.
func (s *Segment) Len() int { return len(s.words) }

// SP returns the index of the current stack top.
func (s *Segment) SP() int { return s.sp }

// SetSP moves the stack top. The index must stay within the usable
// region.
func (s *Segment) SetSP(sp int) {
	if sp < 0 || sp > len(s.words) {
		fatalf("segment %d: sp %d out of range [0,%d]", s.id, sp, len(s.words))
		return
	}
	s.sp = sp
}

// Used returns the number of live words between sp and the top.
func (s *Segment) Used() int { return len(s.words) - s.sp }

// Available returns the number of free words below sp.
func (s *Segment) Available() int { return s.sp }

// Base returns the address of the lowest usable word.
func (s *Segment) Base() uintptr {
	return uintptr(unsafe.Pointer(&s.words[0]))
}

// High returns the address one past the highest usable word.
func (s *Segment) High() uintptr {
	return s.Base() + uintptr(len(s.words))*wordBytes
}

// Contains reports whether v is an address inside the usable region.
func (s *Segment) Contains(v Value) bool {
	a := uintptr(v)
	return a >= s.Base() && a < s.High()
}

// containsFrameAddr is the variant used for exception-chain links, which
// may legitimately point one past the last word.
func (s *Segment) containsFrameAddr(v Value) bool {
	a := uintptr(v)
	return a > s.Base() && a <= s.High()
}

// At returns the word at index i.
func (s *Segment) At(i int) Value {
	if i < 0 || i >= len(s.words) {
		fatalf("segment %d: index %d out of range [0,%d)", s.id, i, len(s.words))
		return 0
	}
	return s.words[i]
}

// SetAt stores v at index i.
func (s *Segment) SetAt(i int, v Value) {
	if i < 0 || i >= len(s.words) {
		fatalf("segment %d: index %d out of range [0,%d)", s.id, i, len(s.words))
		return
	}
	s.words[i] = v
}

// AddrOf returns the address of the word at index i.
func (s *Segment) AddrOf(i int) Value {
	if i < 0 || i >= len(s.words) {
		fatalf("segment %d: index %d out of range [0,%d)", s.id, i, len(s.words))
		return 0
	}
	return Value(uintptr(unsafe.Pointer(&s.words[i])))
}

// indexOf maps an address inside the usable region back to its word
// index.
func (s *Segment) indexOf(v Value) int {
	d := uintptr(v) - s.Base()
	if d%wordBytes != 0 || d >= uintptr(len(s.words))*wordBytes {
		fatalf("segment %d: address %#x outside usable region", s.id, uintptr(v))
		return 0
	}
	return int(d / wordBytes)
}

// Push makes v the new stack top.
func (s *Segment) Push(v Value) {
	if s.sp == 0 {
		fatalf("segment %d: push on a full stack", s.id)
		return
	}
	s.sp--
	s.words[s.sp] = v
}

// Pop removes and returns the stack top.
func (s *Segment) Pop() Value {
	if s.sp == len(s.words) {
		fatalf("segment %d: pop on an empty stack", s.id)
		return 0
	}
	v := s.words[s.sp]
	s.sp++
	return v
}

// Handler returns the segment's handler record.
func (s *Segment) Handler() *Handler { return &s.handler }

// Parent returns the enclosing segment of the chain, nil for the
// outermost one.
func (s *Segment) Parent() *Segment { return s.handler.Parent }

// SetParent links the segment under a new enclosing delimiter.
func (s *Segment) SetParent(p *Segment) { s.handler.Parent = p }

// ExnPtr returns the head of the segment's exception-handler chain.
func (s *Segment) ExnPtr() Value { return s.exnPtr }

// SetExnPtr installs the head of the exception-handler chain.
func (s *Segment) SetExnPtr(v Value) { s.exnPtr = v }

// FirstFrame reports the return address at the top of a suspended
// segment together with its frame position, for resuming compiled code.
func (s *Segment) FirstFrame() (retaddr Value, fp int) {
	return s.At(s.sp), s.sp
}

func (s *Segment) checkMagic() {
	if s.magic != segmentMagic {
		fatalf("segment %d: bad magic %#x", s.id, s.magic)
	}
}
