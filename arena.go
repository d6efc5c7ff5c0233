package fiber

import "unsafe"

// Local arenas are downward bump regions attached to a segment, used for
// scoped allocations cheaper than the heap. Every object carries one
// header word; the "local stack pointer" is a non-positive word offset
// from the end of the most recently pushed arena and keeps decreasing
// across arena pushes, so an offset addresses the same object for the
// rest of the segment's life.
//
// An object in arena i may only be referenced from arena i or later
// arenas, or from the ordinary heap and stack. A reference out of an
// earlier arena into a later one is a fatal invariant violation.

const arenaInitWords = 1 << 12

// headerUninit poisons arena words that were never allocated. During
// scanning it marks the boundary where the walk pops to the previous
// arena.
const headerUninit = ^Value(0)

// Object tags. Tags at or above tagNoScan have opaque payloads.
const (
	TagScannable uint8 = 0
	TagClosure   uint8 = 247
	tagNoScan    uint8 = 251
	TagOpaque    uint8 = 251
)

// Transient colors used while scanning.
const (
	colorLocal       Value = 0 // resident, unmarked
	colorMarkedLocal Value = 1 // reachable, mark reset before the scan ends
)

// Header layout: [payload words:54][color:2][tag:8].
func makeHeader(wosize int, tag uint8, color Value) Value {
	return Value(wosize)<<10 | color<<8 | Value(tag)
}

func headerWosize(h Value) int  { return int(h >> 10) }
func headerColor(h Value) Value { return (h >> 8) & 3 }
func headerTag(h Value) uint8   { return uint8(h) }

func withColor(h, c Value) Value {
	return h&^(3<<8) | c<<8
}

type localArena struct {
	words []Value
}

func (a *localArena) base() uintptr {
	return uintptr(unsafe.Pointer(&a.words[0]))
}

func (a *localArena) end() uintptr {
	return a.base() + uintptr(len(a.words))*wordBytes
}

func (a *localArena) containsAddr(v Value) bool {
	ad := uintptr(v)
	return ad >= a.base() && ad < a.end()
}

// LocalArenas is the ordered arena stack attached to a segment. Index 0
// is the least recently pushed arena.
type LocalArenas struct {
	arenas []localArena
}

func (la *LocalArenas) top() *localArena {
	return &la.arenas[len(la.arenas)-1]
}

// indexOf returns the index of the arena containing the address, or -1
// when the address is not local to this stack.
func (la *LocalArenas) indexOf(v Value) int {
	for i := range la.arenas {
		if la.arenas[i].containsAddr(v) {
			return i
		}
	}
	return -1
}

// LocalArenas returns the segment's arena stack, nil when it has none.
func (s *Segment) LocalArenas() *LocalArenas { return s.arenas }

// LocalSP returns the segment's local stack pointer.
func (s *Segment) LocalSP() int { return s.localSP }

// LocalAlloc bump-allocates wosize payload words plus a header in the
// segment's arena stack, pushing a new arena when the current one is
// exhausted. Returns the address of the first payload word.
func (s *Segment) LocalAlloc(wosize int, tag uint8) Value {
	if wosize <= 0 {
		fatalf("segment %d: local allocation of %d words", s.id, wosize)
		return 0
	}
	newSP := s.localSP - (wosize + 1)
	if s.arenas == nil || len(s.arenas.arenas) == 0 || -newSP > len(s.arenas.top().words) {
		s.pushArena(-newSP)
	}
	s.localSP = newSP
	top := s.arenas.top()
	idx := len(top.words) + newSP
	top.words[idx] = makeHeader(wosize, tag, colorLocal)
	return Value(uintptr(unsafe.Pointer(&top.words[idx+1])))
}

// pushArena appends a fresh arena at least required words long, doubling
// the previous arena's size. New arenas are filled with the uninit
// sentinel so the scanner can tell allocated objects from the boundary
// region.
func (s *Segment) pushArena(required int) {
	size := arenaInitWords
	if s.arenas != nil && len(s.arenas.arenas) > 0 {
		size = len(s.arenas.top().words) * 2
	}
	for size < required {
		size *= 2
	}
	words := make([]Value, size)
	for i := range words {
		words[i] = headerUninit
	}
	if s.arenas == nil {
		s.arenas = &LocalArenas{}
	}
	s.arenas.arenas = append(s.arenas.arenas, localArena{words: words})
}

func freeLocalArenas(s *Segment) {
	s.arenas = nil
	s.localSP = 0
}

// scanLocalAllocations walks a segment's arenas from the local stack
// pointer toward zero, one object at a time. Objects carrying the
// transient mark are reachable: their fields are scanned and the mark is
// reset, so every arena ends the scan in its unmarked state. Unmarked
// objects are dead and skipped at full size. Crossing an uninit sentinel
// pops the walk to the previous arena.
func (sc *Scanner) scanLocalAllocations(s *Segment, f RootFunc) {
	la := s.arenas
	if la == nil || len(la.arenas) == 0 {
		return
	}
	sp := s.localSP
	ix := len(la.arenas) - 1
	arena := &la.arenas[ix]

	for sp < 0 {
		idx := len(arena.words) + sp
		hd := arena.words[idx]
		if hd == headerUninit {
			if ix == 0 {
				fatalf("segment %d: arena boundary below outermost local arena", s.id)
				return
			}
			ix--
			arena = &la.arenas[ix]
			continue
		}
		wosize := headerWosize(hd)
		if headerColor(hd) == colorLocal {
			// Never marked: unreachable, skip whole.
			sp += wosize + 1
			continue
		}
		arena.words[idx] = withColor(hd, colorLocal)
		if headerTag(hd) >= tagNoScan {
			sp += wosize + 1
			continue
		}
		first := 0
		if headerTag(hd) == TagClosure {
			// The code pointer slot is not scannable.
			first = 1
		}
		for i := first; i < wosize; i++ {
			p := &arena.words[idx+1+i]
			markedIx := sc.visit(la, f, p)
			if markedIx < 0 {
				continue
			}
			target := &la.arenas[markedIx]
			newsp := int((int64(uintptr(*p)) - int64(target.end())) / wordBytes)
			if sp <= newsp {
				// Forward reference, the common case.
				if markedIx > ix {
					fatalf("segment %d: local arena order violated", s.id)
				}
			} else {
				fatalf("segment %d: backwards local pointer", s.id)
			}
		}
		sp += wosize + 1
	}
}
