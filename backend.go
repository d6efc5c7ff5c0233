package fiber

// Backend is the stack memory strategy. Exactly one strategy is selected
// per process and never mixed at runtime: segments allocated by one
// backend must be released through the same one.
type Backend interface {
	// Allocate returns a segment with at least wosize usable words.
	// Only capacity and trailer placement are initialized; handler
	// values, sp and arena state are the caller's responsibility.
	// Allocation failure is reported as ErrOutOfMemory.
	Allocate(wosize int, id int64) (*Segment, error)

	// Release returns a segment's memory to the operating system or
	// allocator.
	Release(*Segment)

	// SupportsGrowth reports whether segments from this backend may be
	// replaced by larger copies. Strategies that return false make
	// EnsureCapacity surface overflow instead of growing.
	SupportsGrowth() bool
}

// segmentLayout places the usable region and the handler trailer within
// one allocation. The trailer is 16-byte aligned and never overlaps the
// usable region; alignment padding only ever adds capacity.
type segmentLayout struct {
	totalBytes uintptr
	stackOff   uintptr
	trailerOff uintptr
}

func layoutFor(wosize int) segmentLayout {
	w := uintptr(wosize) + stackPaddingWord
	stackOff := uintptr(headerWords * wordBytes)
	trailerOff := roundUpPow2(stackOff+w*wordBytes, trailerAlign)
	return segmentLayout{
		totalBytes: trailerOff + handlerWords*wordBytes,
		stackOff:   stackOff,
		trailerOff: trailerOff,
	}
}

func (l segmentLayout) usableWords() int {
	return int((l.trailerOff - l.stackOff) / wordBytes)
}
