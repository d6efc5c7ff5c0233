package fiber

// HeapBackend allocates segments from the ordinary allocator. There is
// no guard page, so insufficient capacity must be caught by explicit
// checks before use; in exchange this is the only strategy whose
// segments can be grown.
type HeapBackend struct{}

// NewHeapBackend returns the plain heap allocation strategy.
func NewHeapBackend() *HeapBackend { return &HeapBackend{} }

func (*HeapBackend) Allocate(wosize int, id int64) (*Segment, error) {
	l := layoutFor(wosize)
	buf := make([]Value, l.totalBytes/wordBytes)
	s := &Segment{
		bucket:   -1,
		byteSize: l.totalBytes,
		buf:      buf,
		words:    buf[l.stackOff/wordBytes : l.trailerOff/wordBytes],
		magic:    segmentMagic,
	}
	logger.Debug("allocated heap stack", "id", id, "words", s.Len())
	return s, nil
}

func (*HeapBackend) Release(s *Segment) {
	s.magic = 0
	s.buf, s.words = nil, nil
}

func (*HeapBackend) SupportsGrowth() bool { return true }
