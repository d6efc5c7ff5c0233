//go:build linux

package fiber

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func wordsOf(b []byte, lo, hi uintptr) []Value {
	return unsafe.Slice((*Value)(unsafe.Pointer(&b[lo])), (hi-lo)/wordBytes)
}

// MappedBackend requests anonymous memory explicitly flagged for stack
// use. One mapping holds the header, the usable region and the handler
// trailer; releasing a segment unmaps it. Segments cannot be grown:
// overflow is reported by the explicit capacity check.
type MappedBackend struct{}

// NewMappedBackend returns the dedicated mapped-stack strategy.
func NewMappedBackend() *MappedBackend { return &MappedBackend{} }

func (*MappedBackend) Allocate(wosize int, id int64) (*Segment, error) {
	l := layoutFor(wosize)
	b, err := unix.Mmap(-1, 0, int(l.totalBytes),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_STACK)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	s := &Segment{
		bucket:   -1,
		byteSize: l.totalBytes,
		mapping:  b,
		words:    wordsOf(b, l.stackOff, l.trailerOff),
		magic:    segmentMagic,
	}
	logger.Debug("mapped stack", "id", id, "bytes", l.totalBytes)
	return s, nil
}

func (*MappedBackend) Release(s *Segment) {
	if s.mapping != nil {
		_ = unix.Munmap(s.mapping)
	}
	s.magic = 0
	s.mapping, s.words = nil, nil
}

func (*MappedBackend) SupportsGrowth() bool { return false }

// GuardBackend places an inaccessible page between the segment header
// and the usable region. A hardware access to the guard page reaches the
// external trap handler, which converts it into the catchable
// stack-overflow failure; segments cannot be grown or copied cheaply.
//
// Stack layout, higher addresses at the top:
//
//	--------------------  <- mapping end
//	handler trailer          (16-byte aligned)
//	--------------------
//	the stack itself
//	--------------------  <- page-aligned
//	guard page
//	--------------------  <- page-aligned
//	segment header area
//	--------------------  <- mapping base, page-aligned
type GuardBackend struct {
	// NoHugePages asks the kernel to keep transparent huge pages away
	// from stack mappings. Stacks reuse the same few kilobytes over and
	// over, so huge pages cost RAM without a locality benefit.
	NoHugePages bool
}

// NewGuardBackend returns the guard-page protected mapping strategy.
func NewGuardBackend(noHugePages bool) *GuardBackend {
	return &GuardBackend{NoHugePages: noHugePages}
}

func (g *GuardBackend) Allocate(wosize int, id int64) (*Segment, error) {
	ps := uintptr(unix.Getpagesize())
	trailerBytes := roundUpPow2(handlerWords*wordBytes, trailerAlign)
	length := uintptr(wosize+stackPaddingWord)*wordBytes + trailerBytes + 2*ps
	length = roundUpMapping(length, ps)

	b, err := unix.Mmap(-1, 0, int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	if g.NoHugePages {
		_ = unix.Madvise(b, unix.MADV_NOHUGEPAGE)
	}
	if err := unix.Mprotect(b[ps:2*ps], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(b)
		return nil, ErrOutOfMemory
	}

	stackOff := 2 * ps
	trailerOff := length - trailerBytes
	if trailerOff-uintptr(wosize)*wordBytes < stackOff {
		fatalf("guard page impinges on stack area: %d words in %d bytes", wosize, length)
	}
	s := &Segment{
		bucket:   -1,
		byteSize: length,
		mapping:  b,
		words:    wordsOf(b, stackOff, trailerOff),
		magic:    segmentMagic,
	}
	logger.Debug("mapped guarded stack", "id", id, "bytes", length)
	return s, nil
}

func (*GuardBackend) Release(s *Segment) {
	if s.mapping != nil {
		_ = unix.Munmap(s.mapping)
	}
	s.magic = 0
	s.mapping, s.words = nil, nil
}

func (*GuardBackend) SupportsGrowth() bool { return false }

// roundUpMapping rounds a mapping length to the page size, or to the
// huge page size once the request is large enough to span one.
func roundUpMapping(n, pageSize uintptr) uintptr {
	if n >= hugePageBytes {
		return roundUpPow2(n, hugePageBytes)
	}
	return roundUpPow2(n, pageSize)
}
