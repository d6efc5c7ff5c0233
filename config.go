package fiber

import "os"

// StackKind selects which initial-size tunable applies to a new stack.
type StackKind int

const (
	// StackMain sizes the main computation's stack.
	StackMain StackKind = iota
	// StackThread sizes stacks for auxiliary OS threads.
	StackThread
	// StackFiber sizes fiber stacks; it is also the base of the pooling
	// size classes.
	StackFiber
)

// Config carries the stack tunables recognized by the runtime. Each
// bounds or seeds the corresponding allocation or growth computation.
type Config struct {
	// MainStackWords seeds the main computation's stack size.
	MainStackWords int
	// ThreadStackWords seeds the stack size of auxiliary OS threads.
	ThreadStackWords int
	// FiberStackWords seeds fiber stacks and anchors the pooling size
	// classes: a request is poolable only when it equals
	// FiberStackWords doubled up to numStackClasses-1 times.
	FiberStackWords int
	// MaxStackWords caps growth; hitting the cap surfaces
	// ErrStackOverflow.
	MaxStackWords int
	// NoHugePageStacks asks the kernel to keep transparent huge pages
	// away from guard-page stack mappings.
	NoHugePageStacks bool
}

const defaultFiberWords = 2 * stackThresholdWords

// DefaultConfig returns the process defaults.
func DefaultConfig() Config {
	return Config{
		MainStackWords:   1 << 16,
		ThreadStackWords: 1 << 16,
		FiberStackWords:  defaultFiberWords,
		MaxStackWords:    1 << 27,
		NoHugePageStacks: true,
	}
}

// InitialWordsFor computes the initial stack size for a given context.
// Large requests are shaped so the total mapping lands on a huge-page
// multiple: round down to the huge page size, then leave three small
// pages for the header, the guard page and the trailer overhead.
func (cfg Config) InitialWordsFor(kind StackKind) int {
	var w int
	switch kind {
	case StackMain:
		w = cfg.MainStackWords
	case StackThread:
		w = cfg.ThreadStackWords
	case StackFiber:
		w = cfg.FiberStackWords
	default:
		fatalf("InitialWordsFor: invalid stack kind %d", kind)
		return 0
	}
	if w > cfg.MaxStackWords {
		w = cfg.MaxStackWords
	}
	hugeWords := hugePageBytes / wordBytes
	if w > hugeWords {
		w &^= hugeWords - 1
		w -= 3 * pageSizeWords()
	}
	return w
}

func pageSizeWords() int {
	return os.Getpagesize() / wordBytes
}
