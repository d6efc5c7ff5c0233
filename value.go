package fiber

// Value is one machine word on a fiber stack: an opaque immediate or an
// address. The package never interprets a Value itself; the embedder's
// classifiers decide what counts as a heap reference.
type Value uintptr

const (
	wordBytes = 8

	// handlerWords is the trailer record: the value, exception and
	// effect handlers plus the parent link.
	handlerWords = 4

	// headerWords reserves space for segment metadata at the low end of
	// an allocation so the header never overlaps the usable region.
	headerWords = 16

	// stackPaddingWord keeps one word of headroom below the trailer.
	stackPaddingWord = 1

	// trailerAlign: the handler record may be accessed with 16-byte wide
	// atomic or vector operations by the embedding runtime.
	trailerAlign = 16

	// hugePageBytes is the transparent huge page granularity assumed
	// when rounding large stack requests.
	hugePageBytes = 2 << 20

	// chunkHeaderWords is skipped when frame scanning crosses a boundary
	// to external code: the trap frame, the saved register area and the
	// unwind pointer.
	chunkHeaderWords = 3

	// stackThresholdWords is the reserve kept available before entering
	// generated code.
	stackThresholdWords = 256
)

func roundUpPow2(x, p2 uintptr) uintptr {
	return (x + p2 - 1) &^ (p2 - 1)
}
