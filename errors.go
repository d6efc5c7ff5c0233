package fiber

import (
	"errors"
	"fmt"
	"os"
)

// Failure kinds surfaced to calling code. All three are catchable at the
// language level; the embedding runtime translates them into the
// corresponding exceptions.
var (
	// ErrOutOfMemory reports that the backend could not allocate a
	// segment.
	ErrOutOfMemory = errors.New("fiber: out of memory")

	// ErrStackOverflow reports that growth was denied, either because
	// the backend strategy forbids it or because the capacity cap was
	// reached.
	ErrStackOverflow = errors.New("fiber: stack overflow")

	// ErrAlreadyResumed reports a second Take on an emptied
	// continuation.
	ErrAlreadyResumed = errors.New("fiber: continuation already resumed")
)

// UnhandledEffectError carries an effect value that was performed with
// no installed handler. This package only constructs the carrier; it
// does not decide whether a handler is present.
type UnhandledEffectError struct {
	Effect Value
}

func (e *UnhandledEffectError) Error() string {
	return fmt.Sprintf("fiber: unhandled effect %#x", uintptr(e.Effect))
}

// NewUnhandledEffect builds the failure carrying an unhandled effect
// value.
func NewUnhandledEffect(effect Value) error {
	return &UnhandledEffectError{Effect: effect}
}

// fatalf reports an unrecoverable invariant violation and terminates the
// process. Running on with corrupted stack state has no safe recovery,
// so this is deliberately not an error return and must never be mapped
// onto one. Tests substitute the hook to observe the violation instead
// of dying.
var fatalf = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fiber: fatal error: "+format+"\n", args...)
	os.Exit(2)
}
