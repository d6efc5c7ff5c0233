// Package fiber manages execution stacks and one-shot continuations for
// a runtime with effect handlers and cooperatively scheduled fibers.
//
// A fiber runs on a chain of stack Segments linked through their handler
// records; suspending a fiber captures the chain in a Continuation, which
// can be resumed at most once from any execution context. The package
// owns segment allocation (three selectable memory strategies), the
// per-context segment cache, stack growth with pointer rewriting, and
// root scanning over stack frames and local arenas on behalf of a
// concurrent collector.
//
// The surrounding virtual machine, the heap allocator, the code
// generator producing frame descriptors, and the collector itself are
// external collaborators: the package consumes a FrameTable and reports
// roots through a RootFunc, but never interprets heap objects on its
// own.
package fiber
