package fiber

import (
	"io"
	"log/slog"
)

// logger is the package's debug log channel, disabled unless the
// embedder installs one. Allocation and growth paths log at Debug level.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// SetLogger routes the package's debug logging. Intended to be called
// once at startup, before any execution context runs.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
