package deferred

import (
	"log/slog"

	"github.com/gogpu/deferred/internal/logger"
)

// SetLogger configures the logger for deferred and all its sub-packages.
// By default nothing is logged. Pass nil to restore silent output.
//
// SetLogger is safe for concurrent use.
//
// Log levels used:
//   - [slog.LevelDebug]: per-frame diagnostics (slot waits, list counts)
//   - [slog.LevelInfo]: lifecycle events (backend opened, pipelines created, shutdown)
//   - [slog.LevelWarn]: non-fatal issues (backend fallback, validation findings)
//   - [slog.LevelError]: fatal device errors
//
// Example:
//
//	deferred.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logger.Set(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logger.Get()
}
