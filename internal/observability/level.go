package observability

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug for very verbose streaming
// diagnostics (per-chunk transfer logging, keep-alive ticks).
const LevelTrace = slog.Level(-8)

// defaultLevel is the shared level for all loggers created by this package.
// Changing it takes effect immediately on every handler built here.
var defaultLevel = func() *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(slog.LevelInfo)
	return v
}()

// requestLogging controls whether per-request access logging is emitted.
var requestLogging atomic.Bool

func init() {
	requestLogging.Store(true)
}

// SetLogLevel changes the process-wide log level at runtime.
// Accepts trace, debug, info, warn (or warning), and error.
func SetLogLevel(level string) error {
	switch level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	defaultLevel.Set(parseLevel(level))
	return nil
}

// GetLogLevel returns the current process-wide log level as a string.
func GetLogLevel() string {
	switch defaultLevel.Level() {
	case LevelTrace:
		return "trace"
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// SetRequestLogging toggles HTTP access logging at runtime.
func SetRequestLogging(enabled bool) {
	requestLogging.Store(enabled)
}

// IsRequestLoggingEnabled reports whether HTTP access logging is active.
func IsRequestLoggingEnabled() bool {
	return requestLogging.Load()
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
