// Package debug provides global debug logging flags
package debug

import (
	"log/slog"
	"sync/atomic"
)

var (
	enabled atomic.Bool
	cycles  atomic.Bool
)

// SetEnabled turns general debug logging on or off.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether debug logging is active.
func Enabled() bool { return enabled.Load() }

// SetCycles turns per-cycle conditioning logs on or off. These fire at
// the polling rate (100-200Hz), so keep them off unless chasing a bug.
func SetCycles(on bool) { cycles.Store(on) }

// Cycles reports whether per-cycle logs are enabled.
func Cycles() bool { return cycles.Load() }

// Log emits msg at debug level if debug mode is enabled.
func Log(l *slog.Logger, msg string, args ...any) {
	if enabled.Load() {
		l.Debug(msg, args...)
	}
}

// CycleLog emits msg at debug level if per-cycle logging is enabled.
func CycleLog(l *slog.Logger, msg string, args ...any) {
	if cycles.Load() {
		l.Debug(msg, args...)
	}
}
