// Package invariant reports programming errors in the streaming core.
//
// Builds tagged streamdebug panic on the first violation; other builds log at
// error level and carry on.
package invariant

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

var violations atomic.Uint64

// Violated records a broken invariant.
func Violated(logger *slog.Logger, msg string, args ...any) {
	violations.Add(1)
	if debug {
		panic(fmt.Sprintf("invariant violated: %s %v", msg, args))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("invariant violated: "+msg, args...)
}

// Check calls Violated when ok is false.
func Check(logger *slog.Logger, ok bool, msg string, args ...any) bool {
	if !ok {
		Violated(logger, msg, args...)
	}
	return ok
}

// Count is the number of violations recorded by this process.
func Count() uint64 { return violations.Load() }

// Debug reports whether violations panic.
func Debug() bool { return debug }
