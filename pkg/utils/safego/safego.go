// Package safego runs goroutines that recover panics instead of crashing
// the process.
package safego

import (
	"runtime/debug"

	"github.com/kiosk404/mcpweave/pkg/logger"
)

// Go runs fn in a new goroutine. A panic inside fn is logged together with
// the goroutine name and a stack trace, never propagated.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine %q panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
