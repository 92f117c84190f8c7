// Panic recovery for pipeline execution. A panicking model client or
// verifier must never take down the process serving other requests.
package governor

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// panicError marks an error that originated as a recovered panic, so the
// pipeline can treat it as unconditionally terminal.
type panicError struct {
	operation string
	value     any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.operation, e.value)
}

// isPanicError reports whether err wraps a recovered panic.
func isPanicError(err error) bool {
	var pe *panicError
	return errors.As(err, &pe)
}

// safeExecuteWithResult runs fn with panic recovery. A recovered panic
// is logged with its stack and converted into a panicError.
func safeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				err = &panicError{operation: operation, value: r}
			}
		}()
		result, err = fn()
	}()

	return result, err
}
