package kernel

import (
	"fmt"
	"runtime/debug"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// PanicError is returned by the Safe* helpers when fn panicked.
type PanicError struct {
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

func logPanic(logger logging.Logger, event, operation string, r any) {
	if logger == nil {
		return
	}
	logger.Error(event,
		"operation", operation,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

// SafeExecute runs fn and converts a panic into a *PanicError.
func SafeExecute(logger logging.Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, "panic_recovered", operation, r)
			err = &PanicError{Operation: operation, Value: r}
		}
	}()
	return fn()
}

// SafeExecuteWithResult is SafeExecute for functions that also return a value.
// The zero value is returned after a panic.
func SafeExecuteWithResult[T any](logger logging.Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, "panic_recovered", operation, r)
			var zero T
			result, err = zero, &PanicError{Operation: operation, Value: r}
		}
	}()
	return fn()
}

// SafeGo runs fn in a goroutine. A panic is logged and handed to onPanic.
func SafeGo(logger logging.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger, "goroutine_panic_recovered", operation, r)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
