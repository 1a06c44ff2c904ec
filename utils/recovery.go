package utils

import (
	"fmt"
	"runtime/debug"
)

// RecoverFromPanic recovers from a panic in the calling goroutine and logs it with the stack.
func RecoverFromPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		logger.Error("Panic recovered in %s: %v\nStack trace:\n%s", context, r, string(stack))
	}
}

// SafeGo runs a goroutine with panic recovery
func SafeGo(logger *Logger, context string, fn func()) {
	go func() {
		defer RecoverFromPanic(logger, context)
		fn()
	}()
}

// SafeCall runs fn synchronously and converts a panic into an error.
func SafeCall(logger *Logger, context string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in %s: %v\nStack trace:\n%s", context, r, string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", context, r)
		}
	}()
	return fn()
}
