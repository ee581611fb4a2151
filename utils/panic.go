package utils

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// StackTraceFromPanic recovers a panic in a background goroutine and
// logs the stack trace instead of taking the process down.
func StackTraceFromPanic(logger *log.Entry) {
	if r := recover(); r != nil {
		logger.Errorf("panic: %v\n%s", r, string(debug.Stack()))
	}
}
