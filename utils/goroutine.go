package utils

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo 拦截 panic 的 goroutine
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "component", "SafeGo", "panic", err, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
