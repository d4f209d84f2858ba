package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine, logging and swallowing any panic so a
// single worker crash never takes the consumer down.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("goroutine_panic_recovered",
					slog.String("worker_name", name),
					slog.String("error", fmt.Sprintf("%v", r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}

// Sync runs fn inline with the same panic guard. Used around per-record
// dispatch so one malformed record cannot abort the poll loop.
func Sync(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync_panic_recovered",
				slog.String("worker_name", name),
				slog.String("error", fmt.Sprintf("%v", r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
