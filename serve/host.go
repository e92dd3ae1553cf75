package main

import (
	"runtime"
	"time"

	"github.com/Paranoid-AF/kernlet/loop"
)

// hostExports builds the table cells see as package host.
func hostExports(l *loop.Loop, started time.Time) map[string]any {
	return map[string]any{
		// Frame returns the number of frames the host loop has ticked.
		"Frame": l.Frame,
		// After returns an awaitable that resolves n frames from now.
		"After": l.After,
		// OnFrame runs fn on every frame until the returned func is called.
		"OnFrame": func(fn func(frame uint64)) func() {
			return l.OnFrame(fn)
		},
		"Pending": l.Pending,
		"Uptime": func() time.Duration {
			return time.Since(started).Round(time.Millisecond)
		},
		"Version": func() string {
			return Version + " " + runtime.Version()
		},
	}
}
