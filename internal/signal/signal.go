// Package signal wires SIGINT to the menu toggle instead of killing the
// process.
package signal

import (
	"os"
	"os/signal"
)

// NotifyMenu invokes toggle on every SIGINT. The returned stop function
// restores default handling.
func NotifyMenu(toggle func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				toggle()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
