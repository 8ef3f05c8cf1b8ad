// Package buffer provides an unbounded channel used between the many event
// producers (connection tasks, timers, the watcher) and the single app
// coordinator loop.
package buffer

import (
	log "github.com/sirupsen/logrus"
)

// Unbounded creates a channel buffer that grows as needed. It returns a
// write-only channel to feed data in and a read-only channel to read data
// out. Closing the input flushes the queue and closes the output.
//
// initialCap sizes the backing slice; hardLimit caps queue growth. When the
// limit is hit the oldest item is dropped - for a MUD client losing the
// oldest line is the least destructive recovery if the consumer stalls.
func Unbounded[T any](initialCap, hardLimit int) (chan<- T, <-chan T) {
	in := make(chan T, 10)
	out := make(chan T, 10)

	go func() {
		defer close(out)

		queue := make([]T, 0, initialCap)
		for {
			var next T
			var downstream chan T

			// Enable the send case only when there is something to send.
			if len(queue) > 0 {
				next = queue[0]
				downstream = out
			}

			select {
			case val, ok := <-in:
				if !ok {
					for _, item := range queue {
						out <- item
					}
					return
				}
				if len(queue) >= hardLimit {
					log.WithField("limit", hardLimit).Warn("event queue limit reached, dropping oldest")
					queue = queue[1:]
				}
				queue = append(queue, val)

			case downstream <- next:
				queue = queue[1:]
			}
		}
	}()

	return in, out
}
