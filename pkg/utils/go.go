package utils

import (
	"log"
	"runtime/debug"
)

// Go launches fn on a new goroutine with panic recovery. A panicking
// background task must never take the whole process down with it; the
// recovered value and stack are logged instead.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("recovered panic in background goroutine: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
