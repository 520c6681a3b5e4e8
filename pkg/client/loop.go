package client

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// eventLoop runs posted work one item at a time.
// The goroutine that finds the loop idle drains the queue; work posted while
// draining (including from inside a running item) is appended and runs after
// the current item on the draining goroutine.
type eventLoop struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	onPanic  func(recovered any, stack []byte)
}

func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(next)
	}
}

func (l *eventLoop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if l.onPanic != nil {
				l.onPanic(r, debug.Stack())
			}
		}
	}()
	fn()
}

// safeCall invokes a user callback, turning a panic into an error
func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	fn()
	return nil
}
