package dispatch

import (
	"context"
	"sync"
)

// Deliverer runs completion callbacks in the context the caller designated.
// Deliver must not block the worker for long.
type Deliverer interface {
	Deliver(fn func())
}

// DelivererFunc adapts a function to a Deliverer.
type DelivererFunc func(fn func())

func (f DelivererFunc) Deliver(fn func()) { f(fn) }

// Direct runs callbacks on the worker goroutine.
var Direct Deliverer = DelivererFunc(func(fn func()) { fn() })

// Loop is a caller-owned event loop. Deliver queues callbacks without
// blocking; they run on whichever goroutine calls Run or RunOnce.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

func (l *Loop) Deliver(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// RunOnce runs the callbacks queued so far and returns how many ran.
func (l *Loop) RunOnce() int {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Run executes callbacks as they arrive until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunOnce()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// Pending returns the number of queued callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
