// Package loop provides the single cooperative event loop every control
// callback runs on.
//
// Checker ticks, the startup signal and state machine dispatch are posted as
// tasks; the loop executes them one at a time in arrival order so no two
// callbacks ever overlap.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted to a loop that has stopped.
var ErrClosed = errors.New("event loop closed")

// Task is a unit of work executed on the loop.
type Task func()

// Poster accepts tasks for later execution on the loop.
type Poster interface {
	// Post queues t and reports whether it was accepted.
	Post(t Task) bool
}

// Loop executes posted tasks sequentially on a single goroutine.
// The queue is unbounded so tasks may post further tasks without blocking.
type Loop struct {
	mu     sync.Mutex
	queue  []Task
	closed bool

	wake chan struct{}
	done chan struct{}

	logger *zap.Logger
}

// New creates a loop. Call Run to start executing tasks.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.Named("loop"),
	}
}

// Post queues t. It returns false once the loop has been closed.
func (l *Loop) Post(t Task) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// After posts t once d has elapsed. The returned timer can cancel it.
func (l *Loop) After(d time.Duration, t Task) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(t) })
}

// Do posts fn and waits until it has run or ctx is done.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled or Close is called.
// Tasks still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, t := range batch {
			select {
			case <-l.done:
				return nil
			default:
			}
			l.exec(t)
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.done:
			return nil
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		}
	}
}

// Close stops the loop. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// exec runs t, converting a panic into an error log so the loop survives.
func (l *Loop) exec(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()
	t()
}

// Inline runs every task immediately on the caller's goroutine.
// It is used by tests and by code already executing on the loop.
type Inline struct{}

// Post runs t synchronously.
func (Inline) Post(t Task) bool {
	t()
	return true
}
