// Package serial provides a single-goroutine FIFO executor. Work posted to a
// Queue runs one function at a time in submission order, which makes the
// queue the one coordinating context for state that must not be mutated
// concurrently.
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned when work is posted to a stopped Queue.
var ErrStopped = errors.New("serial queue is stopped")

// Queue runs posted functions sequentially on one goroutine.
type Queue struct {
	name     string
	tasks    chan func()
	log      *slog.Logger
	done     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	// mu orders Post against Stop: once stopped is set no send can land in
	// tasks after the drain.
	mu      sync.RWMutex
	stopped bool

	executed uint64
	panicked uint64
}

// New starts a Queue with a buffer of size pending functions.
func New(name string, size int, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{
		name:   name,
		tasks:  make(chan func(), size),
		log:    log,
		done:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			// Drain what was accepted before Stop.
			for {
				select {
				case fn := <-q.tasks:
					q.execute(fn)
				default:
					return
				}
			}
		case fn := <-q.tasks:
			q.execute(fn)
		}
	}
}

func (q *Queue) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&q.panicked, 1)
			q.log.Error("serial: task panic recovered", "queue", q.name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
	atomic.AddUint64(&q.executed, 1)
}

// Post enqueues fn and returns without waiting for it to run. It blocks
// while the buffer is full.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrStopped
	}
	q.tasks <- fn
	return nil
}

// Do runs fn on the queue and waits for it to finish. It must not be called
// from a function already running on the same queue.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := q.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, runs what is already queued and waits up to
// timeout for the goroutine to exit.
func (q *Queue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.stopCh)
		q.mu.Unlock()
	})
	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("serial queue '%s' stop timeout after %v", q.name, timeout)
	}
}

// Stats reports counters for the queue.
type Stats struct {
	Name     string
	Pending  int
	Executed uint64
	Panicked uint64
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Name:     q.name,
		Pending:  len(q.tasks),
		Executed: atomic.LoadUint64(&q.executed),
		Panicked: atomic.LoadUint64(&q.panicked),
	}
}
