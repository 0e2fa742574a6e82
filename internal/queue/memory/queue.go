// Package memory provides the in-process task queue used by a single batch.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue is
// closed and empty.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of targets with a join barrier. Every target
// handed out by Pop must be acknowledged with MarkProcessed; Join returns once
// the queue is empty and every popped target has been acknowledged.
type Queue struct {
	mu       sync.Mutex
	items    []scrape.Target
	inFlight int
	closed   bool
	// ready is closed and replaced whenever items are added or the queue
	// closes, waking blocked Pop calls.
	ready chan struct{}
	// drained is closed and replaced whenever the outstanding count reaches
	// zero, waking blocked Join calls.
	drained chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready:   make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Push appends a target to the tail. It never blocks.
func (q *Queue) Push(target scrape.Target) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, target)
	q.broadcastReady()
	return nil
}

// Pop removes the head target, blocking until one is available, the queue is
// closed, or ctx ends. A target is delivered to exactly one caller. Once ctx
// has ended no target is handed out, even if some are queued.
func (q *Queue) Pop(ctx context.Context) (scrape.Target, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			target := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.inFlight++
			q.mu.Unlock()
			return target, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ready:
		}
	}
}

// MarkProcessed acknowledges one popped target. Calling it more times than
// Pop has returned a target is a bug in the caller and panics.
func (q *Queue) MarkProcessed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight <= 0 {
		panic("memory: MarkProcessed called without a matching Pop")
	}
	q.inFlight--
	if q.inFlight == 0 && len(q.items) == 0 {
		close(q.drained)
		q.drained = make(chan struct{})
	}
}

// Join blocks until the queue is empty and every popped target has been
// marked processed, or ctx ends.
func (q *Queue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.inFlight == 0 && len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		drained := q.drained
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("join canceled: %w", ctx.Err())
		case <-drained:
		}
	}
}

// Len returns the number of targets waiting to be popped.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Outstanding returns queued plus popped-but-unacknowledged targets.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inFlight
}

// Close stops the queue accepting targets. Targets already queued can still
// be popped; once they are gone Pop returns ErrClosed. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastReady()
}

func (q *Queue) broadcastReady() {
	close(q.ready)
	q.ready = make(chan struct{})
}
