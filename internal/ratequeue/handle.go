package ratequeue

import (
	"context"
	"sync"
	"time"
)

// Operation is the deferred work a task runs once admitted.
type Operation func(ctx context.Context) (any, error)

// Handle is the caller's view of an enqueued task.
type Handle struct {
	id         string
	recipient  string
	enqueuedAt time.Time
	queue      *Queue

	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newHandle(q *Queue, id, recipient string, at time.Time) *Handle {
	return &Handle{id: id, recipient: recipient, enqueuedAt: at, queue: q, done: make(chan struct{})}
}

func (h *Handle) ID() string            { return h.id }
func (h *Handle) Recipient() string     { return h.recipient }
func (h *Handle) EnqueuedAt() time.Time { return h.enqueuedAt }

// Done is closed once the task has been resolved or rejected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task settles or ctx ends. Giving up on ctx leaves
// the task queued; use Cancel to withdraw it.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel withdraws the task if it has not been dispatched yet.
func (h *Handle) Cancel() bool {
	return h.queue.cancel(h)
}

func (h *Handle) settle(result any, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}
