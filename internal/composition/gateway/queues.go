package gateway

import (
	"context"
	"fmt"
	"time"

	"wa-gateway/go-backend/internal/ratequeue"
	"wa-gateway/go-backend/internal/session"
	"wa-gateway/go-backend/internal/transport"
)

func (g *Gateway) startQueue(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.queues[id]; ok {
		return
	}
	q := ratequeue.New(id, g.cfg.Queue,
		ratequeue.WithClock(g.clock),
		ratequeue.WithLogger(g.logger),
		ratequeue.WithMetrics(g.queueMetrics),
		ratequeue.WithHooks(g.queueHooks(id)),
	)
	ctx, cancel := context.WithCancel(g.ctx)
	sq := &sessionQueue{queue: q, cancel: cancel, done: make(chan struct{})}
	g.queues[id] = sq
	g.metrics.queues.Inc()
	go func() {
		defer close(sq.done)
		q.Run(ctx)
	}()
}

// stopQueue ends the drain loop of id; its pending tasks are rejected.
func (g *Gateway) stopQueue(ctx context.Context, id string) error {
	g.mu.Lock()
	sq, ok := g.queues[id]
	delete(g.queues, id)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	sq.cancel()
	g.metrics.queues.Dec()
	select {
	case <-sq.done:
		g.queueMetrics.Forget(id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop queue %s: %w", id, ctx.Err())
	}
}

func (g *Gateway) queue(id string) (*ratequeue.Queue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGatewayClosed
	}
	sq, ok := g.queues[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sq.queue, nil
}

func (g *Gateway) queueHooks(id string) ratequeue.Hooks {
	return ratequeue.Hooks{
		OnRateLimited: func(wait time.Duration) {
			g.logWarn("queue.rate_limited", id, "minute budget exhausted", "wait", wait.String())
		},
		OnDailyLimit: func(resumeAt time.Time) {
			g.logWarn("queue.daily_limit", id, "daily budget exhausted", "resume_at", resumeAt.Format(time.RFC3339))
		},
		OnQueueFull: func(depth int) {
			g.recordErrorWithContext(categoryRateLimit, ratequeue.ErrQueueFull, "queue.enqueue", id, "depth", depth)
		},
		OnDispatch: func(d ratequeue.Dispatch) {
			if d.Err != nil {
				g.recordErrorWithContext(categoryQueue, d.Err, "queue.dispatch", id, "task_id", d.TaskID, "recipient", d.Recipient)
			}
		},
	}
}

// Enqueue admits op into the outbound queue of session id. Operations run
// one at a time under the session's rate budget.
func (g *Gateway) Enqueue(id, recipient string, op ratequeue.Operation) (*ratequeue.Handle, error) {
	q, err := g.queue(id)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(recipient, op)
}

// SendMessage queues content for recipient over the live transport of
// session id. The handle resolves to a transport.SendResult.
func (g *Gateway) SendMessage(id, recipient string, content transport.Content) (*ratequeue.Handle, error) {
	if err := transport.Validate(content); err != nil {
		return nil, fmt.Errorf("%w: %w", ratequeue.ErrInvalidTask, err)
	}
	return g.Enqueue(id, recipient, func(ctx context.Context) (any, error) {
		return g.orch.Send(ctx, id, recipient, content)
	})
}

// SendText queues a text message and waits for it to be dispatched.
func (g *Gateway) SendText(ctx context.Context, id, recipient, body string) (transport.SendResult, error) {
	h, err := g.SendMessage(id, recipient, transport.Text{Body: body})
	if err != nil {
		return transport.SendResult{}, err
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return transport.SendResult{}, err
	}
	out, ok := res.(transport.SendResult)
	if !ok {
		return transport.SendResult{}, fmt.Errorf("gateway: unexpected send result %T", res)
	}
	return out, nil
}

func (g *Gateway) QueueStats(id string) (ratequeue.Stats, error) {
	q, err := g.queue(id)
	if err != nil {
		return ratequeue.Stats{}, err
	}
	return q.Stats(), nil
}

// ClearQueue rejects every pending task of session id and reports how many
// were dropped. The in-flight task is not affected.
func (g *Gateway) ClearQueue(id string) (int, error) {
	q, err := g.queue(id)
	if err != nil {
		return 0, err
	}
	n := q.Clear()
	if n > 0 {
		g.logInfo("queue.clear", id, "queue cleared", "dropped", n)
	}
	return n, nil
}
