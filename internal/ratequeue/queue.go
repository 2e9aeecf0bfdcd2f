package ratequeue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"wa-gateway/go-backend/internal/platform/ids"
	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/platform/ratelimiter"
	"wa-gateway/go-backend/pkg/models"
)

type task struct {
	handle    *Handle
	recipient string
	op        Operation
}

type Option func(*Queue)

func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(q *Queue) {
		q.hooks = h
	}
}

func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithRand fixes the pacing source.
func WithRand(rnd *rand.Rand) Option {
	return func(q *Queue) {
		if rnd != nil {
			q.rnd = rnd
		}
	}
}

type Queue struct {
	name    string
	cfg     Config
	hooks   Hooks
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	rnd     *rand.Rand
	spacing *ratelimiter.MapLimiter
	wake    chan struct{}

	mu       sync.Mutex
	tasks    []*task
	inFlight *task
	sent     []time.Time
	today    int
	dayEnds  time.Time
	running  bool
	closed   bool

	// drain goroutine only
	paced      *task
	pacedUntil time.Time
	minuteHeld bool
	dailyHeld  bool
}

func New(name string, cfg Config, opts ...Option) *Queue {
	cfg = normalizeConfig(cfg)
	q := &Queue{
		name:   name,
		cfg:    cfg,
		clock:  clock.New(),
		logger: logging.DefaultLogger(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics, _ = NewMetrics(nil)
	}
	if q.rnd == nil {
		q.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	q.spacing = ratelimiter.New(cfg.PerRecipientDelay, cfg.RecipientIdleTTL)
	q.logger = q.logger.With("component", "ratequeue", "queue", name)
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Enqueue appends op for recipient and returns its handle. It never blocks.
func (q *Queue) Enqueue(recipient string, op Operation) (*Handle, error) {
	key := recipientKey(recipient)
	if key == "" || op == nil {
		return nil, ErrInvalidTask
	}
	id, err := ids.GeneratePrefixedID("task")
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.rejected.WithLabelValues(q.name, "closed").Inc()
		return nil, ErrQueueClosed
	}
	if q.cfg.MaxPending > 0 && len(q.tasks) >= q.cfg.MaxPending {
		depth := len(q.tasks)
		q.mu.Unlock()
		q.metrics.rejected.WithLabelValues(q.name, "full").Inc()
		if q.hooks.OnQueueFull != nil {
			q.hooks.OnQueueFull(depth)
		}
		return nil, ErrQueueFull
	}
	h := newHandle(q, id, key, q.clock.Now())
	q.tasks = append(q.tasks, &task{handle: h, recipient: key, op: op})
	q.metrics.depth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
	q.mu.Unlock()

	q.signal()
	return h, nil
}

// recipientKey canonicalizes phone numbers and JIDs; any other non-empty
// recipient is used as an opaque key.
func recipientKey(raw string) string {
	if key := models.NormalizeRecipient(raw); key != "" {
		return key
	}
	return strings.TrimSpace(raw)
}

// Clear rejects every queued task with ErrCancelled. The in-flight task, if
// any, is left alone.
func (q *Queue) Clear() int {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.metrics.depth.WithLabelValues(q.name).Set(0)
	q.mu.Unlock()

	for _, t := range pending {
		t.handle.settle(nil, ErrCancelled)
	}
	if len(pending) > 0 {
		q.metrics.rejected.WithLabelValues(q.name, "cancelled").Add(float64(len(pending)))
		q.logger.Info("queue cleared", "cancelled", len(pending))
	}
	q.signal()
	return len(pending)
}

func (q *Queue) cancel(h *Handle) bool {
	q.mu.Lock()
	idx := -1
	for i, t := range q.tasks {
		if t.handle == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
	q.metrics.depth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
	q.mu.Unlock()

	h.settle(nil, ErrCancelled)
	q.metrics.rejected.WithLabelValues(q.name, "cancelled").Inc()
	q.signal()
	return true
}

func (q *Queue) Stats() Stats {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Stats{
		Depth:      len(q.tasks),
		InFlight:   q.inFlight != nil,
		Recipients: q.spacing.Len(),
	}
	cutoff := now.Add(-minuteWindow)
	for _, at := range q.sent {
		if at.After(cutoff) {
			stats.SentThisMinute++
		}
	}
	if now.Before(q.dayEnds) {
		stats.SentToday = q.today
	}
	return stats
}

// Run drains the queue until ctx ends. Tasks still queued on exit are
// rejected with ErrQueueClosed.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	if q.running || q.closed {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	defer q.shutdown()

	for {
		if ctx.Err() != nil {
			return
		}
		now := q.clock.Now()
		d := q.step(now)
		switch d.kind {
		case decisionIdle:
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
		case decisionWait:
			q.observeWait(d)
			timer := q.clock.Timer(d.wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			case <-q.wake:
				timer.Stop()
			}
		case decisionDispatch:
			q.dispatch(ctx, d.task, now)
		}
	}
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.running = false
	pending := q.tasks
	q.tasks = nil
	q.metrics.depth.WithLabelValues(q.name).Set(0)
	q.mu.Unlock()

	for _, t := range pending {
		t.handle.settle(nil, ErrQueueClosed)
	}
	if len(pending) > 0 {
		q.metrics.rejected.WithLabelValues(q.name, "closed").Add(float64(len(pending)))
	}
}

func (q *Queue) dispatch(ctx context.Context, t *task, at time.Time) {
	q.mu.Lock()
	if len(q.tasks) == 0 || q.tasks[0] != t {
		// withdrawn between step and dispatch
		q.mu.Unlock()
		return
	}
	q.tasks = q.tasks[1:]
	q.inFlight = t
	q.metrics.depth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
	q.mu.Unlock()

	q.paced = nil
	q.minuteHeld = false
	q.dailyHeld = false

	result, err := invoke(ctx, t.op)

	q.mu.Lock()
	q.inFlight = nil
	if err == nil {
		q.sent = append(q.sent, at)
		q.today++
		q.spacing.Record(t.recipient, at)
	}
	q.mu.Unlock()

	if err != nil {
		q.metrics.dispatched.WithLabelValues(q.name, "failure").Inc()
		q.logger.Warn("queued operation failed", "task_id", t.handle.id, "recipient", t.recipient, "error", err.Error())
	} else {
		q.metrics.dispatched.WithLabelValues(q.name, "success").Inc()
	}
	if q.hooks.OnDispatch != nil {
		q.hooks.OnDispatch(Dispatch{TaskID: t.handle.id, Recipient: t.recipient, At: at, Err: err})
	}
	t.handle.settle(result, err)
}

// invoke runs op, converting a panic into an error so one bad operation
// cannot stop the drain loop.
func invoke(ctx context.Context, op Operation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("ratequeue: operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func (q *Queue) observeWait(d decision) {
	q.metrics.waits.WithLabelValues(q.name, string(d.reason)).Inc()
	switch d.reason {
	case reasonDaily:
		if q.dailyHeld {
			return
		}
		q.dailyHeld = true
		resumeAt := d.until
		q.logger.Warn("daily message budget exhausted", "resume_at", resumeAt.Format(time.RFC3339))
		if q.hooks.OnDailyLimit != nil {
			q.hooks.OnDailyLimit(resumeAt)
		}
	case reasonMinute:
		if q.minuteHeld {
			return
		}
		q.minuteHeld = true
		q.logger.Info("minute message budget exhausted", "wait", d.wait.String())
		if q.hooks.OnRateLimited != nil {
			q.hooks.OnRateLimited(d.wait)
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
