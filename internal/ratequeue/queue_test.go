package ratequeue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"wa-gateway/go-backend/internal/platform/logging"
)

var errBoom = errors.New("boom")

func okOp(context.Context) (any, error) { return "ok", nil }

type dispatchLog struct {
	mu      sync.Mutex
	entries []Dispatch
}

func (l *dispatchLog) record(d Dispatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, d)
}

func (l *dispatchLog) snapshot() []Dispatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Dispatch(nil), l.entries...)
}

func newTestQueue(t *testing.T, cfg Config, hooks Hooks) (*Queue, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	q := New("test", cfg, WithClock(mock), WithLogger(logging.Discard()), WithHooks(hooks))
	return q, mock
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func allDone(handles ...*Handle) func() bool {
	return func() bool {
		for _, h := range handles {
			select {
			case <-h.Done():
			default:
				return false
			}
		}
		return true
	}
}

// drive advances the mock clock in steps until done reports true.
func drive(t *testing.T, mock *clock.Mock, step time.Duration, maxSteps int, done func() bool) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if done() {
			return
		}
		mock.Add(step)
		time.Sleep(time.Millisecond)
	}
	if !done() {
		t.Fatal("condition not reached while driving the clock")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mustEnqueue(t *testing.T, q *Queue, recipient string, op Operation) *Handle {
	t.Helper()
	h, err := q.Enqueue(recipient, op)
	if err != nil {
		t.Fatalf("enqueue %s: %v", recipient, err)
	}
	return h
}

func TestMinuteBudgetHoldsRollingWindow(t *testing.T) {
	log := &dispatchLog{}
	var limitedMu sync.Mutex
	limited := 0
	q, mock := newTestQueue(t, Config{MessagesPerMinute: 2}, Hooks{
		OnDispatch: log.record,
		OnRateLimited: func(time.Duration) {
			limitedMu.Lock()
			limited++
			limitedMu.Unlock()
		},
	})

	handles := make([]*Handle, 0, 5)
	for _, r := range []string{"1", "2", "3", "4", "5"} {
		handles = append(handles, mustEnqueue(t, q, r, okOp))
	}
	startQueue(t, q)
	drive(t, mock, time.Second, 400, allDone(handles...))

	got := log.snapshot()
	if len(got) != 5 {
		t.Fatalf("expected 5 dispatches, got %d", len(got))
	}
	for i := 2; i < len(got); i++ {
		if gap := got[i].At.Sub(got[i-2].At); gap < time.Minute {
			t.Fatalf("dispatches %d and %d only %v apart: more than 2 in a rolling minute", i-2, i, gap)
		}
	}
	for i, h := range handles {
		if res, err := h.Wait(context.Background()); err != nil || res != "ok" {
			t.Fatalf("handle %d: %v %v", i, res, err)
		}
	}
	limitedMu.Lock()
	defer limitedMu.Unlock()
	if limited != 2 {
		t.Fatalf("expected one rate-limit notification per episode (2), got %d", limited)
	}
}

func TestSameRecipientSpacing(t *testing.T) {
	log := &dispatchLog{}
	q, mock := newTestQueue(t, Config{PerRecipientDelay: 10 * time.Second}, Hooks{OnDispatch: log.record})

	a := mustEnqueue(t, q, "15550001111", okOp)
	b := mustEnqueue(t, q, "+1 555 000 1111", okOp)
	c := mustEnqueue(t, q, "15550002222", okOp)
	startQueue(t, q)
	drive(t, mock, 500*time.Millisecond, 200, allDone(a, b, c))

	got := log.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(got))
	}
	if got[0].TaskID != a.ID() || got[1].TaskID != b.ID() || got[2].TaskID != c.ID() {
		t.Fatal("dispatch order must be FIFO")
	}
	if gap := got[1].At.Sub(got[0].At); gap < 10*time.Second {
		t.Fatalf("same recipient dispatched %v apart", gap)
	}
	if got[2].At.Before(got[1].At) {
		t.Fatal("later task must wait behind the spaced head")
	}
	if q.Stats().Recipients != 2 {
		t.Fatalf("expected 2 tracked recipients, got %d", q.Stats().Recipients)
	}
}

func TestPacingDelaysEachDispatch(t *testing.T) {
	log := &dispatchLog{}
	q, mock := newTestQueue(t, Config{MinDelay: 2 * time.Second, MaxDelay: 2 * time.Second}, Hooks{OnDispatch: log.record})
	start := mock.Now()

	a := mustEnqueue(t, q, "1", okOp)
	b := mustEnqueue(t, q, "2", okOp)
	startQueue(t, q)
	drive(t, mock, 250*time.Millisecond, 200, allDone(a, b))

	got := log.snapshot()
	if got[0].At.Sub(start) < 2*time.Second {
		t.Fatalf("first dispatch not paced: %v", got[0].At.Sub(start))
	}
	if gap := got[1].At.Sub(got[0].At); gap < 2*time.Second {
		t.Fatalf("second dispatch not paced: %v", gap)
	}
}

func TestPacingDelaySampling(t *testing.T) {
	q := New("p", Config{MinDelay: time.Second, MaxDelay: 3 * time.Second, Jitter: 500 * time.Millisecond},
		WithRand(rand.New(rand.NewSource(7))), WithLogger(logging.Discard()))
	for i := 0; i < 1000; i++ {
		d := q.pacingDelay()
		if d < 500*time.Millisecond || d > 3500*time.Millisecond {
			t.Fatalf("sample %v outside [500ms, 3.5s]", d)
		}
	}

	floor := New("f", Config{MinDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}, WithLogger(logging.Discard()))
	if d := floor.pacingDelay(); d != pacingFloor {
		t.Fatalf("expected floor %v, got %v", pacingFloor, d)
	}
	off := New("o", Config{}, WithLogger(logging.Discard()))
	if d := off.pacingDelay(); d != 0 {
		t.Fatalf("expected no pacing, got %v", d)
	}
}

func TestClearRejectsPendingButNotInFlight(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, Hooks{})
	started := make(chan struct{})
	release := make(chan struct{})
	first := mustEnqueue(t, q, "1", func(context.Context) (any, error) {
		close(started)
		<-release
		return "first", nil
	})
	startQueue(t, q)
	<-started

	pending := []*Handle{
		mustEnqueue(t, q, "2", okOp),
		mustEnqueue(t, q, "3", okOp),
		mustEnqueue(t, q, "4", okOp),
	}
	if n := q.Clear(); n != 3 {
		t.Fatalf("expected 3 cleared, got %d", n)
	}
	for i, h := range pending {
		if _, err := h.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
			t.Fatalf("pending %d: expected ErrCancelled, got %v", i, err)
		}
	}
	stats := q.Stats()
	if stats.Depth != 0 || !stats.InFlight {
		t.Fatalf("unexpected stats after clear: %+v", stats)
	}

	close(release)
	res, err := first.Wait(context.Background())
	if err != nil || res != "first" {
		t.Fatalf("in-flight task must complete: %v %v", res, err)
	}
	waitUntil(t, func() bool { return !q.Stats().InFlight })
	if q.Stats().SentThisMinute != 1 {
		t.Fatalf("expected 1 sent, got %+v", q.Stats())
	}
}

func TestDailyBudgetSuspendsUntilMidnight(t *testing.T) {
	log := &dispatchLog{}
	var resumes []time.Time
	var mu sync.Mutex
	q, mock := newTestQueue(t, Config{MessagesPerDay: 2, Location: time.UTC}, Hooks{
		OnDispatch: log.record,
		OnDailyLimit: func(at time.Time) {
			mu.Lock()
			resumes = append(resumes, at)
			mu.Unlock()
		},
	})
	mock.Set(time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC))
	midnight := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	handles := []*Handle{
		mustEnqueue(t, q, "1", okOp),
		mustEnqueue(t, q, "2", okOp),
		mustEnqueue(t, q, "3", okOp),
	}
	startQueue(t, q)
	waitUntil(t, allDone(handles[0], handles[1]))
	if stats := q.Stats(); stats.SentToday != 2 || stats.Depth != 1 {
		t.Fatalf("unexpected stats before midnight: %+v", stats)
	}

	drive(t, mock, 10*time.Minute, 60, allDone(handles...))
	got := log.snapshot()
	if got[2].At.Before(midnight) {
		t.Fatalf("third dispatch at %v, before midnight", got[2].At)
	}
	if q.Stats().SentToday != 1 {
		t.Fatalf("day counter should reset at midnight, got %+v", q.Stats())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(resumes) != 1 || !resumes[0].Equal(midnight) {
		t.Fatalf("expected one daily-limit notification at midnight, got %v", resumes)
	}
}

func TestQueueFullRejects(t *testing.T) {
	var fullDepth int
	q, _ := newTestQueue(t, Config{MaxPending: 2}, Hooks{OnQueueFull: func(depth int) { fullDepth = depth }})
	mustEnqueue(t, q, "1", okOp)
	mustEnqueue(t, q, "2", okOp)
	if _, err := q.Enqueue("3", okOp); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if fullDepth != 2 {
		t.Fatalf("expected hook depth 2, got %d", fullDepth)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, Hooks{})
	if _, err := q.Enqueue("", okOp); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for empty recipient, got %v", err)
	}
	if _, err := q.Enqueue("   ", okOp); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for blank recipient, got %v", err)
	}
	if _, err := q.Enqueue("1", nil); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for nil op, got %v", err)
	}
}

func TestRecipientKeys(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, Hooks{})
	cases := map[string]string{
		"+1 (555) 000-1111":            "15550001111@s.whatsapp.net",
		"15550001111:3@S.WhatsApp.net": "15550001111@s.whatsapp.net",
		" crm-contact-42 ":             "crm-contact-42",
		"abc":                          "abc",
	}
	for raw, want := range cases {
		h, err := q.Enqueue(raw, okOp)
		if err != nil {
			t.Fatalf("enqueue %q: %v", raw, err)
		}
		if h.Recipient() != want {
			t.Fatalf("recipient %q: expected key %q, got %q", raw, want, h.Recipient())
		}
	}
	if got := q.Stats().Depth; got != len(cases) {
		t.Fatalf("expected depth %d, got %d", len(cases), got)
	}
}

func TestFailedOperationDoesNotBlockNext(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, Hooks{})
	failing := mustEnqueue(t, q, "1", func(context.Context) (any, error) { return nil, errBoom })
	panicking := mustEnqueue(t, q, "2", func(context.Context) (any, error) { panic("bad op") })
	ok := mustEnqueue(t, q, "3", okOp)
	startQueue(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := failing.Wait(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if _, err := panicking.Wait(ctx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if _, err := ok.Wait(ctx); err != nil {
		t.Fatalf("next task should succeed: %v", err)
	}
	if sent := q.Stats().SentThisMinute; sent != 1 {
		t.Fatalf("failures must not count against the budget, sent=%d", sent)
	}
}

func TestRunExitRejectsPending(t *testing.T) {
	q, _ := newTestQueue(t, Config{MessagesPerMinute: 1}, Hooks{})
	first := mustEnqueue(t, q, "1", okOp)
	second := mustEnqueue(t, q, "2", okOp)
	third := mustEnqueue(t, q, "3", okOp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first: %v", err)
	}
	cancel()
	<-done

	for _, h := range []*Handle{second, third} {
		if _, err := h.Wait(context.Background()); !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	}
	if _, err := q.Enqueue("4", okOp); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after run exit, got %v", err)
	}
}

func TestHandleCancelAndWaitContext(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, Hooks{})
	h := mustEnqueue(t, q, "1", okOp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if q.Stats().Depth != 1 {
		t.Fatal("abandoned wait must leave the task queued")
	}
	if !h.Cancel() {
		t.Fatal("expected cancel to withdraw pending task")
	}
	if h.Cancel() {
		t.Fatal("second cancel must report false")
	}
	if _, err := h.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if q.Stats().Depth != 0 {
		t.Fatal("cancelled task must leave the queue")
	}
}

func TestQueuesDoNotShareBudgets(t *testing.T) {
	a, _ := newTestQueue(t, Config{MessagesPerMinute: 1}, Hooks{})
	b, _ := newTestQueue(t, Config{MessagesPerMinute: 1}, Hooks{})
	ha := mustEnqueue(t, a, "1", okOp)
	hb := mustEnqueue(t, b, "1", okOp)
	startQueue(t, a)
	startQueue(t, b)
	waitUntil(t, allDone(ha, hb))
	if a.Stats().SentThisMinute != 1 || b.Stats().SentThisMinute != 1 {
		t.Fatal("each queue must keep its own budget")
	}
}
