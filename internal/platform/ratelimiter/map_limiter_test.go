package ratelimiter

import (
	"fmt"
	"testing"
	"time"
)

func TestDelaySpacesEventsPerKey(t *testing.T) {
	l := New(3*time.Second, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if d := l.Delay("a", now); d != 0 {
		t.Fatalf("unknown key must not wait, got %s", d)
	}
	l.Record("a", now)

	d := l.Delay("a", now.Add(time.Second))
	if d < 2*time.Second || d > 2*time.Second+time.Millisecond {
		t.Fatalf("expected ~2s remaining, got %s", d)
	}
	if d := l.Delay("b", now.Add(time.Second)); d != 0 {
		t.Fatalf("other keys are independent, got %s", d)
	}
	if d := l.Delay("a", now.Add(3*time.Second+time.Millisecond)); d != 0 {
		t.Fatalf("expected no wait after interval, got %s", d)
	}
}

func TestDelayPlusWaitNeverUndercutsInterval(t *testing.T) {
	interval := 1500 * time.Millisecond
	l := New(interval, 0)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		prev := at
		l.Record("k", at)
		at = at.Add(l.Delay("k", at.Add(time.Duration(i)*time.Millisecond)) + time.Duration(i)*time.Millisecond)
		if gap := at.Sub(prev); gap < interval {
			t.Fatalf("iteration %d: gap %s below interval %s", i, gap, interval)
		}
	}
}

func TestSweepEvictsIdleKeys(t *testing.T) {
	l := New(time.Second, 10*time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		l.Record(fmt.Sprintf("k%d", i), now)
	}
	l.Record("fresh", now.Add(20*time.Minute))
	if removed := l.Sweep(now.Add(20 * time.Minute)); removed != 10 {
		t.Fatalf("expected 10 evictions, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 remaining key, got %d", l.Len())
	}
}

func TestIdleTTLNeverBelowInterval(t *testing.T) {
	l := New(time.Hour, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.Record("k", now)
	l.Sweep(now.Add(30 * time.Minute))
	if d := l.Delay("k", now.Add(30*time.Minute)); d < 29*time.Minute {
		t.Fatalf("key evicted before its spacing elapsed, delay=%s", d)
	}
}

func TestNilLimiterNeverDelays(t *testing.T) {
	var l *MapLimiter
	if New(0, 0) != nil {
		t.Fatal("expected nil limiter for zero interval")
	}
	l.Record("k", time.Now())
	if d := l.Delay("k", time.Now()); d != 0 {
		t.Fatalf("nil limiter delayed %s", d)
	}
	if l.Len() != 0 {
		t.Fatal("nil limiter has no keys")
	}
}
