package ratequeue

import "time"

type decisionKind int

const (
	decisionIdle decisionKind = iota
	decisionWait
	decisionDispatch
)

type waitReason string

const (
	reasonDaily   waitReason = "daily"
	reasonMinute  waitReason = "minute"
	reasonSpacing waitReason = "spacing"
	reasonPacing  waitReason = "pacing"
)

type decision struct {
	kind   decisionKind
	wait   time.Duration
	until  time.Time
	reason waitReason
	task   *task
}

// step decides what the drain loop does at now. Checks run in order: day
// budget, minute budget, head recipient spacing, then pacing for the head.
func (q *Queue) step(now time.Time) decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollDayLocked(now)
	q.pruneMinuteLocked(now)

	if len(q.tasks) == 0 {
		return decision{kind: decisionIdle}
	}
	if q.cfg.MessagesPerDay > 0 && q.today >= q.cfg.MessagesPerDay {
		return decision{kind: decisionWait, wait: q.dayEnds.Sub(now), until: q.dayEnds, reason: reasonDaily}
	}
	if q.cfg.MessagesPerMinute > 0 && len(q.sent) >= q.cfg.MessagesPerMinute {
		return decision{kind: decisionWait, wait: q.sent[0].Add(minuteWindow).Sub(now), reason: reasonMinute}
	}

	head := q.tasks[0]
	if d := q.spacing.Delay(head.recipient, now); d > 0 {
		return decision{kind: decisionWait, wait: d, reason: reasonSpacing}
	}
	if q.paced != head {
		q.paced = head
		q.pacedUntil = now.Add(q.pacingDelay())
	}
	if now.Before(q.pacedUntil) {
		return decision{kind: decisionWait, wait: q.pacedUntil.Sub(now), reason: reasonPacing}
	}
	return decision{kind: decisionDispatch, task: head}
}

func (q *Queue) rollDayLocked(now time.Time) {
	if q.dayEnds.IsZero() || !now.Before(q.dayEnds) {
		q.today = 0
		q.dayEnds = nextMidnight(now, q.cfg.Location)
	}
}

// pruneMinuteLocked keeps only dispatches inside the sliding minute window.
func (q *Queue) pruneMinuteLocked(now time.Time) {
	cutoff := now.Add(-minuteWindow)
	keep := 0
	for keep < len(q.sent) && !q.sent[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		q.sent = append(q.sent[:0], q.sent[keep:]...)
	}
}

// pacingDelay samples uniform[MinDelay, MaxDelay] plus uniform jitter in
// [-Jitter, +Jitter], floored at pacingFloor.
func (q *Queue) pacingDelay() time.Duration {
	if q.cfg.MinDelay == 0 && q.cfg.MaxDelay == 0 && q.cfg.Jitter == 0 {
		return 0
	}
	d := q.cfg.MinDelay
	if spread := q.cfg.MaxDelay - q.cfg.MinDelay; spread > 0 {
		d += time.Duration(q.rnd.Int63n(int64(spread) + 1))
	}
	if q.cfg.Jitter > 0 {
		d += time.Duration(q.rnd.Int63n(2*int64(q.cfg.Jitter)+1)) - q.cfg.Jitter
	}
	if d < pacingFloor {
		d = pacingFloor
	}
	return d
}
