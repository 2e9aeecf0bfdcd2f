package events

import (
	"sync"
	"time"
)

const defaultSubscriberBuffer = 128

type Envelope struct {
	Seq   int64
	At    time.Time
	Event Event
}

// Hub fans events out to subscribers and keeps a bounded replay history.
// A subscriber whose buffer is full is closed and dropped; it can resubscribe
// from the last sequence it saw.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	buffer  int
	history []Envelope
	subs    map[int]chan Envelope
	nextSub int
	now     func() time.Time
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit:  limit,
		buffer: defaultSubscriberBuffer,
		subs:   make(map[int]chan Envelope),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithSubscriberBuffer sets the channel capacity of future subscriptions.
func (h *Hub) WithSubscriberBuffer(n int) *Hub {
	if n > 0 {
		h.buffer = n
	}
	return h
}

// WithClock overrides the envelope timestamp source.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *Hub) Publish(event Event) Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	env := Envelope{Seq: h.nextSeq, At: h.now(), Event: event}
	h.history = append(h.history, env)
	if len(h.history) > h.limit {
		h.history = append([]Envelope(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- env:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return env
}

// Subscribe returns history newer than fromSeq, a live channel and a cancel
// func. Pass -1 to skip replay entirely.
func (h *Hub) Subscribe(fromSeq int64) ([]Envelope, <-chan Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Envelope, 0)
	if fromSeq >= 0 {
		for _, env := range h.history {
			if env.Seq > fromSeq {
				replay = append(replay, env)
			}
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Envelope, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				close(sub)
				delete(h.subs, id)
			}
		})
	}
	return replay, ch, cancel
}

func (h *Hub) LastSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

func (h *Hub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
