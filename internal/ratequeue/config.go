// Package ratequeue paces outbound operations under per-minute, per-day and
// per-recipient budgets, one operation in flight at a time.
package ratequeue

import (
	"errors"
	"time"
)

var (
	ErrCancelled   = errors.New("ratequeue: task cancelled")
	ErrQueueClosed = errors.New("ratequeue: queue closed")
	ErrQueueFull   = errors.New("ratequeue: queue full")
	ErrInvalidTask = errors.New("ratequeue: invalid task")
)

const (
	minuteWindow = time.Minute
	pacingFloor  = 50 * time.Millisecond
)

// Config bounds one queue. Zero MessagesPerMinute, MessagesPerDay or
// MaxPending disables that limit. Pacing is off when MinDelay, MaxDelay and
// Jitter are all zero.
type Config struct {
	MessagesPerMinute int            `yaml:"messagesPerMinute"`
	MessagesPerDay    int            `yaml:"messagesPerDay"`
	PerRecipientDelay time.Duration  `yaml:"perRecipientDelay"`
	MinDelay          time.Duration  `yaml:"minDelay"`
	MaxDelay          time.Duration  `yaml:"maxDelay"`
	Jitter            time.Duration  `yaml:"jitter"`
	MaxPending        int            `yaml:"maxPending"`
	RecipientIdleTTL  time.Duration  `yaml:"recipientIdleTTL"`
	Location          *time.Location `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MessagesPerMinute: 20,
		MessagesPerDay:    1000,
		PerRecipientDelay: 5 * time.Second,
		MinDelay:          1 * time.Second,
		MaxDelay:          3 * time.Second,
		Jitter:            500 * time.Millisecond,
		MaxPending:        1000,
		RecipientIdleTTL:  30 * time.Minute,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.MessagesPerMinute < 0 {
		cfg.MessagesPerMinute = 0
	}
	if cfg.MessagesPerDay < 0 {
		cfg.MessagesPerDay = 0
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	if cfg.PerRecipientDelay < 0 {
		cfg.PerRecipientDelay = 0
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = -cfg.Jitter
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Hooks are invoked from the drain goroutine and must not block.
type Hooks struct {
	// OnRateLimited fires once when the minute budget starts holding the queue.
	OnRateLimited func(wait time.Duration)
	// OnDailyLimit fires once when the day budget runs out.
	OnDailyLimit func(resumeAt time.Time)
	OnQueueFull func(depth int)
	OnDispatch  func(Dispatch)
}

// Dispatch describes one invoked operation.
type Dispatch struct {
	TaskID    string
	Recipient string
	At        time.Time
	Err       error
}

type Stats struct {
	SentThisMinute int  `json:"sent_this_minute"`
	SentToday      int  `json:"sent_today"`
	Depth          int  `json:"depth"`
	InFlight       bool `json:"in_flight"`
	Recipients     int  `json:"recipients"`
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
