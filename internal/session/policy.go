package session

import (
	"math"
	"time"

	"wa-gateway/go-backend/internal/transport"
)

type ReconnectPolicy struct {
	MaxAttempts       int           `yaml:"maxAttempts"`
	BaseDelay         time.Duration `yaml:"baseDelay"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
}

type Config struct {
	AutoReconnect            bool            `yaml:"autoReconnect"`
	Reconnect                ReconnectPolicy `yaml:"reconnect"`
	ClearCredentialsOnLogout bool            `yaml:"clearCredentialsOnLogout"`
	SaveTimeout              time.Duration   `yaml:"saveTimeout"`
	HistoryLimit             int             `yaml:"historyLimit"`
}

func DefaultConfig() Config {
	return Config{
		AutoReconnect: true,
		Reconnect: ReconnectPolicy{
			MaxAttempts:       5,
			BaseDelay:         3 * time.Second,
			BackoffMultiplier: 2,
		},
		ClearCredentialsOnLogout: true,
		SaveTimeout:              10 * time.Second,
		HistoryLimit:             512,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Reconnect.MaxAttempts < 0 {
		cfg.Reconnect.MaxAttempts = 0
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = def.Reconnect.BaseDelay
	}
	if cfg.Reconnect.BackoffMultiplier < 1 {
		cfg.Reconnect.BackoffMultiplier = def.Reconnect.BackoffMultiplier
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return cfg
}

// Delay is the wait before the given 1-based reconnect attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type reconnectAction int

const (
	actionRetry reconnectAction = iota
	actionLoggedOut
	actionExhausted
	actionDisabled
)

type reconnectDecision struct {
	Action  reconnectAction
	Attempt int
	Delay   time.Duration
}

// decideReconnect maps a connection close onto the next step. attempts is
// the number of reconnects already scheduled since the last connected state.
func decideReconnect(policy ReconnectPolicy, autoReconnect bool, attempts, code int) reconnectDecision {
	if code == transport.CloseLoggedOut {
		return reconnectDecision{Action: actionLoggedOut}
	}
	if !autoReconnect {
		return reconnectDecision{Action: actionDisabled}
	}
	if attempts >= policy.MaxAttempts {
		return reconnectDecision{Action: actionExhausted, Attempt: attempts}
	}
	next := attempts + 1
	return reconnectDecision{Action: actionRetry, Attempt: next, Delay: policy.Delay(next)}
}
