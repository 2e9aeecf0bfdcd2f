package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wa-gateway/go-backend/internal/webhook"
)

const envWebhookID = "env"

// ApplyEnvOverrides applies WAG_* variables on top of cfg. Unparseable values
// keep the current setting.
func ApplyEnvOverrides(cfg *Config) {
	if v := envString("WAG_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envString("WAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := envString("WAG_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := envString("WAG_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := envString("WAG_AUTH_DIR"); v != "" {
		cfg.Auth.Dir = v
	}
	if v := envString("WAG_AUTH_PASSPHRASE"); v != "" {
		cfg.Auth.Passphrase = v
	}

	cfg.Session.AutoReconnect = envBoolWithFallback("WAG_AUTO_RECONNECT", cfg.Session.AutoReconnect)
	cfg.Session.Reconnect.MaxAttempts = envBoundedIntWithFallback("WAG_RECONNECT_MAX_ATTEMPTS", cfg.Session.Reconnect.MaxAttempts, 0, 1000)
	cfg.Session.Reconnect.BaseDelay = envDurationWithFallback("WAG_RECONNECT_BASE_DELAY", cfg.Session.Reconnect.BaseDelay)

	cfg.Queue.MessagesPerMinute = envBoundedIntWithFallback("WAG_QUEUE_PER_MINUTE", cfg.Queue.MessagesPerMinute, 0, 10000)
	cfg.Queue.MessagesPerDay = envBoundedIntWithFallback("WAG_QUEUE_PER_DAY", cfg.Queue.MessagesPerDay, 0, 1000000)
	cfg.Queue.PerRecipientDelay = envDurationWithFallback("WAG_QUEUE_RECIPIENT_DELAY", cfg.Queue.PerRecipientDelay)
	if v := envString("WAG_QUEUE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}

	if ids := envCSV("WAG_SESSIONS"); ids != nil {
		cfg.Sessions = ids
	}
	if url := envString("WAG_WEBHOOK_URL"); url != "" {
		cfg.Webhooks = append(withoutEnvWebhook(cfg.Webhooks), webhook.Endpoint{
			ID:     envWebhookID,
			URL:    url,
			Secret: envString("WAG_WEBHOOK_SECRET"),
			Events: envCSV("WAG_WEBHOOK_EVENTS"),
		})
	}
}

func withoutEnvWebhook(in []webhook.Endpoint) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(in)+1)
	for _, ep := range in {
		if ep.ID != envWebhookID {
			out = append(out, ep)
		}
	}
	return out
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBoolWithFallback(key string, fallback bool) bool {
	switch strings.ToLower(envString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBoundedIntWithFallback(key string, fallback, min, max int) int {
	value := envIntWithFallback(key, fallback)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func envDurationWithFallback(key string, fallback time.Duration) time.Duration {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
