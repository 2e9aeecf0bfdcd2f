// Package config loads the gateway daemon configuration: a YAML file merged
// onto defaults, then WAG_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/ratequeue"
	"wa-gateway/go-backend/internal/session"
	"wa-gateway/go-backend/internal/transport/memtransport"
	"wa-gateway/go-backend/internal/webhook"
)

const (
	TransportMock = "mock"
)

type Config struct {
	MetricsAddr string
	Logging     logging.Config
	Transport   string
	Mock        memtransport.Options
	Auth        AuthConfig
	Session     session.Config
	Queue       ratequeue.Config
	Timezone    string
	Webhooks    []webhook.Endpoint
	Sessions    []string
}

type AuthConfig struct {
	Dir        string `yaml:"dir"`
	Passphrase string `yaml:"passphrase"`
}

func DefaultConfig() Config {
	return Config{
		MetricsAddr: "127.0.0.1:9464",
		Logging:     logging.Config{Level: "info", Format: "json"},
		Transport:   TransportMock,
		Mock:        memtransport.DefaultOptions(),
		Session:     session.DefaultConfig(),
		Queue:       ratequeue.DefaultConfig(),
		Timezone:    "Local",
	}
}

type FileConfig struct {
	MetricsAddr string              `yaml:"metricsAddr"`
	Logging     logging.Config      `yaml:"logging"`
	Transport   FileTransportConfig `yaml:"transport"`
	Auth        AuthConfig          `yaml:"auth"`
	Session     FileSessionConfig   `yaml:"session"`
	Queue       FileQueueConfig     `yaml:"queue"`
	Webhooks    []webhook.Endpoint  `yaml:"webhooks"`
	Sessions    []string            `yaml:"sessions"`
}

type FileTransportConfig struct {
	Kind string               `yaml:"kind"`
	Mock memtransport.Options `yaml:"mock"`
}

type FileSessionConfig struct {
	AutoReconnect            *bool         `yaml:"autoReconnect"`
	MaxAttempts              *int          `yaml:"maxAttempts"`
	BaseDelay                time.Duration `yaml:"baseDelay"`
	BackoffMultiplier        float64       `yaml:"backoffMultiplier"`
	ClearCredentialsOnLogout *bool         `yaml:"clearCredentialsOnLogout"`
	SaveTimeout              time.Duration `yaml:"saveTimeout"`
	HistoryLimit             int           `yaml:"historyLimit"`
}

type FileQueueConfig struct {
	MessagesPerMinute *int          `yaml:"messagesPerMinute"`
	MessagesPerDay    *int          `yaml:"messagesPerDay"`
	PerRecipientDelay time.Duration `yaml:"perRecipientDelay"`
	MinDelay          time.Duration `yaml:"minDelay"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	Jitter            time.Duration `yaml:"jitter"`
	MaxPending        *int          `yaml:"maxPending"`
	RecipientIdleTTL  time.Duration `yaml:"recipientIdleTTL"`
	Timezone          string        `yaml:"timezone"`
}

// LoadFromPath reads configPath, or the first readable default candidate
// when it is empty. A missing default file is not an error; an explicit path
// that cannot be read or parsed is.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Resolve(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Transport.Kind != "" {
		dst.Transport = src.Transport.Kind
	}
	if src.Transport.Mock.ConnectDelay != 0 {
		dst.Mock.ConnectDelay = src.Transport.Mock.ConnectDelay
	}
	if src.Transport.Mock.PairDelay != 0 {
		dst.Mock.PairDelay = src.Transport.Mock.PairDelay
	}
	if src.Transport.Mock.EventBuffer != 0 {
		dst.Mock.EventBuffer = src.Transport.Mock.EventBuffer
	}
	if src.Auth.Dir != "" {
		dst.Auth.Dir = src.Auth.Dir
	}
	if src.Auth.Passphrase != "" {
		dst.Auth.Passphrase = src.Auth.Passphrase
	}
	mergeSession(&dst.Session, src.Session)
	mergeQueue(dst, src.Queue)
	if src.Webhooks != nil {
		dst.Webhooks = src.Webhooks
	}
	if src.Sessions != nil {
		dst.Sessions = src.Sessions
	}
}

func mergeSession(dst *session.Config, src FileSessionConfig) {
	if src.AutoReconnect != nil {
		dst.AutoReconnect = *src.AutoReconnect
	}
	if src.MaxAttempts != nil {
		dst.Reconnect.MaxAttempts = *src.MaxAttempts
	}
	if src.BaseDelay != 0 {
		dst.Reconnect.BaseDelay = src.BaseDelay
	}
	if src.BackoffMultiplier != 0 {
		dst.Reconnect.BackoffMultiplier = src.BackoffMultiplier
	}
	if src.ClearCredentialsOnLogout != nil {
		dst.ClearCredentialsOnLogout = *src.ClearCredentialsOnLogout
	}
	if src.SaveTimeout != 0 {
		dst.SaveTimeout = src.SaveTimeout
	}
	if src.HistoryLimit != 0 {
		dst.HistoryLimit = src.HistoryLimit
	}
}

func mergeQueue(dst *Config, src FileQueueConfig) {
	q := &dst.Queue
	if src.MessagesPerMinute != nil {
		q.MessagesPerMinute = *src.MessagesPerMinute
	}
	if src.MessagesPerDay != nil {
		q.MessagesPerDay = *src.MessagesPerDay
	}
	if src.PerRecipientDelay != 0 {
		q.PerRecipientDelay = src.PerRecipientDelay
	}
	if src.MinDelay != 0 {
		q.MinDelay = src.MinDelay
	}
	if src.MaxDelay != 0 {
		q.MaxDelay = src.MaxDelay
	}
	if src.Jitter != 0 {
		q.Jitter = src.Jitter
	}
	if src.MaxPending != nil {
		q.MaxPending = *src.MaxPending
	}
	if src.RecipientIdleTTL != 0 {
		q.RecipientIdleTTL = src.RecipientIdleTTL
	}
	if src.Timezone != "" {
		dst.Timezone = src.Timezone
	}
}

// Resolve validates the merged config and fills derived fields.
func (c *Config) Resolve() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport != TransportMock {
		return fmt.Errorf("config: unsupported transport %q", c.Transport)
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return fmt.Errorf("config: invalid queue timezone %q: %w", c.Timezone, err)
	}
	c.Queue.Location = loc
	if c.Auth.Passphrase != "" && c.Auth.Dir == "" {
		return errors.New("config: auth passphrase requires auth dir")
	}
	return nil
}
