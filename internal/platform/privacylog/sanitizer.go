// Package privacylog keeps phone numbers and secrets out of log output.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var bootNonce = randomNonce()

// Policy names the attribute keys that are replaced by a per-process
// fingerprint and the key fragments whose values are dropped entirely.
type Policy struct {
	Fingerprint map[string]struct{}
	Sensitive   []string
}

func DefaultPolicy() Policy {
	return Policy{
		Fingerprint: map[string]struct{}{
			"recipient":    {},
			"phone_number": {},
			"jid":          {},
			"remote_jid":   {},
			"me":           {},
			"push_name":    {},
		},
		Sensitive: []string{"token", "secret", "password", "passphrase", "authorization", "credentials", "qr"},
	}
}

type SanitizingHandler struct {
	next   slog.Handler
	policy Policy
}

func WrapHandler(next slog.Handler) slog.Handler {
	return WrapHandlerWithPolicy(next, DefaultPolicy())
}

func WrapHandlerWithPolicy(next slog.Handler, policy Policy) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next, policy: policy}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.policy.Sanitize(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, h.policy.Sanitize(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean), policy: h.policy}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), policy: h.policy}
}

// Sanitize rewrites a single attribute, descending into groups.
func (p Policy) Sanitize(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)
	if p.isSensitive(lower) {
		return slog.String(key, redactedValue)
	}
	if _, ok := p.Fingerprint[lower]; ok {
		return slog.String(fingerprintKeyName(key), FingerprintID(valueToString(attr.Value.Resolve())))
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		clean := make([]any, 0, len(group))
		for _, member := range group {
			clean = append(clean, p.Sanitize(member))
		}
		return slog.Group(key, clean...)
	}
	return attr
}

func (p Policy) isSensitive(key string) bool {
	for _, part := range p.Sensitive {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// FingerprintID maps an identifier to a stable value for the lifetime of the process.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(key), "_fp") {
		return key
	}
	return key + "_fp"
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
