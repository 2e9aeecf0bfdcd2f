// Package webhook fans events out to HTTP endpoints, each with its own
// timeout and retry policy.
package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/platform/ids"
)

const (
	WildcardKind      = "*"
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = time.Second
)

var (
	ErrInvalidEndpoint   = errors.New("webhook: invalid endpoint")
	ErrDuplicateEndpoint = errors.New("webhook: endpoint already registered")
	ErrEndpointNotFound  = errors.New("webhook: endpoint not found")
	ErrDeliveryExhausted = errors.New("webhook: delivery attempts exhausted")
)

type Endpoint struct {
	ID         string            `json:"id" yaml:"id"`
	URL        string            `json:"url" yaml:"url"`
	Events     []string          `json:"events" yaml:"events"`
	Secret     string            `json:"-" yaml:"secret"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers"`
	Timeout    time.Duration     `json:"timeout" yaml:"timeout"`
	Retries    int               `json:"retries" yaml:"retries"`
	RetryDelay time.Duration     `json:"retry_delay" yaml:"retryDelay"`
	// OnError is called once per event the endpoint could not receive.
	OnError func(*DeliveryError) `json:"-" yaml:"-"`
}

// Matches reports whether the endpoint subscribes to kind.
func (e Endpoint) Matches(kind string) bool {
	for _, k := range e.Events {
		if k == WildcardKind || k == kind {
			return true
		}
	}
	return false
}

func (e Endpoint) clone() Endpoint {
	out := e
	out.Events = append([]string(nil), e.Events...)
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

func normalizeEndpoint(ep Endpoint) (Endpoint, error) {
	ep = ep.clone()
	ep.ID = strings.TrimSpace(ep.ID)
	ep.URL = strings.TrimSpace(ep.URL)

	u, err := url.Parse(ep.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Endpoint{}, fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidEndpoint)
	}
	if ep.Retries < 0 {
		return Endpoint{}, fmt.Errorf("%w: retries must not be negative", ErrInvalidEndpoint)
	}
	if ep.Timeout < 0 || ep.RetryDelay < 0 {
		return Endpoint{}, fmt.Errorf("%w: durations must not be negative", ErrInvalidEndpoint)
	}
	if ep.Timeout == 0 {
		ep.Timeout = defaultTimeout
	}
	if ep.RetryDelay == 0 {
		ep.RetryDelay = defaultRetryDelay
	}

	if len(ep.Events) == 0 {
		ep.Events = []string{WildcardKind}
	}
	seen := make(map[string]struct{}, len(ep.Events))
	kinds := ep.Events[:0]
	for _, raw := range ep.Events {
		kind := strings.TrimSpace(raw)
		if kind != WildcardKind && !events.Kind(kind).Valid() {
			return Endpoint{}, fmt.Errorf("%w: unknown event kind %q", ErrInvalidEndpoint, kind)
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	ep.Events = kinds

	if ep.ID == "" {
		id, err := ids.GeneratePrefixedID("wh")
		if err != nil {
			return Endpoint{}, err
		}
		ep.ID = id
	}
	return ep, nil
}

// DeliveryError is reported through Endpoint.OnError once retries run out.
type DeliveryError struct {
	EndpointID string
	EventKind  string
	DeliveryID string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook %s: %s delivery %s failed after %d attempts: %v",
		e.EndpointID, e.EventKind, e.DeliveryID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDeliveryExhausted, e.Err}
}

// DeliveryAttempt describes one POST. Delay is the wait before the next
// attempt, zero when none follows.
type DeliveryAttempt struct {
	EndpointID string
	EventKind  string
	DeliveryID string
	Attempt    int
	StatusCode int
	Err        error
	Delay      time.Duration
}
