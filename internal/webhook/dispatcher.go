package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/platform/ids"
	"wa-gateway/go-backend/internal/platform/logging"
)

const (
	maxRetryInterval  = 24 * time.Hour
	responseDrainSize = 64 << 10
	userAgent         = "wa-gateway-webhook/1"
)

type Payload struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	WebhookID string    `json:"webhookId"`
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) {
		d.reg = reg
	}
}

// WithOnAttempt observes every POST, successful or not.
func WithOnAttempt(fn func(DeliveryAttempt)) Option {
	return func(d *Dispatcher) {
		d.onAttempt = fn
	}
}

func WithInstanceID(id string) Option {
	return func(d *Dispatcher) {
		if id != "" {
			d.id = id
		}
	}
}

type Dispatcher struct {
	id        string
	client    *http.Client
	logger    *slog.Logger
	reg       prometheus.Registerer
	metrics   *metrics
	onAttempt func(DeliveryAttempt)
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	closed    bool
}

func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		id:        uuid.NewString(),
		client:    &http.Client{},
		logger:    logging.DefaultLogger(),
		now:       func() time.Time { return time.Now().UTC() },
		endpoints: make(map[string]Endpoint),
	}
	for _, opt := range opts {
		opt(d)
	}
	m, err := newMetrics(d.reg)
	if err != nil {
		return nil, fmt.Errorf("register webhook metrics: %w", err)
	}
	d.metrics = m
	d.logger = d.logger.With("component", "webhook")
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// InstanceID is sent as X-Webhook-Id so receivers can deduplicate retries.
func (d *Dispatcher) InstanceID() string {
	return d.id
}

func (d *Dispatcher) AddEndpoint(ep Endpoint) (Endpoint, error) {
	ep, err := normalizeEndpoint(ep)
	if err != nil {
		return Endpoint{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.endpoints[ep.ID]; exists {
		return Endpoint{}, ErrDuplicateEndpoint
	}
	d.endpoints[ep.ID] = ep
	d.metrics.endpoints.Set(float64(len(d.endpoints)))
	d.logger.Info("webhook endpoint added", "endpoint_id", ep.ID, "events", ep.Events)
	return ep.clone(), nil
}

func (d *Dispatcher) RemoveEndpoint(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(d.endpoints, id)
	d.metrics.endpoints.Set(float64(len(d.endpoints)))
	d.logger.Info("webhook endpoint removed", "endpoint_id", id)
	return nil
}

func (d *Dispatcher) Endpoints() []Endpoint {
	d.mu.RLock()
	out := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep.clone())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dispatch starts one delivery per subscribed endpoint and returns without
// waiting for any of them.
func (d *Dispatcher) Dispatch(kind string, data any) {
	d.dispatch(kind, data, d.now())
}

func (d *Dispatcher) DispatchEvent(env events.Envelope) {
	if env.Event == nil {
		return
	}
	at := env.At
	if at.IsZero() {
		at = d.now()
	}
	d.dispatch(string(env.Event.Kind()), env.Event, at)
}

func (d *Dispatcher) dispatch(kind string, data any, at time.Time) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	targets := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		if ep.Matches(kind) {
			targets = append(targets, ep.clone())
		}
	}
	if len(targets) > 0 {
		d.wg.Add(len(targets))
	}
	d.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(Payload{Event: kind, Data: data, Timestamp: at, WebhookID: d.id})
	if err != nil {
		d.logger.Error("webhook payload encode failed", "event", kind, "error", err.Error())
		for range targets {
			d.wg.Done()
		}
		return
	}
	for _, ep := range targets {
		go d.deliver(ep, kind, body)
	}
}

// Forward dispatches every event published on hub until ctx ends. If the hub
// drops the subscription it resubscribes from the last seen sequence.
func (d *Dispatcher) Forward(ctx context.Context, hub *events.Hub) {
	replay, ch, cancel := hub.Subscribe(-1)
	defer func() { cancel() }()
	var last int64
	for {
		for _, env := range replay {
			last = env.Seq
			d.DispatchEvent(env)
		}
		replay = nil
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				d.logger.Warn("webhook forwarder fell behind, resubscribing", "last_seq", last)
				replay, ch, cancel = hub.Subscribe(last)
				continue
			}
			last = env.Seq
			d.DispatchEvent(env)
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries. When ctx
// ends first the remaining deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ep Endpoint, kind string, body []byte) {
	defer d.wg.Done()
	deliveryID, err := ids.GeneratePrefixedID("dlv")
	if err != nil {
		deliveryID = uuid.NewString()
	}
	logger := d.logger.With("endpoint_id", ep.ID, "event", kind, "delivery_id", deliveryID)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = ep.RetryDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(ep.Retries)), d.ctx)

	attempt := 0
	var lastStatus int
	var lastErr error
	operation := func() error {
		attempt++
		started := time.Now()
		lastStatus, lastErr = d.post(d.ctx, ep, kind, deliveryID, body)
		d.metrics.observeAttempt(lastErr, time.Since(started))
		return lastErr
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("webhook attempt failed, retrying", "attempt", attempt, "status", lastStatus, "retry_in", next.String(), "error", err.Error())
		d.reportAttempt(DeliveryAttempt{
			EndpointID: ep.ID, EventKind: kind, DeliveryID: deliveryID,
			Attempt: attempt, StatusCode: lastStatus, Err: err, Delay: next,
		})
	}

	err = backoff.RetryNotify(operation, policy, notify)
	d.reportAttempt(DeliveryAttempt{
		EndpointID: ep.ID, EventKind: kind, DeliveryID: deliveryID,
		Attempt: attempt, StatusCode: lastStatus, Err: lastErr,
	})
	switch {
	case err == nil:
		d.metrics.deliveries.WithLabelValues("delivered").Inc()
	case d.ctx.Err() != nil && errors.Is(err, context.Canceled):
		d.metrics.deliveries.WithLabelValues("cancelled").Inc()
		logger.Info("webhook delivery cancelled", "attempts", attempt)
	default:
		d.metrics.deliveries.WithLabelValues("exhausted").Inc()
		logger.Warn("webhook delivery failed", "attempts", attempt, "status", lastStatus, "error", err.Error())
		if ep.OnError != nil {
			ep.OnError(&DeliveryError{
				EndpointID: ep.ID,
				EventKind:  kind,
				DeliveryID: deliveryID,
				Attempts:   attempt,
				StatusCode: lastStatus,
				Err:        err,
			})
		}
	}
}

func (d *Dispatcher) reportAttempt(a DeliveryAttempt) {
	if d.onAttempt != nil {
		d.onAttempt(a)
	}
}

func (d *Dispatcher) post(ctx context.Context, ep Endpoint, kind, deliveryID string, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Id", d.id)
	req.Header.Set("X-Event", kind)
	req.Header.Set("X-Delivery-Id", deliveryID)
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Secret", ep.Secret)
		req.Header.Set("X-Webhook-Signature", "sha256="+Sign(ep.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseDrainSize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
