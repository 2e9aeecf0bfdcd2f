// Package gateway is the composition root: it builds the credential store,
// session orchestrator, per-session outbound queues and webhook dispatcher
// from one config and exposes the control-plane operations over them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/authstore"
	"wa-gateway/go-backend/internal/config"
	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/ratequeue"
	"wa-gateway/go-backend/internal/session"
	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/internal/webhook"
	"wa-gateway/go-backend/pkg/models"
)

var ErrGatewayClosed = errors.New("gateway: closed")

type Option func(*Gateway)

// WithStore replaces the store derived from the auth config.
func WithStore(s authstore.Store) Option {
	return func(g *Gateway) {
		if s != nil {
			g.store = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) {
		g.registerer = reg
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

type sessionQueue struct {
	queue  *ratequeue.Queue
	cancel context.CancelFunc
	done   chan struct{}
}

type Gateway struct {
	cfg        config.Config
	logger     *slog.Logger
	clock      clock.Clock
	registerer prometheus.Registerer
	httpClient *http.Client
	store      authstore.Store

	metrics      *metrics
	queueMetrics *ratequeue.Metrics
	orch         *session.Orchestrator
	dispatcher   *webhook.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lifecycle serializes create/destroy so a session and its queue
	// appear and disappear together.
	lifecycle sync.Mutex

	mu     sync.Mutex
	queues map[string]*sessionQueue
	closed bool
}

// New wires a gateway over dialer. Webhook endpoints from cfg are registered
// immediately; sessions are only started by CreateSession or RestoreSessions.
func New(cfg config.Config, dialer transport.Dialer, opts ...Option) (*Gateway, error) {
	if dialer == nil {
		return nil, errors.New("gateway: dialer is required")
	}
	g := &Gateway{
		cfg:    cfg,
		logger: logging.DefaultLogger(),
		clock:  clock.New(),
		queues: make(map[string]*sessionQueue),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = newStore(cfg.Auth)
	}

	var err error
	if g.metrics, err = newMetrics(g.registerer); err != nil {
		return nil, fmt.Errorf("gateway metrics: %w", err)
	}
	if g.queueMetrics, err = ratequeue.NewMetrics(g.registerer); err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}
	g.orch, err = session.New(cfg.Session, dialer, g.store,
		session.WithClock(g.clock),
		session.WithLogger(g.logger),
		session.WithRegisterer(g.registerer),
	)
	if err != nil {
		return nil, err
	}
	dispatcherOpts := []webhook.Option{
		webhook.WithLogger(g.logger),
		webhook.WithRegisterer(g.registerer),
	}
	if g.httpClient != nil {
		dispatcherOpts = append(dispatcherOpts, webhook.WithHTTPClient(g.httpClient))
	}
	if g.dispatcher, err = webhook.New(dispatcherOpts...); err != nil {
		_ = g.orch.Close(context.Background())
		return nil, err
	}
	for _, ep := range cfg.Webhooks {
		if _, err := g.AddEndpoint(ep); err != nil {
			_ = g.orch.Close(context.Background())
			_ = g.dispatcher.Close(context.Background())
			return nil, fmt.Errorf("webhook %q: %w", ep.ID, err)
		}
	}

	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.dispatcher.Forward(g.ctx, g.orch.Hub())
	}()
	g.logInfo("gateway.start", g.dispatcher.InstanceID(), "gateway ready",
		"endpoints", len(g.dispatcher.Endpoints()),
		"encrypted_store", isEncrypted(g.store),
	)
	return g, nil
}

func newStore(cfg config.AuthConfig) authstore.Store {
	switch {
	case cfg.Dir == "":
		return authstore.NewMemoryStore()
	case cfg.Passphrase != "":
		return authstore.NewEncryptedFileStore(cfg.Dir, cfg.Passphrase)
	default:
		return authstore.NewFileStore(cfg.Dir)
	}
}

func isEncrypted(s authstore.Store) bool {
	fs, ok := s.(*authstore.FileStore)
	return ok && fs.Encrypted()
}

// Hub is the stream of normalized session events.
func (g *Gateway) Hub() *events.Hub {
	return g.orch.Hub()
}

func (g *Gateway) CreateSession(ctx context.Context, id string) (models.SessionInfo, error) {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if g.isClosed() {
		return models.SessionInfo{}, ErrGatewayClosed
	}
	info, err := g.orch.CreateSession(ctx, id)
	if err != nil {
		category := categorySession
		if errors.Is(err, session.ErrAuthLoadFailure) {
			category = categoryAuth
		}
		g.recordErrorWithContext(category, err, "session.create", id)
		return models.SessionInfo{}, err
	}
	g.startQueue(id)
	g.logInfo("session.create", id, "session created", "status", string(info.Status))
	return info, nil
}

func (g *Gateway) DestroySession(ctx context.Context, id string) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if err := g.orch.DestroySession(ctx, id); err != nil {
		return err
	}
	if err := g.stopQueue(ctx, id); err != nil {
		g.recordErrorWithContext(categoryQueue, err, "session.destroy", id)
	}
	g.logInfo("session.destroy", id, "session destroyed")
	return nil
}

func (g *Gateway) GetInfo(id string) (models.SessionInfo, error) {
	return g.orch.GetInfo(id)
}

func (g *Gateway) ListSessions() []models.SessionInfo {
	return g.orch.ListSessions()
}

func (g *Gateway) WaitForConnected(ctx context.Context, id string, timeout time.Duration) (models.SessionInfo, error) {
	return g.orch.WaitForConnected(ctx, id, timeout)
}

// RestoreSessions starts every configured session plus every session with
// stored credentials. Sessions that already exist are skipped.
func (g *Gateway) RestoreSessions(ctx context.Context) ([]models.SessionInfo, error) {
	seen := make(map[string]struct{})
	candidates := make([]string, 0, len(g.cfg.Sessions))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}
	for _, id := range g.cfg.Sessions {
		add(id)
	}
	if lister, ok := g.store.(authstore.Lister); ok {
		stored, err := lister.List(ctx)
		if err != nil {
			g.recordErrorWithContext(categoryAuth, err, "session.restore", "")
			return nil, fmt.Errorf("list stored sessions: %w", err)
		}
		for _, id := range stored {
			add(id)
		}
	}

	var (
		started []models.SessionInfo
		errs    []error
	)
	for _, id := range candidates {
		if _, err := g.orch.GetInfo(id); err == nil {
			continue
		}
		info, err := g.CreateSession(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		started = append(started, info)
	}
	g.logInfo("session.restore", "", "sessions restored", "started", len(started), "failed", len(errs))
	return started, errors.Join(errs...)
}

// Close stops the queues, the orchestrator and the webhook forwarder, then
// waits for in-flight deliveries until ctx ends.
func (g *Gateway) Close(ctx context.Context) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	ids := make([]string, 0, len(g.queues))
	for id := range g.queues {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := g.stopQueue(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.orch.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	g.cancel()
	g.wg.Wait()
	if err := g.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	g.logInfo("gateway.stop", g.dispatcher.InstanceID(), "gateway stopped")
	return errors.Join(errs...)
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
