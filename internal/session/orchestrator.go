// Package session owns the lifecycle of transport-backed sessions: boot,
// pairing, reconnect with backoff and credential persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"wa-gateway/go-backend/internal/authstore"
	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/pkg/models"
)

const exhaustedMessage = "reconnect attempts exhausted"

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		o.reg = reg
	}
}

// WithHub publishes onto an existing hub instead of a private one.
func WithHub(h *events.Hub) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.hub = h
		}
	}
}

type entry struct {
	info models.SessionInfo
	conn transport.Conn
	// gen identifies the boot that owns conn. Events and timers carrying an
	// older generation are ignored.
	gen uint64
}

func (e *entry) snapshot() models.SessionInfo {
	info := e.info
	if info.ConnectedAt != nil {
		at := *info.ConnectedAt
		info.ConnectedAt = &at
	}
	return info
}

type Orchestrator struct {
	cfg     Config
	dialer  transport.Dialer
	store   authstore.Store
	hub     *events.Hub
	clock   clock.Clock
	logger  *slog.Logger
	reg     prometheus.Registerer
	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*entry
	timers   map[string]*clock.Timer
	nextGen  uint64
	closed   bool
}

func New(cfg Config, dialer transport.Dialer, store authstore.Store, opts ...Option) (*Orchestrator, error) {
	if dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if store == nil {
		return nil, errors.New("session: auth store is required")
	}
	cfg = normalizeConfig(cfg)
	o := &Orchestrator{
		cfg:      cfg,
		dialer:   dialer,
		store:    store,
		clock:    clock.New(),
		logger:   logging.DefaultLogger(),
		sessions: make(map[string]*entry),
		timers:   make(map[string]*clock.Timer),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.hub == nil {
		o.hub = events.NewHub(cfg.HistoryLimit)
	}
	m, err := newMetrics(o.reg)
	if err != nil {
		return nil, fmt.Errorf("register session metrics: %w", err)
	}
	o.metrics = m
	o.logger = o.logger.With("component", "session")
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

func (o *Orchestrator) Hub() *events.Hub {
	return o.hub
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

func (o *Orchestrator) CreateSession(ctx context.Context, id string) (models.SessionInfo, error) {
	if !authstore.ValidSessionID(id) {
		return models.SessionInfo{}, ErrInvalidSessionID
	}
	now := o.clock.Now().UTC()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return models.SessionInfo{}, ErrOrchestratorStopped
	}
	if _, exists := o.sessions[id]; exists {
		o.mu.Unlock()
		return models.SessionInfo{}, ErrDuplicateSession
	}
	e := &entry{
		info: models.SessionInfo{
			ID:        id,
			Status:    models.StatusInitializing,
			CreatedAt: now,
			UpdatedAt: now,
		},
		gen: o.bumpGenLocked(),
	}
	o.sessions[id] = e
	o.metrics.sessions.Inc()
	snapshot := e.snapshot()
	gen := e.gen
	o.mu.Unlock()

	if err := o.boot(ctx, id, gen); err != nil {
		o.mu.Lock()
		if cur, ok := o.sessions[id]; ok && cur == e {
			o.removeLocked(id)
		}
		o.mu.Unlock()
		o.logger.Warn("session boot failed", "session_id", id, "error", err.Error())
		return models.SessionInfo{}, err
	}
	o.logger.Info("session created", "session_id", id)
	return snapshot, nil
}

// boot loads credentials, dials and connects one transport for id. The
// connection is attached only while the session still carries gen.
func (o *Orchestrator) boot(ctx context.Context, id string, gen uint64) error {
	var creds *models.Credentials
	loaded, err := o.store.Load(ctx, id)
	switch {
	case err == nil:
		creds = &loaded
	case errors.Is(err, authstore.ErrNotFound):
	default:
		return fmt.Errorf("%w: %w", ErrAuthLoadFailure, err)
	}

	conn, err := o.dialer.Dial(id, creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}

	o.mu.Lock()
	e, ok := o.sessions[id]
	if o.closed || !ok || e.gen != gen {
		o.mu.Unlock()
		_ = conn.Close()
		return ErrSessionNotFound
	}
	e.conn = conn
	o.wg.Add(1)
	o.mu.Unlock()
	go o.pump(id, gen, conn)

	if err := conn.Connect(ctx); err != nil {
		o.mu.Lock()
		if e, ok := o.sessions[id]; ok && e.conn == conn {
			e.conn = nil
		}
		o.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: %w", ErrConnectFailure, err)
	}
	return nil
}

func (o *Orchestrator) DestroySession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	o.removeLocked(id)
	conn := e.conn
	e.conn = nil
	o.hub.Publish(events.SessionDestroyed{Session: id})
	o.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			o.logger.Warn("transport close failed", "session_id", id, "error", err.Error())
		}
	}
	o.logger.Info("session destroyed", "session_id", id)
	return nil
}

func (o *Orchestrator) GetInfo(id string) (models.SessionInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.sessions[id]
	if !ok {
		return models.SessionInfo{}, ErrSessionNotFound
	}
	return e.snapshot(), nil
}

func (o *Orchestrator) ListSessions() []models.SessionInfo {
	o.mu.Lock()
	out := make([]models.SessionInfo, 0, len(o.sessions))
	for _, e := range o.sessions {
		out = append(out, e.snapshot())
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WaitForConnected blocks until id is connected. A non-positive timeout
// waits until ctx is done.
func (o *Orchestrator) WaitForConnected(ctx context.Context, id string, timeout time.Duration) (models.SessionInfo, error) {
	_, ch, cancel := o.hub.Subscribe(-1)
	defer func() { cancel() }()

	info, err := o.GetInfo(id)
	if err != nil {
		return models.SessionInfo{}, err
	}
	if done, err := settled(info); done {
		return info, err
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := o.clock.Timer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return models.SessionInfo{}, ctx.Err()
		case <-timeoutC:
			return models.SessionInfo{}, ErrTimeout
		case env, ok := <-ch:
			if !ok {
				// Dropped as a slow subscriber: resubscribe, then re-read state so
				// nothing published in between is missed.
				_, ch, cancel = o.hub.Subscribe(-1)
				info, err := o.GetInfo(id)
				if err != nil {
					return models.SessionInfo{}, err
				}
				if done, err := settled(info); done {
					return info, err
				}
				continue
			}
			if env.Event.SessionID() != id {
				continue
			}
			switch ev := env.Event.(type) {
			case events.StatusChanged:
				if done, err := settled(ev.Info); done {
					return ev.Info, err
				}
			case events.ReconnectExhausted:
				info, _ := o.GetInfo(id)
				return info, ErrReconnectExhausted
			case events.SessionDestroyed:
				return models.SessionInfo{}, ErrSessionNotFound
			}
		}
	}
}

func settled(info models.SessionInfo) (bool, error) {
	switch {
	case info.Status == models.StatusConnected:
		return true, nil
	case info.Status == models.StatusLoggedOut:
		return true, ErrLoggedOut
	case info.ReconnectExhausted:
		return true, ErrReconnectExhausted
	}
	return false, nil
}

// Send delivers content through the live transport of a connected session.
func (o *Orchestrator) Send(ctx context.Context, id, recipient string, content transport.Content) (transport.SendResult, error) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return transport.SendResult{}, ErrSessionNotFound
	}
	if e.info.Status != models.StatusConnected || e.conn == nil {
		status := e.info.Status
		o.mu.Unlock()
		return transport.SendResult{}, fmt.Errorf("%w: status %s", ErrSessionNotConnected, status)
	}
	conn := e.conn
	o.mu.Unlock()
	return conn.SendMessage(ctx, recipient, content)
}

// Close stops every reconnect timer and transport, then waits for event
// pumps and in-flight reconnects to finish.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for id := range o.timers {
		o.stopTimerLocked(id)
	}
	conns := make([]transport.Conn, 0, len(o.sessions))
	for _, e := range o.sessions {
		if e.conn != nil {
			conns = append(conns, e.conn)
			e.conn = nil
		}
	}
	o.mu.Unlock()

	o.cancel()
	for _, conn := range conns {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) bumpGenLocked() uint64 {
	o.nextGen++
	return o.nextGen
}

func (o *Orchestrator) removeLocked(id string) {
	if _, ok := o.sessions[id]; !ok {
		return
	}
	delete(o.sessions, id)
	o.stopTimerLocked(id)
	o.metrics.sessions.Dec()
}

func (o *Orchestrator) stopTimerLocked(id string) {
	if t, ok := o.timers[id]; ok {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) scheduleLocked(id string, gen uint64, delay time.Duration) {
	o.stopTimerLocked(id)
	o.timers[id] = o.clock.AfterFunc(delay, func() {
		o.reconnect(id, gen)
	})
}

// reconnect is the timer callback. It re-boots id only if the session is
// still the one that scheduled it.
func (o *Orchestrator) reconnect(id string, gen uint64) {
	o.mu.Lock()
	e, ok := o.sessions[id]
	if o.closed || !ok || e.gen != gen || e.info.Status != models.StatusDisconnected {
		o.mu.Unlock()
		return
	}
	delete(o.timers, id)
	if !o.transitionLocked(e, models.StatusInitializing, nil) {
		o.mu.Unlock()
		return
	}
	e.gen = o.bumpGenLocked()
	next := e.gen
	attempt := e.info.ReconnectAttempts
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	o.logger.Info("session reconnecting", "session_id", id, "attempt", attempt)
	if err := o.boot(o.ctx, id, next); err != nil {
		o.bootFailed(id, next, err)
	}
}

func (o *Orchestrator) bootFailed(id string, gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.sessions[id]
	if o.closed || !ok || e.gen != gen {
		return
	}
	o.logger.Warn("session reboot failed", "session_id", id, "error", err.Error())
	o.disconnectLocked(e, transport.ConnectionClose{Code: transport.CloseBootFailure, Err: err})
}

// transitionLocked moves e to status to, applying fn to the info before the
// change is published. Illegal transitions are logged and ignored.
func (o *Orchestrator) transitionLocked(e *entry, to models.SessionStatus, fn func(*models.SessionInfo)) bool {
	from := e.info.Status
	if !CanTransition(from, to) {
		o.logger.Warn("invalid session transition ignored", "session_id", e.info.ID, "from", string(from), "to", string(to))
		return false
	}
	e.info.Status = to
	e.info.UpdatedAt = o.clock.Now().UTC()
	if fn != nil {
		fn(&e.info)
	}
	o.metrics.transitions.WithLabelValues(string(to)).Inc()
	if from != to {
		o.logger.Debug("session status changed", "session_id", e.info.ID, "from", string(from), "to", string(to))
	}
	o.hub.Publish(events.StatusChanged{Session: e.info.ID, From: from, To: to, Info: e.snapshot()})
	return true
}

// disconnectLocked handles a non-logout close: moves e to disconnected and
// either schedules the next boot or marks reconnects exhausted.
func (o *Orchestrator) disconnectLocked(e *entry, closeEv transport.ConnectionClose) bool {
	id := e.info.ID
	decision := decideReconnect(o.cfg.Reconnect, o.cfg.AutoReconnect, e.info.ReconnectAttempts, closeEv.Code)
	ok := o.transitionLocked(e, models.StatusDisconnected, func(info *models.SessionInfo) {
		info.QR = ""
		info.LastError = closeEv.Error()
		switch decision.Action {
		case actionRetry:
			info.ReconnectAttempts = decision.Attempt
		case actionExhausted:
			info.ReconnectExhausted = true
			info.LastError = exhaustedMessage
		}
	})
	if !ok {
		return false
	}
	e.conn = nil

	switch decision.Action {
	case actionRetry:
		o.scheduleLocked(id, e.gen, decision.Delay)
		o.metrics.reconnects.Inc()
		o.logger.Info("session reconnect scheduled", "session_id", id, "attempt", decision.Attempt, "delay", decision.Delay.String(), "code", closeEv.Code)
		o.hub.Publish(events.ReconnectScheduled{Session: id, Attempt: decision.Attempt, Delay: decision.Delay})
	case actionExhausted:
		o.metrics.exhausted.Inc()
		o.logger.Warn("session reconnect attempts exhausted", "session_id", id, "attempts", e.info.ReconnectAttempts)
		o.hub.Publish(events.ReconnectExhausted{Session: id, Attempts: e.info.ReconnectAttempts})
	case actionDisabled:
		o.logger.Info("session disconnected, auto reconnect disabled", "session_id", id, "code", closeEv.Code)
	}
	return true
}
