package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"wa-gateway/go-backend/internal/authstore"
	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/platform/logging"
	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/pkg/models"
)

type fakeConn struct {
	sessionID  string
	creds      *models.Credentials
	connectErr error
	onConnect  func(*fakeConn)

	mu     sync.Mutex
	events chan transport.Event
	closed bool
	sent   []string
}

func (c *fakeConn) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.onConnect != nil {
		c.onConnect(c)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeConn) Events() <-chan transport.Event {
	return c.events
}

func (c *fakeConn) SendMessage(_ context.Context, recipient string, content transport.Content) (transport.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, recipient+":"+transport.TextOf(content))
	return transport.SendResult{MessageID: "m1", Recipient: recipient}, nil
}

func (c *fakeConn) emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu         sync.Mutex
	dialErr    error
	connectErr error
	onConnect  func(*fakeConn)
	conns      []*fakeConn
	dialed     chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(sessionID string, creds *models.Credentials) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeConn{
		sessionID:  sessionID,
		creds:      creds,
		connectErr: d.connectErr,
		onConnect:  d.onConnect,
		events:     make(chan transport.Event, 32),
	}
	d.conns = append(d.conns, conn)
	d.dialed <- conn
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type failingStore struct {
	loadErr   error
	saveErr   error
	savePanic bool
}

func (s *failingStore) Load(context.Context, string) (models.Credentials, error) {
	if s.loadErr != nil {
		return models.Credentials{}, s.loadErr
	}
	return models.Credentials{}, authstore.ErrNotFound
}

func (s *failingStore) Save(context.Context, string, models.Credentials) error {
	if s.savePanic {
		panic("store exploded")
	}
	return s.saveErr
}

var errBoom = errors.New("boom")

func testPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 4, BaseDelay: time.Second, BackoffMultiplier: 2}
}

func newTestOrchestrator(t *testing.T, dialer transport.Dialer, store authstore.Store) (*Orchestrator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg := Config{AutoReconnect: true, Reconnect: testPolicy(), ClearCredentialsOnLogout: true}
	o, err := New(cfg, dialer, store, WithClock(mock), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o, mock
}

func subscribe(t *testing.T, o *Orchestrator) <-chan events.Envelope {
	t.Helper()
	_, ch, cancel := o.Hub().Subscribe(-1)
	t.Cleanup(cancel)
	return ch
}

func waitForEvent(t *testing.T, ch <-chan events.Envelope, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			if match(env.Event) {
				return env.Event
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func statusIs(id string, status models.SessionStatus) func(events.Event) bool {
	return func(ev events.Event) bool {
		changed, ok := ev.(events.StatusChanged)
		return ok && changed.Session == id && changed.To == status
	}
}

func kindIs(id string, kind events.Kind) func(events.Event) bool {
	return func(ev events.Event) bool {
		return ev.SessionID() == id && ev.Kind() == kind
	}
}
