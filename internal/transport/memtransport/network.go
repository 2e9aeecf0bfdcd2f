// Package memtransport is an in-process transport. Sessions dialed from the
// same Network can message each other; pairing is simulated with a QR code
// followed by an automatic credential update.
package memtransport

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wa-gateway/go-backend/internal/platform/ids"
	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/pkg/models"
)

var ErrNotOpen = errors.New("memtransport: connection is not open")

// Options tunes the simulated handshake. PairDelay is the time between the QR
// code and the simulated scan; zero leaves the session waiting on the QR code.
type Options struct {
	ConnectDelay time.Duration `yaml:"connectDelay"`
	PairDelay    time.Duration `yaml:"pairDelay"`
	EventBuffer  int           `yaml:"eventBuffer"`
}

func DefaultOptions() Options {
	return Options{
		ConnectDelay: 50 * time.Millisecond,
		PairDelay:    2 * time.Second,
		EventBuffer:  64,
	}
}

type Network struct {
	opts  Options
	bus   *bus
	dials atomic.Int64
}

func NewNetwork(opts Options) *Network {
	def := DefaultOptions()
	if opts.ConnectDelay < 0 {
		opts.ConnectDelay = 0
	}
	if opts.PairDelay < 0 {
		opts.PairDelay = 0
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	return &Network{opts: opts, bus: newBus()}
}

func (n *Network) Dial(sessionID string, creds *models.Credentials) (transport.Conn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("memtransport: session id is required")
	}
	n.dials.Add(1)
	var copied *models.Credentials
	if creds != nil {
		c := *creds
		copied = &c
	}
	return &Conn{
		network:   n,
		sessionID: sessionID,
		creds:     copied,
		events:    make(chan transport.Event, n.opts.EventBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Dials reports how many connections the network has built.
func (n *Network) Dials() int64 {
	return n.dials.Load()
}

// PendingFor reports how many messages wait for an offline recipient.
func (n *Network) PendingFor(recipient string) int {
	return n.bus.pending(models.NormalizeRecipient(recipient))
}

// PhoneNumberFor derives the stable phone number a session pairs as.
func PhoneNumberFor(sessionID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return fmt.Sprintf("1555%07d", h.Sum32()%10_000_000)
}

type Conn struct {
	network   *Network
	sessionID string

	mu     sync.RWMutex
	creds  *models.Credentials
	jid    string
	open   bool
	closed bool
	timers []*time.Timer

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
	qrSeq     int
}

func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

func (c *Conn) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotOpen
	}
	paired := c.creds != nil
	c.mu.Unlock()

	if !paired {
		c.issueQR()
		if c.network.opts.PairDelay > 0 {
			c.schedule(c.network.opts.PairDelay, c.pair)
		}
		return nil
	}
	c.schedule(c.network.opts.ConnectDelay, c.markOpen)
	return nil
}

// ScanQR completes pairing immediately, as if the QR code had been scanned.
func (c *Conn) ScanQR() {
	c.pair()
}

// Drop simulates a server side close with the given code.
func (c *Conn) Drop(code int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	jid := c.jid
	c.open = false
	c.mu.Unlock()
	if jid != "" {
		c.network.bus.detach(jid, c)
	}
	c.emit(transport.ConnectionClose{Code: code})
	_ = c.Close()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.open = false
		for _, t := range c.timers {
			t.Stop()
		}
		c.timers = nil
		jid := c.jid
		close(c.events)
		c.mu.Unlock()
		if jid != "" {
			c.network.bus.detach(jid, c)
		}
	})
	return nil
}

func (c *Conn) SendMessage(ctx context.Context, recipient string, content transport.Content) (transport.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.SendResult{}, err
	}
	if err := transport.Validate(content); err != nil {
		return transport.SendResult{}, err
	}
	to := models.NormalizeRecipient(recipient)
	if to == "" {
		return transport.SendResult{}, errors.New("memtransport: recipient is required")
	}
	c.mu.RLock()
	open := c.open
	from := c.jid
	c.mu.RUnlock()
	if !open {
		return transport.SendResult{}, ErrNotOpen
	}
	id, err := ids.GeneratePrefixedID("3EB0")
	if err != nil {
		return transport.SendResult{}, err
	}
	now := time.Now().UTC()
	c.network.bus.publish(to, transport.MessageReceived{
		Message: models.Message{
			ID:        id,
			From:      from,
			To:        to,
			Type:      transport.TypeOf(content),
			Text:      transport.TextOf(content),
			Timestamp: now,
		},
		Content: content,
	})
	return transport.SendResult{MessageID: id, Recipient: to, Timestamp: now}, nil
}

func (c *Conn) issueQR() {
	c.mu.Lock()
	c.qrSeq++
	payload := fmt.Sprintf("mem:%s:%d", c.sessionID, c.qrSeq)
	c.mu.Unlock()
	c.emit(transport.QRIssued{Payload: payload})
}

func (c *Conn) pair() {
	c.mu.Lock()
	if c.closed || c.creds != nil {
		c.mu.Unlock()
		return
	}
	phone := PhoneNumberFor(c.sessionID)
	c.creds = &models.Credentials{
		Me:        phone + "@" + models.UserServer,
		Payload:   []byte("paired:" + c.sessionID),
		UpdatedAt: time.Now().UTC(),
	}
	creds := *c.creds
	c.mu.Unlock()
	c.emit(transport.CredentialUpdate{Credentials: creds})
	c.markOpen()
}

func (c *Conn) markOpen() {
	c.mu.Lock()
	if c.closed || c.open || c.creds == nil {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.jid = models.NormalizeRecipient(c.creds.Me)
	jid := c.jid
	c.mu.Unlock()

	pending := c.network.bus.attach(jid, c)
	phone, _, _ := strings.Cut(jid, "@")
	c.emit(transport.ConnectionOpen{PhoneNumber: phone, DisplayName: c.sessionID})
	for _, msg := range pending {
		c.emit(msg)
	}
}

func (c *Conn) schedule(delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timers = append(c.timers, time.AfterFunc(delay, fn))
}

// emit never blocks past Close.
func (c *Conn) emit(ev transport.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
