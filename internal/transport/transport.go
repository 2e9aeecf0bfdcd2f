// Package transport defines the contract the session core consumes from the
// protocol transport. The handshake, encryption and binary codec live behind it.
package transport

import (
	"context"
	"time"

	"wa-gateway/go-backend/pkg/models"
)

// Close codes reported by ConnectionClose.
const (
	CloseUnknown            = 0
	CloseBootFailure        = 1
	CloseConnectionLost     = 408
	CloseLoggedOut          = 401
	CloseConnectionClosed   = 428
	CloseConnectionReplaced = 440
	CloseBadSession         = 500
	CloseRestartRequired    = 515
)

// Dialer builds a fresh connection for one boot of a session. creds is nil
// when the session has never been paired.
type Dialer interface {
	Dial(sessionID string, creds *models.Credentials) (Conn, error)
}

type DialerFunc func(sessionID string, creds *models.Credentials) (Conn, error)

func (f DialerFunc) Dial(sessionID string, creds *models.Credentials) (Conn, error) {
	return f(sessionID, creds)
}

// Conn is a single transport connection. Events is closed once the
// connection has been closed and no further events will be produced.
type Conn interface {
	Connect(ctx context.Context) error
	Close() error
	Events() <-chan Event
	SendMessage(ctx context.Context, recipient string, content Content) (SendResult, error)
}

type SendResult struct {
	MessageID string
	Recipient string
	Timestamp time.Time
}
