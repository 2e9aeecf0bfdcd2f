package models

import (
	"time"
)

type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusQRReady      SessionStatus = "qr_ready"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusLoggedOut    SessionStatus = "logged_out"
)

// SessionInfo is a point-in-time copy of one session's state.
type SessionInfo struct {
	ID                 string        `json:"id"`
	Status             SessionStatus `json:"status"`
	QR                 string        `json:"qr,omitempty"`
	PhoneNumber        string        `json:"phone_number,omitempty"`
	DisplayName        string        `json:"display_name,omitempty"`
	ConnectedAt        *time.Time    `json:"connected_at,omitempty"`
	LastError          string        `json:"last_error,omitempty"`
	ReconnectAttempts  int           `json:"reconnect_attempts"`
	ReconnectExhausted bool          `json:"reconnect_exhausted,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Credentials is the opaque pairing state owned by the transport.
type Credentials struct {
	Me        string    `json:"me,omitempty"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromMe    bool      `json:"from_me"`
	PushName  string    `json:"push_name,omitempty"`
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
