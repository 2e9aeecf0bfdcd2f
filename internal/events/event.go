// Package events is the typed channel the session orchestrator publishes on.
package events

import (
	"encoding/json"
	"time"

	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/pkg/models"
)

type Kind string

const (
	KindConnectionUpdate   Kind = "connection.update"
	KindQRUpdated          Kind = "qr.updated"
	KindMessagesUpsert     Kind = "messages.upsert"
	KindPresenceUpdate     Kind = "presence.update"
	KindSessionDestroyed   Kind = "session.destroyed"
	KindReconnectScheduled Kind = "session.reconnect_scheduled"
	KindReconnectExhausted Kind = "session.reconnect_exhausted"
	KindCredentialsFailed  Kind = "credentials.save_failed"
)

// AllKinds lists every kind in publication order of the table above.
func AllKinds() []Kind {
	return []Kind{
		KindConnectionUpdate,
		KindQRUpdated,
		KindMessagesUpsert,
		KindPresenceUpdate,
		KindSessionDestroyed,
		KindReconnectScheduled,
		KindReconnectExhausted,
		KindCredentialsFailed,
	}
}

func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Event is closed to this package; switch on the concrete type to handle it.
type Event interface {
	Kind() Kind
	SessionID() string
	event()
}

type StatusChanged struct {
	Session string               `json:"session_id"`
	From    models.SessionStatus `json:"from"`
	To      models.SessionStatus `json:"to"`
	Info    models.SessionInfo   `json:"info"`
}

type QRUpdated struct {
	Session string `json:"session_id"`
	QR      string `json:"qr"`
}

type MessageUpserted struct {
	Session string            `json:"session_id"`
	Message models.Message    `json:"message"`
	Content transport.Content `json:"-"`
}

type messageUpsertedJSON struct {
	Session string          `json:"session_id"`
	Message models.Message  `json:"message"`
	Content json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON encodes Content with its variant tag so receivers get media,
// location and reaction fields, not only the message text.
func (e MessageUpserted) MarshalJSON() ([]byte, error) {
	out := messageUpsertedJSON{Session: e.Session, Message: e.Message}
	if e.Content != nil {
		raw, err := transport.MarshalContent(e.Content)
		if err != nil {
			return nil, err
		}
		out.Content = raw
	}
	return json.Marshal(out)
}

func (e *MessageUpserted) UnmarshalJSON(data []byte) error {
	var in messageUpsertedJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = MessageUpserted{Session: in.Session, Message: in.Message}
	if len(in.Content) > 0 && string(in.Content) != "null" {
		c, err := transport.UnmarshalContent(in.Content)
		if err != nil {
			return err
		}
		e.Content = c
	}
	return nil
}

type PresenceUpdated struct {
	Session  string `json:"session_id"`
	JID      string `json:"jid"`
	Presence string `json:"presence"`
}

type ReconnectScheduled struct {
	Session string        `json:"session_id"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay_ns"`
}

type ReconnectExhausted struct {
	Session  string `json:"session_id"`
	Attempts int    `json:"attempts"`
}

type SessionDestroyed struct {
	Session string `json:"session_id"`
}

type CredentialsSaveFailed struct {
	Session string `json:"session_id"`
	Error   string `json:"error"`
}

func (StatusChanged) Kind() Kind         { return KindConnectionUpdate }
func (QRUpdated) Kind() Kind             { return KindQRUpdated }
func (MessageUpserted) Kind() Kind       { return KindMessagesUpsert }
func (PresenceUpdated) Kind() Kind       { return KindPresenceUpdate }
func (ReconnectScheduled) Kind() Kind    { return KindReconnectScheduled }
func (ReconnectExhausted) Kind() Kind    { return KindReconnectExhausted }
func (SessionDestroyed) Kind() Kind      { return KindSessionDestroyed }
func (CredentialsSaveFailed) Kind() Kind { return KindCredentialsFailed }

func (e StatusChanged) SessionID() string         { return e.Session }
func (e QRUpdated) SessionID() string             { return e.Session }
func (e MessageUpserted) SessionID() string       { return e.Session }
func (e PresenceUpdated) SessionID() string       { return e.Session }
func (e ReconnectScheduled) SessionID() string    { return e.Session }
func (e ReconnectExhausted) SessionID() string    { return e.Session }
func (e SessionDestroyed) SessionID() string      { return e.Session }
func (e CredentialsSaveFailed) SessionID() string { return e.Session }

func (StatusChanged) event()         {}
func (QRUpdated) event()             {}
func (MessageUpserted) event()       {}
func (PresenceUpdated) event()       {}
func (ReconnectScheduled) event()    {}
func (ReconnectExhausted) event()    {}
func (SessionDestroyed) event()      {}
func (CredentialsSaveFailed) event() {}
