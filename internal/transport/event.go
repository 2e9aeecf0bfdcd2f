package transport

import (
	"fmt"

	"wa-gateway/go-backend/pkg/models"
)

// Event is the closed set of notifications a Conn emits.
type Event interface {
	transportEvent()
}

type ConnectionOpen struct {
	PhoneNumber string
	DisplayName string
}

type ConnectionClose struct {
	Code int
	Err  error
}

type CredentialUpdate struct {
	Credentials models.Credentials
}

type QRIssued struct {
	Payload string
}

type MessageReceived struct {
	Message models.Message
	Content Content
}

type PresenceUpdate struct {
	JID      string
	Presence string
}

func (ConnectionOpen) transportEvent()   {}
func (ConnectionClose) transportEvent()  {}
func (CredentialUpdate) transportEvent() {}
func (QRIssued) transportEvent()         {}
func (MessageReceived) transportEvent()  {}
func (PresenceUpdate) transportEvent()   {}

func (c ConnectionClose) LoggedOut() bool {
	return c.Code == CloseLoggedOut
}

func (c ConnectionClose) Error() string {
	if c.Err != nil {
		return fmt.Sprintf("connection closed (code %d): %v", c.Code, c.Err)
	}
	return fmt.Sprintf("connection closed (code %d)", c.Code)
}
