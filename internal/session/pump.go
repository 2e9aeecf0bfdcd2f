package session

import (
	"context"
	"fmt"
	"runtime/debug"

	"wa-gateway/go-backend/internal/authstore"
	"wa-gateway/go-backend/internal/events"
	"wa-gateway/go-backend/internal/transport"
	"wa-gateway/go-backend/pkg/models"
)

// pump drains one connection's events until the transport closes the channel.
func (o *Orchestrator) pump(id string, gen uint64, conn transport.Conn) {
	defer o.wg.Done()
	for ev := range conn.Events() {
		o.handle(id, gen, conn, ev)
	}
}

// handle processes a single event. A panic is contained to the event that
// caused it.
func (o *Orchestrator) handle(id string, gen uint64, conn transport.Conn, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.metrics.handlerPanics.Inc()
			o.logger.Error("session event handler panicked",
				"session_id", id,
				"event", fmt.Sprintf("%T", ev),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	switch ev := ev.(type) {
	case transport.QRIssued:
		o.onQR(id, gen, conn, ev)
	case transport.ConnectionOpen:
		o.onOpen(id, gen, conn, ev)
	case transport.ConnectionClose:
		o.onClose(id, gen, conn, ev)
	case transport.CredentialUpdate:
		o.onCredentials(id, gen, conn, ev)
	case transport.MessageReceived:
		o.publishIfCurrent(id, gen, conn, events.MessageUpserted{Session: id, Message: ev.Message, Content: ev.Content})
	case transport.PresenceUpdate:
		o.publishIfCurrent(id, gen, conn, events.PresenceUpdated{Session: id, JID: ev.JID, Presence: ev.Presence})
	default:
		o.logger.Warn("unhandled transport event", "session_id", id, "event", fmt.Sprintf("%T", ev))
	}
}

// currentLocked returns the entry only if conn is still its live connection.
func (o *Orchestrator) currentLocked(id string, gen uint64, conn transport.Conn) *entry {
	e, ok := o.sessions[id]
	if !ok || e.gen != gen || e.conn != conn {
		o.metrics.droppedEvents.Inc()
		return nil
	}
	return e
}

func (o *Orchestrator) onQR(id string, gen uint64, conn transport.Conn, ev transport.QRIssued) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.currentLocked(id, gen, conn)
	if e == nil {
		return
	}
	if o.transitionLocked(e, models.StatusQRReady, func(info *models.SessionInfo) {
		info.QR = ev.Payload
	}) {
		o.hub.Publish(events.QRUpdated{Session: id, QR: ev.Payload})
	}
}

func (o *Orchestrator) onOpen(id string, gen uint64, conn transport.Conn, ev transport.ConnectionOpen) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.currentLocked(id, gen, conn)
	if e == nil {
		return
	}
	now := o.clock.Now().UTC()
	if o.transitionLocked(e, models.StatusConnected, func(info *models.SessionInfo) {
		info.QR = ""
		info.PhoneNumber = ev.PhoneNumber
		info.DisplayName = ev.DisplayName
		info.ConnectedAt = &now
		info.LastError = ""
		info.ReconnectAttempts = 0
		info.ReconnectExhausted = false
	}) {
		o.logger.Info("session connected", "session_id", id, "phone_number", ev.PhoneNumber)
	}
}

func (o *Orchestrator) onClose(id string, gen uint64, conn transport.Conn, ev transport.ConnectionClose) {
	o.applyClose(id, gen, conn, ev)()
}

// applyClose updates state under the lock and returns the cleanup that must
// run after it is released.
func (o *Orchestrator) applyClose(id string, gen uint64, conn transport.Conn, ev transport.ConnectionClose) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.currentLocked(id, gen, conn)
	if e == nil {
		return func() {}
	}
	clearCreds := false
	if ev.LoggedOut() {
		if o.transitionLocked(e, models.StatusLoggedOut, func(info *models.SessionInfo) {
			info.QR = ""
			info.LastError = ErrLoggedOut.Error()
		}) {
			e.conn = nil
			clearCreds = o.cfg.ClearCredentialsOnLogout
			o.logger.Info("session logged out", "session_id", id)
		}
	} else {
		o.disconnectLocked(e, ev)
	}
	released := e.conn != conn
	return func() {
		if released {
			_ = conn.Close()
		}
		if clearCreds {
			o.clearCredentials(id)
		}
	}
}

func (o *Orchestrator) onCredentials(id string, gen uint64, conn transport.Conn, ev transport.CredentialUpdate) {
	o.mu.Lock()
	current := o.currentLocked(id, gen, conn) != nil
	o.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.SaveTimeout)
	defer cancel()
	if err := o.store.Save(ctx, id, ev.Credentials); err != nil {
		o.metrics.saveFailures.Inc()
		o.logger.Warn("credential save failed", "session_id", id, "error", err.Error())
		o.hub.Publish(events.CredentialsSaveFailed{Session: id, Error: err.Error()})
	}
}

func (o *Orchestrator) publishIfCurrent(id string, gen uint64, conn transport.Conn, ev events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentLocked(id, gen, conn) == nil {
		return
	}
	o.hub.Publish(ev)
}

func (o *Orchestrator) clearCredentials(id string) {
	deleter, ok := o.store.(authstore.Deleter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.SaveTimeout)
	defer cancel()
	if err := deleter.Delete(ctx, id); err != nil {
		o.logger.Warn("credential cleanup failed", "session_id", id, "error", err.Error())
	}
}
