package memtransport

import (
	"sync"

	"wa-gateway/go-backend/internal/transport"
)

// bus routes messages between connections that share a Network. Messages for
// recipients without an open connection wait in a per-JID mailbox.
type bus struct {
	mu      sync.Mutex
	online  map[string]*Conn
	mailbox map[string][]transport.MessageReceived
}

func newBus() *bus {
	return &bus{
		online:  make(map[string]*Conn),
		mailbox: make(map[string][]transport.MessageReceived),
	}
}

func (b *bus) publish(recipient string, msg transport.MessageReceived) {
	b.mu.Lock()
	conn, ok := b.online[recipient]
	if !ok {
		b.mailbox[recipient] = append(b.mailbox[recipient], msg)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	go conn.emit(msg)
}

func (b *bus) attach(jid string, conn *Conn) []transport.MessageReceived {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online[jid] = conn
	pending := b.mailbox[jid]
	delete(b.mailbox, jid)
	return pending
}

func (b *bus) detach(jid string, conn *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.online[jid]; ok && current == conn {
		delete(b.online, jid)
	}
}

func (b *bus) pending(jid string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mailbox[jid])
}
