package models

import "strings"

const (
	UserServer  = "s.whatsapp.net"
	GroupServer = "g.us"
)

// NormalizeRecipient maps a phone number or JID onto the canonical JID form used
// as recipient key. Group and already-qualified JIDs are returned trimmed.
func NormalizeRecipient(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.Contains(trimmed, "@") {
		user, server, _ := strings.Cut(trimmed, "@")
		// Device suffixes (user:12@server) address the same recipient.
		if idx := strings.IndexByte(user, ':'); idx >= 0 {
			user = user[:idx]
		}
		return strings.ToLower(user) + "@" + strings.ToLower(server)
	}
	var b strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "@" + UserServer
}

func IsGroupJID(jid string) bool {
	return strings.HasSuffix(strings.TrimSpace(jid), "@"+GroupServer)
}
