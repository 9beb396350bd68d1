package domain

import "strings"

// UserServer is the canonical server part of a user address.
const UserServer = "s.whatsapp.net"

const lidServer = "lid"

// NormalizeSendAddress appends the canonical user suffix to bare phone
// numbers so callers may pass either form.
func NormalizeSendAddress(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return to + "@" + UserServer
}

// CanonicalSender picks the effective sender of a raw message: the group
// participant, rewritten onto the canonical server when it carries a
// hidden-user address, otherwise the raw chat address unchanged.
func CanonicalSender(m RawMessage) string {
	if m.Participant != "" {
		return rewriteLID(m.Participant)
	}
	return m.Chat
}

func rewriteLID(addr string) string {
	user, server, ok := strings.Cut(addr, "@")
	if ok && server == lidServer {
		return user + "@" + UserServer
	}
	return addr
}
