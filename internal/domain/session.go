package domain

// ConnectionState is the externally observable lifecycle state of a
// session.
type ConnectionState string

const (
	// StateDisconnected is the resting state: no transport, no pending
	// reconnect.
	StateDisconnected ConnectionState = "disconnected"
	// StateConnecting means a transport is dialing or waiting to pair.
	StateConnecting ConnectionState = "connecting"
	// StateOpen means the session is authenticated and usable.
	StateOpen ConnectionState = "open"
	// StateClosed means the connection dropped and a reconnect may be
	// pending.
	StateClosed ConnectionState = "closed"
)

// StatusSnapshot is a point-in-time view of a session.
type StatusSnapshot struct {
	State          ConnectionState `json:"connectionState"`
	HasQRChallenge bool            `json:"hasQrChallenge"`
}

// InstanceSummary describes one registered instance.
type InstanceSummary struct {
	ID             string          `json:"id"`
	Label          string          `json:"label,omitempty"`
	State          ConnectionState `json:"connectionState"`
	HasQRChallenge bool            `json:"hasQrChallenge"`
}

// SendEcho is returned to the caller after a successful send.
type SendEcho struct {
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}
