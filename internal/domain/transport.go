package domain

import "context"

// CloseReason classifies why a transport connection ended. The session
// state machine keys its reconnect policy off this value alone.
type CloseReason string

const (
	// CloseLoggedOut means the account was unpaired remotely. Credentials
	// are gone for good and reconnecting would loop on a dead session.
	CloseLoggedOut CloseReason = "logged_out"
	// CloseTransientFailure means the provider rejected the connection in
	// a way that usually indicates stale credentials.
	CloseTransientFailure CloseReason = "transient_failure"
	// CloseOther covers ordinary stream drops and network errors.
	CloseOther CloseReason = "other"
)

// Event is one of PairingCode, Opened, Closed or MessageReceived.
type Event interface {
	transportEvent()
}

// PairingCode carries a fresh QR challenge string. Emitted zero or more
// times while the transport is waiting for the account to pair.
type PairingCode struct {
	Code string
}

// Opened signals an established, authenticated connection.
type Opened struct {
	SelfAddress string
}

// Closed signals that the connection ended and the transport will emit
// no further events.
type Closed struct {
	Reason CloseReason
	Err    error
}

// MessageReceived carries one decoded inbound message.
type MessageReceived struct {
	Message RawMessage
}

func (PairingCode) transportEvent()     {}
func (Opened) transportEvent()          {}
func (Closed) transportEvent()          {}
func (MessageReceived) transportEvent() {}

// Transport is one connection attempt to the messaging provider. A
// Transport is single-use: after Close or a Closed event it is dead and
// a new one must be built through the Factory.
type Transport interface {
	// Connect starts the connection. Events begin flowing on Events()
	// once Connect returns nil.
	Connect(ctx context.Context) error
	// Close tears the connection down without touching credentials and
	// closes the Events channel.
	Close()
	// Logout unpairs the device server-side, then closes the connection.
	Logout(ctx context.Context) error
	// SendText delivers a text message to the given address.
	SendText(ctx context.Context, to, text string) error
	// SelfAddress returns the account's own address, empty until Opened.
	SelfAddress() string
	// Events yields the transport's event stream. The channel is closed
	// after the terminal Closed event.
	Events() <-chan Event
}

// MediaFetcher retrieves attachment bytes for a received message.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, ref MediaRef) ([]byte, error)
}

// Factory builds a fresh Transport for an instance. Called once per
// connection attempt so reconnects never reuse a dead client.
type Factory interface {
	NewTransport(ctx context.Context, instanceID string) (Transport, error)
}
