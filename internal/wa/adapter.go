// Package wa adapts the whatsmeow client to the gateway's transport
// contract. Each Transport wraps exactly one client and one connection
// attempt; reconnecting always goes through the Factory so stale socket
// state never leaks across attempts.
package wa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wabridge/internal/domain"
	"wabridge/internal/store"
)

// FactoryConfig carries the connection-profile knobs the adapter cares
// about.
type FactoryConfig struct {
	DeviceName string
	MarkOnline bool
}

// Factory builds one fresh Transport per connection attempt, bound to
// the instance's stored device credentials (or a brand-new device when
// none are paired yet).
type Factory struct {
	store  *store.Store
	cfg    FactoryConfig
	logger *slog.Logger
	waLog  waLog.Logger
}

func NewFactory(st *store.Store, cfg FactoryConfig, logger *slog.Logger) *Factory {
	if cfg.DeviceName != "" {
		wastore.DeviceProps.Os = proto.String(cfg.DeviceName)
	}
	return &Factory{
		store:  st,
		cfg:    cfg,
		logger: logger,
		waLog:  Logger(logger.With("component", "whatsmeow")),
	}
}

func (f *Factory) NewTransport(ctx context.Context, instanceID string) (domain.Transport, error) {
	device, err := f.store.Device(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("cannot load device for instance %s: %w", instanceID, err)
	}

	client := whatsmeow.NewClient(device, f.waLog.Sub("client"))
	// The session state machine owns the reconnect policy.
	client.EnableAutoReconnect = false

	return &Transport{
		client:     client,
		markOnline: f.cfg.MarkOnline,
		logger:     f.logger.With("instance", instanceID),
		events:     make(chan domain.Event, 64),
	}, nil
}

// Transport is one live whatsmeow connection. It translates the client's
// event callbacks into the closed domain event set and closes its event
// channel exactly once, after the terminal event.
type Transport struct {
	client     *whatsmeow.Client
	markOnline bool
	logger     *slog.Logger
	handlerID  uint32

	mu     sync.Mutex
	closed bool
	events chan domain.Event
}

var _ domain.Transport = (*Transport)(nil)
var _ domain.MediaFetcher = (*Transport)(nil)

func (t *Transport) Connect(ctx context.Context) error {
	t.handlerID = t.client.AddEventHandler(t.handleEvent)

	// A QR channel only exists for unpaired devices and must be claimed
	// before the dial. Pairing can outlive the dial deadline, so the
	// channel is not tied to the connect context.
	if t.client.Store.ID == nil {
		qrChan, err := t.client.GetQRChannel(context.Background())
		if err != nil {
			t.logger.Warn("cannot open QR channel", "error", err)
		} else {
			go t.pumpQR(qrChan)
		}
	}

	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	return nil
}

func (t *Transport) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if item.Event == "code" {
			t.emit(domain.PairingCode{Code: item.Code})
		}
	}
}

func (t *Transport) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		if t.markOnline {
			go func() {
				if err := t.client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
					t.logger.Warn("cannot mark presence available", "error", err)
				}
			}()
		}
		t.emit(domain.Opened{SelfAddress: t.SelfAddress()})

	case *events.Message:
		t.emit(domain.MessageReceived{Message: decodeMessage(e)})

	case *events.LoggedOut:
		t.terminate(domain.Closed{
			Reason: domain.CloseLoggedOut,
			Err:    fmt.Errorf("logged out: %v", e.Reason),
		})

	case *events.ConnectFailure:
		t.terminate(domain.Closed{
			Reason: domain.CloseTransientFailure,
			Err:    fmt.Errorf("connect failure: %v", e.Reason),
		})

	case *events.StreamError:
		t.terminate(domain.Closed{
			Reason: domain.CloseOther,
			Err:    fmt.Errorf("stream error: %s", e.Code),
		})

	case *events.Disconnected:
		t.terminate(domain.Closed{Reason: domain.CloseOther})
	}
}

func (t *Transport) emit(ev domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("transport event buffer full, dropping event")
	}
}

// finishStream marks the transport closed, delivers the terminal event
// and closes the stream. Unlike ordinary events the terminal one is
// never dropped: the session derives its reconnect decision from it, so
// the send blocks until the pump drains the buffer. Returns false when
// the stream was already closed.
func (t *Transport) finishStream(closed domain.Closed) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	t.mu.Unlock()

	t.events <- closed
	close(t.events)
	return true
}

// terminate ends the stream with the given close event and tears the
// socket down. Subsequent terminal events are ignored.
func (t *Transport) terminate(closed domain.Closed) {
	if !t.finishStream(closed) {
		return
	}
	t.client.RemoveEventHandler(t.handlerID)
	t.client.Disconnect()
}

// Close releases the connection without a terminal event. Used when the
// session retires this transport deliberately.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	t.client.RemoveEventHandler(t.handlerID)
	t.client.Disconnect()
}

// Logout unpairs the device server-side and releases the connection. The
// connection is released even when the logout itself fails.
func (t *Transport) Logout(ctx context.Context) error {
	err := t.client.Logout(ctx)
	t.Close()
	return err
}

func (t *Transport) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", to, err)
	}
	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (t *Transport) SelfAddress() string {
	id := t.client.Store.ID
	if id == nil {
		return ""
	}
	return id.ToNonAD().String()
}

func (t *Transport) Events() <-chan domain.Event {
	return t.events
}

// FetchMedia downloads the encrypted attachment referenced by a received
// message.
func (t *Transport) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	msg, ok := ref.(*waE2E.Message)
	if !ok || msg == nil {
		return nil, fmt.Errorf("no downloadable media reference")
	}
	return t.client.DownloadAny(ctx, msg)
}
