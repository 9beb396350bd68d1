// Package session owns the connection lifecycle of one messaging
// account: connect, pairing, reconnect policy, teardown, and the ordered
// hand-off of inbound messages to the webhook relay.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/normalize"
)

// CredentialStore is the slice of the persistence layer the session
// needs: device binding on open, credential wipe on reset.
type CredentialStore interface {
	BindDevice(ctx context.Context, id, deviceJID string) error
	Wipe(ctx context.Context, id string) error
}

// Deliverer forwards a normalized message to the webhook consumer.
type Deliverer interface {
	Deliver(ctx context.Context, instanceID string, msg *domain.CanonicalMessage) error
}

// Config assembles a session's collaborators.
type Config struct {
	ID             string
	Label          string
	Policy         Policy
	Factory        domain.Factory
	Credentials    CredentialStore
	Relay          Deliverer
	Logger         *slog.Logger
	WelcomeEnabled bool
	WelcomeText    string
}

// inbound pairs a raw message with the fetcher that can materialize its
// media. The fetcher is captured at receipt time because the transport
// may be retired before the relay worker gets to the message.
type inbound struct {
	raw     domain.RawMessage
	fetcher domain.MediaFetcher
}

const relayQueueSize = 64

// mediaFetchTimeout is the hard deadline on materializing one message's
// attachment. A hung download is abandoned so it cannot stall the relay
// worker behind it.
const mediaFetchTimeout = 10 * time.Second

// Session is the state machine for one account. All transitions happen
// under mu; the event pump and the relay worker are the only goroutines
// the session owns.
type Session struct {
	id      string
	label   string
	policy  Policy
	factory domain.Factory
	creds   CredentialStore
	relay   Deliverer
	logger  *slog.Logger

	welcomeEnabled bool
	welcomeText    string

	mu             sync.Mutex
	state          domain.ConnectionState
	qr             string
	transport      domain.Transport
	gen            uint64 // bumped whenever the current transport is retired
	welcomeSent    bool
	reconnectTimer *time.Timer
	closed         bool

	relayCh   chan inbound
	relayOnce sync.Once
	relayDone chan struct{}
}

func New(cfg Config) *Session {
	s := &Session{
		id:             cfg.ID,
		label:          cfg.Label,
		policy:         cfg.Policy,
		factory:        cfg.Factory,
		creds:          cfg.Credentials,
		relay:          cfg.Relay,
		logger:         cfg.Logger.With("instance", cfg.ID),
		welcomeEnabled: cfg.WelcomeEnabled,
		welcomeText:    cfg.WelcomeText,
		state:          domain.StateDisconnected,
		relayCh:        make(chan inbound, relayQueueSize),
		relayDone:      make(chan struct{}),
	}
	go s.relayLoop()
	return s
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Label() string { return s.label }

// Status returns a point-in-time snapshot; safe for concurrent use.
func (s *Session) Status() domain.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StatusSnapshot{
		State:          s.state,
		HasQRChallenge: s.qr != "",
	}
}

// QRChallenge returns the pending pairing challenge.
func (s *Session) QRChallenge() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qr == "" {
		return "", domain.ErrQRNotAvailable
	}
	return s.qr, nil
}

// Connect retires any current transport and dials a fresh one. The
// session moves to connecting before the dial so concurrent status reads
// never see a half-installed transport.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	s.cancelReconnectLocked()
	old := s.transport
	s.transport = nil
	s.gen++
	gen := s.gen
	s.state = domain.StateConnecting
	s.qr = ""
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	dialCtx := ctx
	if s.policy.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.policy.ConnectTimeout)
		defer cancel()
	}

	t, err := s.factory.NewTransport(dialCtx, s.id)
	if err != nil {
		s.failConnect(gen)
		return err
	}
	if err := t.Connect(dialCtx); err != nil {
		t.Close()
		s.failConnect(gen)
		return err
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		t.Close()
		return nil
	}
	s.transport = t
	s.mu.Unlock()

	s.logger.Info("session connecting", "profile", s.policy.Name)
	go s.pump(t, gen)
	return nil
}

func (s *Session) failConnect(gen uint64) {
	s.mu.Lock()
	if gen == s.gen {
		s.state = domain.StateDisconnected
	}
	s.mu.Unlock()
}

// Disconnect tears the session down deliberately. It attempts a graceful
// logout when the connection is open, swallows every failure, and always
// leaves the session in the disconnected state. Any pending reconnect is
// cancelled.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	s.cancelReconnectLocked()
	t := s.transport
	s.transport = nil
	s.gen++
	wasOpen := s.state == domain.StateOpen
	s.state = domain.StateDisconnected
	s.qr = ""
	s.welcomeSent = false
	s.mu.Unlock()

	if t == nil {
		return
	}
	if wasOpen {
		if err := t.Logout(ctx); err != nil {
			s.logger.Warn("graceful logout failed", "error", err)
			t.Close()
		}
	} else {
		t.Close()
	}
	s.logger.Info("session disconnected")
}

// ClearSession resets the session unconditionally and wipes the stored
// credentials. Wipe failures are logged, never surfaced.
func (s *Session) ClearSession(ctx context.Context) {
	s.mu.Lock()
	s.cancelReconnectLocked()
	t := s.transport
	s.transport = nil
	s.gen++
	s.state = domain.StateDisconnected
	s.qr = ""
	s.welcomeSent = false
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if err := s.creds.Wipe(ctx, s.id); err != nil {
		s.logger.Warn("credential wipe failed", "error", err)
	}
	s.logger.Info("session cleared")
}

// Restart clears the session, waits briefly so the provider releases the
// old connection, and connects from scratch.
func (s *Session) Restart(ctx context.Context) error {
	s.ClearSession(ctx)
	select {
	case <-time.After(restartPause):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Connect(ctx)
}

// SendText sends a text message on the open connection.
func (s *Session) SendText(ctx context.Context, to, text string) (*domain.SendEcho, error) {
	s.mu.Lock()
	t := s.transport
	open := s.state == domain.StateOpen
	s.mu.Unlock()

	if !open || t == nil {
		return nil, domain.ErrNotConnected
	}

	if s.policy.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.QueryTimeout)
		defer cancel()
	}

	addr := domain.NormalizeSendAddress(to)
	if err := t.SendText(ctx, addr, text); err != nil {
		return nil, &domain.SendError{To: addr, Err: err}
	}
	return &domain.SendEcho{
		To:        addr,
		Content:   text,
		Timestamp: time.Now().Unix(),
	}, nil
}

// Close releases the session for good: disconnect plus relay worker
// shutdown. Used when the instance is removed from the registry.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Disconnect(ctx)
	s.relayOnce.Do(func() { close(s.relayCh) })
	<-s.relayDone
}

// pump consumes the event stream of one transport until it closes. Every
// state mutation is gated on the generation so a retired transport can
// never touch the session again.
func (s *Session) pump(t domain.Transport, gen uint64) {
	for ev := range t.Events() {
		switch e := ev.(type) {
		case domain.PairingCode:
			s.mu.Lock()
			if gen == s.gen {
				s.qr = e.Code
			}
			s.mu.Unlock()
			s.logger.Info("pairing challenge received")

		case domain.Opened:
			s.handleOpened(t, gen, e.SelfAddress)

		case domain.MessageReceived:
			s.enqueue(t, gen, e.Message)

		case domain.Closed:
			s.handleClosed(gen, e)
		}
	}
}

func (s *Session) handleOpened(t domain.Transport, gen uint64, selfAddr string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateOpen
	s.qr = ""
	sendWelcome := s.welcomeEnabled && !s.welcomeSent
	s.welcomeSent = true
	s.mu.Unlock()

	s.logger.Info("session open", "self", selfAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.creds.BindDevice(ctx, s.id, selfAddr); err != nil {
		s.logger.Warn("cannot persist device binding", "error", err)
	}

	if sendWelcome {
		go s.sendWelcome(t, selfAddr)
	}
}

// sendWelcome greets the account's own chat once per establishment.
// Failure is logged and never retried.
func (s *Session) sendWelcome(t domain.Transport, selfAddr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := t.SendText(ctx, selfAddr, s.welcomeText); err != nil {
		s.logger.Warn("welcome message failed", "error", err)
	}
}

func (s *Session) enqueue(t domain.Transport, gen uint64, raw domain.RawMessage) {
	s.mu.Lock()
	stale := gen != s.gen
	closed := s.closed
	s.mu.Unlock()
	if stale || closed {
		return
	}

	fetcher, _ := t.(domain.MediaFetcher)
	select {
	case s.relayCh <- inbound{raw: raw, fetcher: fetcher}:
	default:
		s.logger.Warn("relay queue full, dropping message", "message", raw.ID)
	}
}

func (s *Session) handleClosed(gen uint64, e domain.Closed) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.gen++
	s.qr = ""
	s.welcomeSent = false

	switch e.Reason {
	case domain.CloseLoggedOut:
		s.state = domain.StateDisconnected
		s.mu.Unlock()
		s.logger.Info("logged out remotely, staying disconnected", "error", e.Err)

	case domain.CloseTransientFailure:
		s.state = domain.StateClosed
		s.mu.Unlock()
		s.logger.Warn("connection failure, wiping credentials before reconnect", "error", e.Err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.creds.Wipe(ctx, s.id)
		cancel()
		delay := wipeReconnectDelay
		if err != nil {
			s.logger.Warn("credential wipe failed", "error", err)
			delay = wipeFailReconnectDelay
		}
		s.scheduleReconnect(delay)

	default:
		s.state = domain.StateClosed
		s.mu.Unlock()
		s.logger.Info("connection closed, reconnecting", "reason", e.Reason, "delay", s.policy.ReconnectDelay, "error", e.Err)
		s.scheduleReconnect(s.policy.ReconnectDelay)
	}
}

func (s *Session) scheduleReconnect(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelReconnectLocked()
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		if err := s.Connect(context.Background()); err != nil {
			s.logger.Warn("scheduled reconnect failed", "error", err)
		}
	})
}

// cancelReconnectLocked stops a pending reconnect. Callers hold mu.
func (s *Session) cancelReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) hasPendingReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectTimer != nil
}

// relayLoop is the single worker that normalizes and delivers inbound
// messages in arrival order. One worker per session keeps per-session
// ordering without coupling sessions to each other.
func (s *Session) relayLoop() {
	defer close(s.relayDone)
	for item := range s.relayCh {
		ctx, cancel := context.WithTimeout(context.Background(), mediaFetchTimeout)
		msg, ok := normalize.Normalize(ctx, item.raw, item.fetcher, time.Now())
		cancel()
		if !ok {
			continue
		}
		msg.InstanceID = s.id
		// Deliver logs its own failures; nothing to do here.
		_ = s.relay.Deliver(context.Background(), s.id, msg)
	}
}
