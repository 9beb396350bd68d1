// Package gateway is the operation facade over the instance registry,
// the credential store and the webhook relay. The HTTP layer calls into
// it and nothing else.
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"wabridge/internal/domain"
	"wabridge/internal/session"
	"wabridge/internal/store"
	"wabridge/internal/webhook"
)

// DefaultInstanceID is used by the single-session API surface, where no
// instance id travels with the request.
const DefaultInstanceID = "default"

const qrImageSize = 256

// InstanceStore is the persistence surface the gateway needs.
type InstanceStore interface {
	Upsert(ctx context.Context, inst store.Instance) error
	Get(ctx context.Context, id string) (*store.Instance, error)
	List(ctx context.Context) ([]store.Instance, error)
	BindDevice(ctx context.Context, id, deviceJID string) error
	Wipe(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Config assembles the facade's collaborators.
type Config struct {
	Store          InstanceStore
	Relay          *webhook.Relay
	Factory        domain.Factory
	Policy         session.Policy
	WelcomeEnabled bool
	WelcomeText    string
	Logger         *slog.Logger
}

type Gateway struct {
	store    InstanceStore
	relay    *webhook.Relay
	registry *session.Registry
	logger   *slog.Logger
}

func New(cfg Config) *Gateway {
	g := &Gateway{
		store:  cfg.Store,
		relay:  cfg.Relay,
		logger: cfg.Logger,
	}
	g.registry = session.NewRegistry(func(id, label string) *session.Session {
		return session.New(session.Config{
			ID:             id,
			Label:          label,
			Policy:         cfg.Policy,
			Factory:        cfg.Factory,
			Credentials:    cfg.Store,
			Relay:          cfg.Relay,
			Logger:         cfg.Logger,
			WelcomeEnabled: cfg.WelcomeEnabled,
			WelcomeText:    cfg.WelcomeText,
		})
	})
	return g
}

func orDefault(id string) string {
	if id == "" {
		return DefaultInstanceID
	}
	return id
}

// Connect starts (or reconnects) the session for id, registering the
// instance on first use.
func (g *Gateway) Connect(ctx context.Context, id string) error {
	id = orDefault(id)
	if _, err := g.store.Get(ctx, id); errors.Is(err, domain.ErrNotFound) {
		if err := g.store.Upsert(ctx, store.Instance{ID: id}); err != nil {
			return fmt.Errorf("cannot register instance %s: %w", id, err)
		}
	} else if err != nil {
		return err
	}

	inst, err := g.store.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = g.registry.Connect(ctx, id, inst.Label)
	return err
}

// Disconnect tears the session down; the only possible error is an
// unknown instance.
func (g *Gateway) Disconnect(ctx context.Context, id string) error {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return err
	}
	s.Disconnect(ctx)
	return nil
}

// ClearSession resets the session and wipes its stored credentials.
func (g *Gateway) ClearSession(ctx context.Context, id string) error {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return err
	}
	s.ClearSession(ctx)
	return nil
}

// Restart clears and reconnects from scratch.
func (g *Gateway) Restart(ctx context.Context, id string) error {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return err
	}
	return s.Restart(ctx)
}

// QR returns the pending pairing challenge rendered as a PNG data URL.
func (g *Gateway) QR(ctx context.Context, id string) (string, error) {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return "", err
	}
	code, err := s.QRChallenge()
	if err != nil {
		return "", err
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("cannot render QR image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Status reports the session's connection state.
func (g *Gateway) Status(id string) (domain.StatusSnapshot, error) {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return s.Status(), nil
}

// SendMessage sends a text message through the open session.
func (g *Gateway) SendMessage(ctx context.Context, id, to, text string) (*domain.SendEcho, error) {
	s, err := g.registry.Get(orDefault(id))
	if err != nil {
		return nil, err
	}
	return s.SendText(ctx, to, text)
}

// SetWebhook replaces the default delivery URL.
func (g *Gateway) SetWebhook(url string) {
	g.relay.SetURL(url)
	g.logger.Info("webhook URL updated", "url", url)
}

// SetInstanceWebhook pins a delivery URL for one instance.
func (g *Gateway) SetInstanceWebhook(id, url string) {
	g.relay.SetOverride(orDefault(id), url)
}

// CreateInstance registers a new instance without connecting it. An
// empty id gets a generated one.
func (g *Gateway) CreateInstance(ctx context.Context, id, label string) (domain.InstanceSummary, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s, err := g.registry.Add(id, label)
	if err != nil {
		return domain.InstanceSummary{}, err
	}
	if err := g.store.Upsert(ctx, store.Instance{ID: id, Label: label}); err != nil {
		// Unregister again so a retry does not hit a phantom instance.
		if rmErr := g.registry.Remove(ctx, id); rmErr != nil {
			g.logger.Warn("cannot roll back unpersisted instance", "instance", id, "error", rmErr)
		}
		return domain.InstanceSummary{}, fmt.Errorf("cannot persist instance %s: %w", id, err)
	}
	st := s.Status()
	return domain.InstanceSummary{
		ID:             id,
		Label:          label,
		State:          st.State,
		HasQRChallenge: st.HasQRChallenge,
	}, nil
}

// ListInstances returns a snapshot of all registered instances.
func (g *Gateway) ListInstances() []domain.InstanceSummary {
	return g.registry.Summaries()
}

// RemoveInstance disconnects the session, wipes its credentials and
// forgets the instance.
func (g *Gateway) RemoveInstance(ctx context.Context, id string) error {
	id = orDefault(id)
	if err := g.registry.Remove(ctx, id); err != nil {
		return err
	}
	if err := g.store.Wipe(ctx, id); err != nil {
		g.logger.Warn("cannot wipe removed instance credentials", "instance", id, "error", err)
	}
	if err := g.store.Delete(ctx, id); err != nil {
		g.logger.Warn("cannot delete instance row", "instance", id, "error", err)
	}
	g.relay.SetOverride(id, "")
	return nil
}

// Restore re-adopts persisted instances at startup and auto-connects the
// ones with a paired device. Individual failures are logged; startup
// continues.
func (g *Gateway) Restore(ctx context.Context) error {
	instances, err := g.store.List(ctx)
	if err != nil {
		return fmt.Errorf("cannot list persisted instances: %w", err)
	}
	for _, inst := range instances {
		s, err := g.registry.Add(inst.ID, inst.Label)
		if err != nil {
			g.logger.Warn("cannot re-adopt instance", "instance", inst.ID, "error", err)
			continue
		}
		if inst.DeviceJID == "" {
			continue
		}
		if err := s.Connect(ctx); err != nil {
			g.logger.Warn("cannot reconnect restored instance", "instance", inst.ID, "error", err)
		}
	}
	g.logger.Info("instances restored", "count", len(instances))
	return nil
}

// Close shuts every session down.
func (g *Gateway) Close(ctx context.Context) {
	g.registry.CloseAll(ctx)
}
