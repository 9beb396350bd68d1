// Package webhook delivers canonical messages to a consumer endpoint.
// Delivery is best effort: one attempt, bounded by a timeout, no queue.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wabridge/internal/domain"
)

// EventMessageReceived is the envelope event name for inbound messages.
const EventMessageReceived = "message.received"

// Envelope is the wire format posted to the webhook consumer.
type Envelope struct {
	Event string                   `json:"event"`
	Data  *domain.CanonicalMessage `json:"data"`
}

// Relay posts messages to a configured URL. The default URL can change
// at runtime and individual instances may override it.
type Relay struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	url       string
	overrides map[string]string
}

func NewRelay(defaultURL string, timeout time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		client:    &http.Client{},
		timeout:   timeout,
		logger:    logger,
		url:       defaultURL,
		overrides: make(map[string]string),
	}
}

// SetURL replaces the default delivery URL for the rest of the process
// lifetime.
func (r *Relay) SetURL(url string) {
	r.mu.Lock()
	r.url = url
	r.mu.Unlock()
}

// SetOverride pins a delivery URL for one instance. An empty URL removes
// the override.
func (r *Relay) SetOverride(instanceID, url string) {
	r.mu.Lock()
	if url == "" {
		delete(r.overrides, instanceID)
	} else {
		r.overrides[instanceID] = url
	}
	r.mu.Unlock()
}

func (r *Relay) urlFor(instanceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.overrides[instanceID]; ok {
		return u
	}
	return r.url
}

// Deliver posts one message. No configured URL is a logged no-op, not an
// error. Failures (transport errors, non-2xx) are logged and swallowed;
// the message is never retried.
func (r *Relay) Deliver(ctx context.Context, instanceID string, msg *domain.CanonicalMessage) error {
	url := r.urlFor(instanceID)
	if url == "" {
		r.logger.Debug("webhook delivery skipped, no URL configured", "instance", instanceID, "message", msg.ID)
		return nil
	}

	body, err := json.Marshal(Envelope{Event: EventMessageReceived, Data: msg})
	if err != nil {
		return fmt.Errorf("cannot encode webhook envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("webhook delivery failed", "instance", instanceID, "message", msg.ID, "url", url, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Warn("webhook consumer rejected message",
			"instance", instanceID, "message", msg.ID, "status", resp.StatusCode, "body", string(snippet))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	r.logger.Debug("webhook delivered", "instance", instanceID, "message", msg.ID)
	return nil
}
