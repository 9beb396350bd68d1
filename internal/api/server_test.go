package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wabridge/internal/domain"
)

// fakeGateway records the last call and returns scripted results.
type fakeGateway struct {
	lastOp string
	lastID string
	err    error

	status domain.StatusSnapshot
	qr     string
	echo   *domain.SendEcho

	webhookURL  string
	instanceURL map[string]string
	created     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		status:      domain.StatusSnapshot{State: domain.StateDisconnected},
		instanceURL: make(map[string]string),
	}
}

func (f *fakeGateway) record(op, id string) {
	f.lastOp = op
	f.lastID = id
}

func (f *fakeGateway) Connect(ctx context.Context, id string) error {
	f.record("connect", id)
	return f.err
}

func (f *fakeGateway) Disconnect(ctx context.Context, id string) error {
	f.record("disconnect", id)
	return f.err
}

func (f *fakeGateway) ClearSession(ctx context.Context, id string) error {
	f.record("clear-session", id)
	return f.err
}

func (f *fakeGateway) Restart(ctx context.Context, id string) error {
	f.record("restart", id)
	return f.err
}

func (f *fakeGateway) QR(ctx context.Context, id string) (string, error) {
	f.record("qr", id)
	return f.qr, f.err
}

func (f *fakeGateway) Status(id string) (domain.StatusSnapshot, error) {
	if f.err != nil {
		return domain.StatusSnapshot{}, f.err
	}
	return f.status, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, id, to, text string) (*domain.SendEcho, error) {
	f.record("send", id)
	if f.err != nil {
		return nil, f.err
	}
	if f.echo != nil {
		return f.echo, nil
	}
	return &domain.SendEcho{To: to, Content: text, Timestamp: time.Now().Unix()}, nil
}

func (f *fakeGateway) SetWebhook(url string) { f.webhookURL = url }

func (f *fakeGateway) SetInstanceWebhook(id, url string) { f.instanceURL[id] = url }

func (f *fakeGateway) CreateInstance(ctx context.Context, id, label string) (domain.InstanceSummary, error) {
	if f.err != nil {
		return domain.InstanceSummary{}, f.err
	}
	if id == "" {
		id = "generated-id"
	}
	f.created = append(f.created, id)
	return domain.InstanceSummary{ID: id, Label: label, State: domain.StateDisconnected}, nil
}

func (f *fakeGateway) ListInstances() []domain.InstanceSummary {
	out := make([]domain.InstanceSummary, 0, len(f.created))
	for _, id := range f.created {
		out = append(out, domain.InstanceSummary{ID: id})
	}
	return out
}

func (f *fakeGateway) RemoveInstance(ctx context.Context, id string) error {
	f.record("remove", id)
	return f.err
}

func newTestServer(gw Gateway) http.Handler {
	return NewServer(ServerConfig{Gateway: gw, Logger: slog.Default()}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_SingleSessionUsesDefaultInstance(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	cases := []struct {
		method, path, wantOp string
	}{
		{"POST", "/api/whatsapp/connect", "connect"},
		{"POST", "/api/whatsapp/disconnect", "disconnect"},
		{"POST", "/api/whatsapp/clear-session", "clear-session"},
		{"POST", "/api/whatsapp/restart", "restart"},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s %s: status %d, body %s", tc.method, tc.path, rec.Code, rec.Body)
		}
		if gw.lastOp != tc.wantOp || gw.lastID != "" {
			t.Errorf("%s %s: delegated to %q(%q)", tc.method, tc.path, gw.lastOp, gw.lastID)
		}
	}
}

func TestRoutes_InstanceIDFromPath(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	rec := do(t, h, "POST", "/api/instances/abc/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if gw.lastOp != "connect" || gw.lastID != "abc" {
		t.Fatalf("delegated to %q(%q)", gw.lastOp, gw.lastID)
	}

	rec = do(t, h, "DELETE", "/api/instances/abc", "")
	if rec.Code != http.StatusOK || gw.lastOp != "remove" || gw.lastID != "abc" {
		t.Fatalf("delete: status %d, op %q(%q)", rec.Code, gw.lastOp, gw.lastID)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"qr not available", domain.ErrQRNotAvailable, http.StatusNotFound},
		{"already exists", domain.ErrAlreadyExists, http.StatusConflict},
		{"not connected", domain.ErrNotConnected, http.StatusBadRequest},
		{"send failed", &domain.SendError{To: "x", Err: errors.New("boom")}, http.StatusBadGateway},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.err = tc.err
			h := newTestServer(gw)

			rec := do(t, h, "POST", "/api/whatsapp/send-message", `{"to":"123","text":"hi"}`)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected an error envelope, got %s", rec.Body)
			}
		})
	}
}

func TestSendMessage_Validation(t *testing.T) {
	h := newTestServer(newFakeGateway())

	for name, body := range map[string]string{
		"missing to":   `{"text":"hi"}`,
		"missing text": `{"to":"123"}`,
		"bad json":     `{`,
	} {
		rec := do(t, h, "POST", "/api/whatsapp/send-message", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, rec.Code)
		}
	}
}

func TestSendMessage_Echo(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	rec := do(t, h, "POST", "/api/whatsapp/send-message", `{"to":"5511999","text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var echo domain.SendEcho
	if err := json.Unmarshal(rec.Body.Bytes(), &echo); err != nil {
		t.Fatal(err)
	}
	if echo.To != "5511999" || echo.Content != "hello" {
		t.Fatalf("unexpected echo: %+v", echo)
	}
}

func TestQR_ReturnsDataURL(t *testing.T) {
	gw := newFakeGateway()
	gw.qr = "data:image/png;base64,AAAA"
	h := newTestServer(gw)

	rec := do(t, h, "GET", "/api/whatsapp/qr", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !strings.HasPrefix(body["qrcode"], "data:image/png;base64,") {
		t.Fatalf("unexpected qr payload: %q", body["qrcode"])
	}
}

func TestSetWebhook(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	rec := do(t, h, "POST", "/api/whatsapp/webhook", `{"url":"https://hooks.example/in"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if gw.webhookURL != "https://hooks.example/in" {
		t.Fatalf("webhook not applied: %q", gw.webhookURL)
	}

	rec = do(t, h, "POST", "/api/whatsapp/webhook", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty url should be rejected, got %d", rec.Code)
	}
}

func TestInstanceWebhookOverride(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	rec := do(t, h, "POST", "/api/instances/worker/webhook", `{"url":"https://hooks.example/worker"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if gw.instanceURL["worker"] != "https://hooks.example/worker" {
		t.Fatalf("override not applied: %v", gw.instanceURL)
	}
}

func TestCreateAndListInstances(t *testing.T) {
	gw := newFakeGateway()
	h := newTestServer(gw)

	rec := do(t, h, "POST", "/api/instances", `{"label":"support line"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var sum domain.InstanceSummary
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.ID != "generated-id" || sum.Label != "support line" {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	rec = do(t, h, "GET", "/api/instances", "")
	var list []domain.InstanceSummary
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ID != "generated-id" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(newFakeGateway())

	rec := do(t, h, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

type panicGateway struct{ *fakeGateway }

func (p panicGateway) Connect(ctx context.Context, id string) error { panic("wires crossed") }

func TestPanicRecovery(t *testing.T) {
	h := newTestServer(panicGateway{newFakeGateway()})

	rec := do(t, h, "POST", "/api/whatsapp/connect", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}

	// The handler chain stays usable after a panic.
	rec = do(t, h, "GET", "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("server unusable after panic: %d", rec.Code)
	}
}
