// Package api exposes the gateway operations over HTTP. Handlers are
// thin: decode, delegate, map typed errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/domain"
)

const maxBodySize = 1 << 20 // 1MB

// Gateway is the operation surface the HTTP layer delegates to.
type Gateway interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	ClearSession(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	QR(ctx context.Context, id string) (string, error)
	Status(id string) (domain.StatusSnapshot, error)
	SendMessage(ctx context.Context, id, to, text string) (*domain.SendEcho, error)
	SetWebhook(url string)
	SetInstanceWebhook(id, url string)
	CreateInstance(ctx context.Context, id, label string) (domain.InstanceSummary, error)
	ListInstances() []domain.InstanceSummary
	RemoveInstance(ctx context.Context, id string) error
}

type Server struct {
	host    string
	port    int
	gw      Gateway
	logger  *slog.Logger
	version string
	server  *http.Server
}

type ServerConfig struct {
	Host    string
	Port    int
	Gateway Gateway
	Logger  *slog.Logger
	Version string
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		gw:      cfg.Gateway,
		logger:  cfg.Logger,
		version: cfg.Version,
	}
}

// Handler builds the route table. Exposed separately so tests can drive
// it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Single-session surface, fixed default instance.
	mux.HandleFunc("POST /api/whatsapp/connect", s.handleConnect(""))
	mux.HandleFunc("POST /api/whatsapp/disconnect", s.handleDisconnect(""))
	mux.HandleFunc("POST /api/whatsapp/clear-session", s.handleClearSession(""))
	mux.HandleFunc("POST /api/whatsapp/restart", s.handleRestart(""))
	mux.HandleFunc("POST /api/whatsapp/send-message", s.handleSend(""))
	mux.HandleFunc("POST /api/whatsapp/webhook", s.handleSetWebhook)
	mux.HandleFunc("GET /api/whatsapp/qr", s.handleQR(""))
	mux.HandleFunc("GET /api/whatsapp/status", s.handleStatus(""))

	// Multi-session surface, explicit instance id on every route.
	mux.HandleFunc("POST /api/instances", s.handleCreateInstance)
	mux.HandleFunc("GET /api/instances", s.handleListInstances)
	mux.HandleFunc("POST /api/instances/{id}/connect", s.byID(s.handleConnect))
	mux.HandleFunc("POST /api/instances/{id}/disconnect", s.byID(s.handleDisconnect))
	mux.HandleFunc("POST /api/instances/{id}/restart", s.byID(s.handleRestart))
	mux.HandleFunc("POST /api/instances/{id}/send-message", s.byID(s.handleSend))
	mux.HandleFunc("POST /api/instances/{id}/webhook", s.handleSetInstanceWebhook)
	mux.HandleFunc("GET /api/instances/{id}/qr", s.byID(s.handleQR))
	mux.HandleFunc("GET /api/instances/{id}/status", s.byID(s.handleStatus))
	mux.HandleFunc("DELETE /api/instances/{id}", s.handleRemoveInstance)

	mux.HandleFunc("GET /api/status", s.handleHealth)

	return s.recoverPanics(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info("API listening", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// recoverPanics keeps a handler panic from taking the process down.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(rw, http.StatusInternalServerError, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

// byID adapts a fixed-instance handler factory to the {id} path value.
func (s *Server) byID(h func(id string) http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		h(r.PathValue("id"))(rw, r)
	}
}

func (s *Server) handleConnect(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.gw.Connect(r.Context(), id); err != nil {
			s.fail(rw, r, err)
			return
		}
		st, err := s.gw.Status(id)
		if err != nil {
			s.fail(rw, r, err)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}
}

func (s *Server) handleDisconnect(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.gw.Disconnect(r.Context(), id); err != nil {
			s.fail(rw, r, err)
			return
		}
		st, _ := s.gw.Status(id)
		writeJSON(rw, http.StatusOK, st)
	}
}

func (s *Server) handleClearSession(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.gw.ClearSession(r.Context(), id); err != nil {
			s.fail(rw, r, err)
			return
		}
		st, _ := s.gw.Status(id)
		writeJSON(rw, http.StatusOK, st)
	}
}

func (s *Server) handleRestart(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.gw.Restart(r.Context(), id); err != nil {
			s.fail(rw, r, err)
			return
		}
		st, _ := s.gw.Status(id)
		writeJSON(rw, http.StatusOK, st)
	}
}

func (s *Server) handleQR(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		dataURL, err := s.gw.QR(r.Context(), id)
		if err != nil {
			s.fail(rw, r, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"qrcode": dataURL})
	}
}

func (s *Server) handleStatus(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		st, err := s.gw.Status(id)
		if err != nil {
			s.fail(rw, r, err)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}
}

func (s *Server) handleSend(id string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req struct {
			To   string `json:"to"`
			Text string `json:"text"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		if req.To == "" || req.Text == "" {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("to and text are required"))
			return
		}
		echo, err := s.gw.SendMessage(r.Context(), id, req.To, req.Text)
		if err != nil {
			s.fail(rw, r, err)
			return
		}
		writeJSON(rw, http.StatusOK, echo)
	}
}

func (s *Server) handleSetWebhook(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}
	s.gw.SetWebhook(req.URL)
	writeJSON(rw, http.StatusOK, map[string]string{"url": req.URL})
}

func (s *Server) handleSetInstanceWebhook(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if _, err := s.gw.Status(id); err != nil {
		s.fail(rw, r, err)
		return
	}
	s.gw.SetInstanceWebhook(id, req.URL)
	writeJSON(rw, http.StatusOK, map[string]string{"instance": id, "url": req.URL})
}

func (s *Server) handleCreateInstance(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	sum, err := s.gw.CreateInstance(r.Context(), req.ID, req.Label)
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusCreated, sum)
}

func (s *Server) handleListInstances(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.gw.ListInstances())
}

func (s *Server) handleRemoveInstance(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.gw.RemoveInstance(r.Context(), id); err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// fail maps a typed gateway error to an HTTP status and logs it once.
func (s *Server) fail(rw http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(rw, status, err)
}

func statusFor(err error) int {
	var sendErr *domain.SendError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrQRNotAvailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusBadRequest
	case errors.As(err, &sendErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}
