package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/auth"
	"github.com/rhuss/colloquy/pkg/models"
	"github.com/rhuss/colloquy/pkg/observability"
	"github.com/rhuss/colloquy/pkg/transport"
)

// Threads manages conversation threads. *engine.Engine satisfies it.
type Threads interface {
	CreateThread(ctx context.Context, userID string, req *api.CreateThreadRequest) (*api.Thread, error)
	ListThreads(ctx context.Context, userID string) ([]*api.Thread, error)
	GetThread(ctx context.Context, userID, threadID string) (*api.ThreadWithMessages, error)
	DeleteThread(ctx context.Context, userID, threadID string) error
	Cancel(ctx context.Context, userID, threadID string) (bool, error)
}

// Keys manages vendor credentials. *keys.Service satisfies it.
type Keys interface {
	Create(ctx context.Context, userID string, req *api.CreateKeyRequest) (*api.APIKey, error)
	List(ctx context.Context, userID string) ([]*api.APIKey, error)
	Validate(ctx context.Context, userID, keyID string) (*api.APIKey, error)
	Revoke(ctx context.Context, userID, keyID string) (*api.APIKey, error)
}

// Models serves model catalogs. *models.Service satisfies it.
type Models interface {
	List(ctx context.Context, userID string, providerID api.ProviderID, refresh bool) (*models.Catalog, error)
}

// Audit lists audit entries. Every storage.Store satisfies it.
type Audit interface {
	ListAudit(ctx context.Context, userID string) ([]*api.AuditEntry, error)
}

// Services are the collaborators behind the REST surface.
type Services struct {
	Chat    transport.ChatService
	Threads Threads
	Keys    Keys
	Models  Models
	Audit   Audit

	// Ready backs /readyz. Nil always reports ready.
	Ready func(ctx context.Context) error
}

// Adapter serves the gateway API over HTTP.
type Adapter struct {
	svc    Services
	mux    *http.ServeMux
	config Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// Auth wraps every /v1 route, typically auth.Middleware. Without it
	// those routes reject every request.
	Auth func(http.Handler) http.Handler
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{MaxBodySize: 1 << 20}
}

// NewAdapter routes the API to svc. Middleware wraps svc.Chat in the given
// order.
func NewAdapter(svc Services, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 && svc.Chat != nil {
		svc.Chat = transport.Chain(middlewares...)(svc.Chat)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{svc: svc, mux: http.NewServeMux(), config: cfg}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.Handle("GET /metrics", promhttp.Handler())

	a.route("POST /v1/keys", a.handleCreateKey)
	a.route("GET /v1/keys", a.handleListKeys)
	a.route("POST /v1/keys/{id}/validate", a.handleValidateKey)
	a.route("DELETE /v1/keys/{id}", a.handleRevokeKey)

	a.route("GET /v1/models", a.handleListModels)
	a.route("POST /v1/models/refresh", a.handleRefreshModels)

	a.route("POST /v1/threads", a.handleCreateThread)
	a.route("GET /v1/threads", a.handleListThreads)
	a.route("GET /v1/threads/{id}", a.handleGetThread)
	a.route("DELETE /v1/threads/{id}", a.handleDeleteThread)
	a.route("POST /v1/threads/{id}/messages", a.handleSendMessage)
	a.route("POST /v1/threads/{id}/cancel", a.handleCancel)

	a.route("GET /v1/audit", a.handleListAudit)

	return a
}

// route registers an authenticated API route. Authentication runs inside the
// mux so the metrics middleware sees the matched pattern.
func (a *Adapter) route(pattern string, h http.HandlerFunc) {
	var handler http.Handler = h
	if a.config.Auth != nil {
		handler = a.config.Auth(handler)
	}
	a.mux.Handle(pattern, handler)
}

// Handler returns the routed API with request id propagation, access logging
// and request metrics.
func (a *Adapter) Handler() http.Handler {
	return accessLog(observability.MetricsMiddleware(a.mux))
}

// accessLog propagates or assigns X-Request-ID and logs every request once
// it finished.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		w.Header().Set("X-Request-ID", id)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", id,
		)
	})
}

// statusRecorder captures the status code of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.svc.Ready != nil {
		if err := a.svc.Ready(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *Adapter) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req api.CreateKeyRequest
	if !a.decode(w, r, &req) {
		return
	}
	key, err := a.svc.Keys.Create(r.Context(), userID, &req)
	if err != nil {
		apiErr := toAPIError(err)
		status := apiErr.HTTPStatus()
		// Vendor rejections of the submitted key are 422.
		if apiErr.Code.IsUpstream() {
			status = http.StatusUnprocessableEntity
		}
		transport.WriteErrorResponse(w, apiErr, status)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*api.APIKey{"key": key})
}

func (a *Adapter) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	keys, err := a.svc.Keys.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if keys == nil {
		keys = []*api.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string][]*api.APIKey{"keys": keys})
}

func (a *Adapter) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	key, err := a.svc.Keys.Validate(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*api.APIKey{"key": key})
}

func (a *Adapter) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	key, err := a.svc.Keys.Revoke(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*api.APIKey{"key": key})
}

func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	a.listModels(w, r, false)
}

func (a *Adapter) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	a.listModels(w, r, true)
}

func (a *Adapter) listModels(w http.ResponseWriter, r *http.Request, refresh bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	providerID, apiErr := api.ParseProviderID(r.URL.Query().Get("provider"))
	if apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}
	catalog, err := a.svc.Models.List(r.Context(), userID, providerID, refresh)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (a *Adapter) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req api.CreateThreadRequest
	if !a.decode(w, r, &req) {
		return
	}
	thread, err := a.svc.Threads.CreateThread(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*api.Thread{"thread": thread})
}

func (a *Adapter) handleListThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	threads, err := a.svc.Threads.ListThreads(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*api.Thread{"threads": threads})
}

func (a *Adapter) handleGetThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	thread, err := a.svc.Threads.GetThread(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (a *Adapter) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := a.svc.Threads.DeleteThread(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	running, err := a.svc.Threads.Cancel(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": running})
}

// handleSendMessage answers with SSE unless the body sets "stream": false.
func (a *Adapter) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body api.SendMessageRequest
	if !a.decode(w, r, &body) {
		return
	}

	req := &transport.SendRequest{
		UserID:    userID,
		ThreadID:  r.PathValue("id"),
		Content:   body.Content,
		RequestID: strings.TrimSpace(body.RequestID),
		Stream:    body.Streaming(),
	}
	if req.Stream {
		observability.StreamingConnections.Inc()
		defer observability.StreamingConnections.Dec()
	}

	ew := newEventWriter(w)
	err := a.svc.Chat.SendMessage(r.Context(), req, ew)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Cancelled exchanges end without a reply.
		return
	}

	apiErr := toAPIError(err)
	switch {
	case ew.completed():
		slog.Debug("error after reply was sent", "thread_id", req.ThreadID, "error", err)
	case ew.started():
		if werr := ew.WriteError(context.Background(), apiErr); werr != nil {
			slog.Debug("failed to write error event", "thread_id", req.ThreadID, "error", werr)
		}
	default:
		transport.WriteAPIError(w, apiErr)
	}
}

func (a *Adapter) handleListAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := a.svc.Audit.ListAudit(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*api.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string][]*api.AuditEntry{"entries": entries})
}

// decode reads a JSON body into v. On failure the error response has been
// written and false is returned.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewValidationError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewValidationError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge)
			return false
		}
		transport.WriteAPIError(w, api.NewValidationError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		transport.WriteAPIError(w, &api.APIError{Code: api.CodeUnauthenticated, Message: "authentication required"})
		return "", false
	}
	return userID, true
}

func toAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	slog.Error("request failed", "error", err)
	return api.NewInternalError("internal server error")
}

func writeError(w http.ResponseWriter, err error) {
	transport.WriteAPIError(w, toAPIError(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
