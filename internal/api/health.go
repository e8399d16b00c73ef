package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusInfo describes how the server is running.
type StatusInfo struct {
	TelegramMode   string `json:"telegram_mode"`
	WebchatEnabled bool   `json:"webchat_enabled"`
	SessionBackend string `json:"session_backend"`
	SheetName      string `json:"sheet_name"`
}

// HealthHandler handles health and status endpoints.
type HealthHandler struct {
	store   Pinger
	info    StatusInfo
	timeout time.Duration
	started time.Time
}

// NewHealthHandler creates a health handler checking store.
func NewHealthHandler(store Pinger, info StatusInfo, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{store: store, info: info, timeout: timeout, started: time.Now()}
}

// Health returns the health status of the server and its session store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["session_store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["session_store"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Status reports how the bot is configured to run.
func (h *HealthHandler) Status(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"bot":            h.info,
	})
}

// RegisterHealth registers the health and status routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/status", h.Status)
}
