package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"kuropanel/internal/store"
)

// HealthHandler reports process liveness and readiness of the backing store.
type HealthHandler struct {
	store   store.Store
	version string
	started time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(s store.Store, version string) *HealthHandler {
	return &HealthHandler{
		store:   s,
		version: version,
		started: time.Now().UTC(),
	}
}

// Routes mounts the health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/version", h.Version)
	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptime_seconds"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:    "healthy",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /api/health/ready. It probes the store with a read of a
// well-known path; ErrNotFound still means the store answered.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var flag struct{}
	err := h.store.Get(r.Context(), store.MaintenancePath, &flag)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

// Version handles GET /api/health/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"version": h.version})
}
