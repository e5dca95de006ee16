package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/recall-study/internal/store"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports database and generation readiness.
type HealthHandler struct {
	repo              store.Repository
	generationEnabled bool
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository, generationEnabled bool) *HealthHandler {
	return &HealthHandler{repo: repo, generationEnabled: generationEnabled}
}

// ServeHTTP answers 200 when the database responds and 503 otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		db = "unavailable"
	}
	gen := "disabled"
	if h.generationEnabled {
		gen = "configured"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	JSON(w, status, map[string]string{
		"status":     overall,
		"database":   db,
		"generation": gen,
	})
}
