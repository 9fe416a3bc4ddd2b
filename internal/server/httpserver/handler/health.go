package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/infra/buildinfo"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":          "healthy",
		"version":         buildinfo.Get().Version,
		"bundle_protocol": wire.Version,
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. The node is ready once its store answers.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Status(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Code, domain.ErrStoreUnavailable.Message, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ready",
		"node":   h.engine.Node(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
