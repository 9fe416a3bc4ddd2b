package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// maxBodyBytes bounds request bodies; bundle payloads are the largest.
const maxBodyBytes = 8 << 20

// Handler serves the admin API for one engine.
type Handler struct {
	engine *service.Engine
	logger *slog.Logger
	now    func() time.Time
	mux    *http.ServeMux
}

// New creates a Handler for engine.
func New(engine *service.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		engine: engine,
		logger: logger,
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Contact plan
	h.mux.HandleFunc("GET /admin/v1/contacts", h.handleListContacts)
	h.mux.HandleFunc("POST /admin/v1/contacts", h.handleInsertContact)
	h.mux.HandleFunc("POST /admin/v1/contacts/remove", h.handleRemoveContact)
	h.mux.HandleFunc("POST /admin/v1/contacts/revise", h.handleReviseContact)
	h.mux.HandleFunc("GET /admin/v1/ranges", h.handleListRanges)
	h.mux.HandleFunc("POST /admin/v1/ranges", h.handleInsertRange)
	h.mux.HandleFunc("POST /admin/v1/ranges/remove", h.handleRemoveRange)

	// Plans and ducts
	h.mux.HandleFunc("GET /admin/v1/plans", h.handleListPlans)
	h.mux.HandleFunc("POST /admin/v1/plans", h.handleAddPlan)
	h.mux.HandleFunc("DELETE /admin/v1/plans/{node}", h.handleRemovePlan)
	h.mux.HandleFunc("GET /admin/v1/ducts", h.handleListDucts)
	h.mux.HandleFunc("POST /admin/v1/ducts", h.handleAddDuct)
	h.mux.HandleFunc("DELETE /admin/v1/ducts/{name}", h.handleRemoveDuct)
	h.mux.HandleFunc("POST /admin/v1/ducts/{name}/block", h.handleBlockDuct)
	h.mux.HandleFunc("POST /admin/v1/ducts/{name}/unblock", h.handleUnblockDuct)
	h.mux.HandleFunc("POST /admin/v1/limbo/release", h.handleReleaseLimbo)

	// Multicast
	h.mux.HandleFunc("GET /admin/v1/kin", h.handleListKin)
	h.mux.HandleFunc("POST /admin/v1/kin", h.handleAddKin)
	h.mux.HandleFunc("DELETE /admin/v1/kin/{node}", h.handleRemoveKin)

	h.mux.HandleFunc("POST /admin/v1/bundles", h.handleSendBundle)
	h.mux.HandleFunc("GET /admin/v1/status", h.handleStatus)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// decode reads a JSON body into v, rejecting unknown fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid request body"
		if !errors.Is(err, io.EOF) {
			msg = fmt.Sprintf("invalid request body: %v", err)
		}
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, msg, nil)
		return false
	}
	return true
}

// pathUint parses a numeric path value.
func (h *Handler) pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, name+" must be a positive integer", nil)
		return 0, false
	}
	return n, true
}

// getRequestID returns the ID assigned by the RequestID middleware.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := errorCodeToHTTPStatus(de.Code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "request_id", getRequestID(r), "error", err)
		}
		var details any
		if de.Details != "" {
			details = de.Details
		}
		h.writeError(w, r, status, de.Code, de.Message, details)
		return
	}

	h.logger.Error("internal error", "request_id", getRequestID(r), "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"), strings.HasSuffix(code, "-4091"), strings.HasSuffix(code, "-4092"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4100"):
		return http.StatusGone
	case strings.HasSuffix(code, "-5070"):
		return http.StatusInsufficientStorage
	case strings.HasPrefix(code, "BP-AUTH-401"):
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "BP-AUTH-403"):
		return http.StatusForbidden
	case strings.HasPrefix(code, "BP-ARG-"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-4000"), strings.HasSuffix(code, "-4001"),
		strings.HasSuffix(code, "-4002"), strings.HasSuffix(code, "-4003"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "BP-SYS-503"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
