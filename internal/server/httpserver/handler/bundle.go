package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

var reportFlags = map[string]domain.BundleFlags{
	"received":  domain.FlagReportReceived,
	"forwarded": domain.FlagReportForwarded,
	"delivered": domain.FlagReportDelivered,
	"deleted":   domain.FlagReportDeleted,
}

func sendRequest(req *SendBundleRequest) (service.SendRequest, error) {
	out := service.SendRequest{
		Destination: req.Destination,
		ReportTo:    req.ReportTo,
		Priority:    domain.PriorityStandard,
		Ordinal:     req.Ordinal,
		Payload:     req.Payload,
	}
	if req.Lifetime == "" {
		return out, domain.ErrMissingArgument.WithDetails("lifetime is required")
	}
	lifetime, err := time.ParseDuration(req.Lifetime)
	if err != nil {
		return out, domain.ErrInvalidArgument.WithDetails("lifetime: " + err.Error())
	}
	out.Lifetime = lifetime
	if req.Priority != "" {
		if out.Priority, err = domain.ParsePriority(req.Priority); err != nil {
			return out, err
		}
	}
	if req.BestEffort {
		out.Flags |= domain.FlagBestEffort
	}
	if req.MinimumLatency {
		out.Flags |= domain.FlagMinimumLatency
	}
	for _, name := range req.Reports {
		f, ok := reportFlags[strings.ToLower(name)]
		if !ok {
			return out, domain.ErrInvalidArgument.WithDetails("unknown report " + name)
		}
		out.Flags |= f
	}
	return out, nil
}

// handleSendBundle handles POST /admin/v1/bundles.
func (h *Handler) handleSendBundle(w http.ResponseWriter, r *http.Request) {
	var req SendBundleRequest
	if !h.decode(w, r, &req) {
		return
	}
	sr, err := sendRequest(&req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	id, err := h.engine.Bundles.Send(r.Context(), sr)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, SendBundleResponse{
		ID:       id.String(),
		Source:   id.Source,
		Creation: id.Creation,
	})
}

// handleStatus handles GET /admin/v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, st)
}
