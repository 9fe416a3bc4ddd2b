package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

func (h *Handler) window(from, to string, now time.Time) (domain.DTNTime, domain.DTNTime, error) {
	f, err := domain.ParseDTNTime(from, now)
	if err != nil {
		return 0, 0, err
	}
	t, err := domain.ParseDTNTime(to, now)
	if err != nil {
		return 0, 0, err
	}
	return f, t, nil
}

func (h *Handler) contactKey(req *ContactKeyRequest) (domain.ContactKey, error) {
	k := domain.ContactKey{Region: req.Region, FromNode: req.FromNode, ToNode: req.ToNode}
	if req.FromNode == 0 || req.ToNode == 0 {
		return k, domain.ErrMissingArgument.WithDetails("from_node and to_node are required")
	}
	if req.From != "" {
		t, err := domain.ParseDTNTime(req.From, h.now())
		if err != nil {
			return k, err
		}
		k.FromTime = t
	}
	return k, nil
}

// handleListContacts handles GET /admin/v1/contacts.
func (h *Handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.engine.ContactPlan.ListContacts(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	h.writeJSON(w, r, http.StatusOK, contacts)
}

// handleInsertContact handles POST /admin/v1/contacts.
func (h *Handler) handleInsertContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, to, err := h.window(req.From, req.To, h.now())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	c := domain.Contact{
		Region: req.Region, FromTime: from, ToTime: to,
		FromNode: req.FromNode, ToNode: req.ToNode,
		Rate: req.Rate, Confidence: 1,
	}
	if req.Confidence != nil {
		c.Confidence = *req.Confidence
	}
	got, err := h.engine.ContactPlan.InsertContact(r.Context(), c)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, got)
}

// handleRemoveContact handles POST /admin/v1/contacts/remove.
func (h *Handler) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	var req ContactKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	k, err := h.contactKey(&req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	n, err := h.engine.ContactPlan.RemoveContact(r.Context(), k)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, RemovedResponse{Removed: n})
}

// handleReviseContact handles POST /admin/v1/contacts/revise.
func (h *Handler) handleReviseContact(w http.ResponseWriter, r *http.Request) {
	var req ReviseContactRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.From == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrMissingArgument.Code, "from is required", nil)
		return
	}
	k, err := h.contactKey(&req.ContactKeyRequest)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	c, err := h.engine.ContactPlan.ReviseContact(r.Context(), k, service.ContactRevision{
		Rate:       req.Rate,
		Confidence: req.Confidence,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, c)
}

// handleListRanges handles GET /admin/v1/ranges.
func (h *Handler) handleListRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := h.engine.ContactPlan.ListRanges(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if ranges == nil {
		ranges = []domain.Range{}
	}
	h.writeJSON(w, r, http.StatusOK, ranges)
}

// handleInsertRange handles POST /admin/v1/ranges.
func (h *Handler) handleInsertRange(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, to, err := h.window(req.From, req.To, h.now())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	got, err := h.engine.ContactPlan.InsertRange(r.Context(), domain.Range{
		Region: req.Region, FromTime: from, ToTime: to,
		FromNode: req.FromNode, ToNode: req.ToNode, OWLT: req.OWLT,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, got)
}

// handleRemoveRange handles POST /admin/v1/ranges/remove.
func (h *Handler) handleRemoveRange(w http.ResponseWriter, r *http.Request) {
	var req ContactKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	k, err := h.contactKey(&req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	n, err := h.engine.ContactPlan.RemoveRange(r.Context(), k)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, RemovedResponse{Removed: n})
}
