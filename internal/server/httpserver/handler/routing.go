package handler

import (
	"net/http"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// handleListPlans handles GET /admin/v1/plans.
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.engine.Plans.ListPlans(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if plans == nil {
		plans = []service.PlanInfo{}
	}
	h.writeJSON(w, r, http.StatusOK, plans)
}

// handleAddPlan handles POST /admin/v1/plans.
func (h *Handler) handleAddPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan := req.Plan
	var err error
	if req.Replace {
		err = h.engine.Plans.UpdatePlan(r.Context(), &plan)
	} else {
		err = h.engine.Plans.AddPlan(r.Context(), &plan)
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if req.Replace {
		status = http.StatusOK
	}
	h.writeJSON(w, r, status, plan)
}

// handleRemovePlan handles DELETE /admin/v1/plans/{node}.
func (h *Handler) handleRemovePlan(w http.ResponseWriter, r *http.Request) {
	node, ok := h.pathUint(w, r, "node")
	if !ok {
		return
	}
	if err := h.engine.Plans.RemovePlan(r.Context(), node); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]uint64{"node": node})
}

// handleListDucts handles GET /admin/v1/ducts.
func (h *Handler) handleListDucts(w http.ResponseWriter, r *http.Request) {
	ducts, err := h.engine.Plans.ListDucts(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if ducts == nil {
		ducts = []domain.Duct{}
	}
	h.writeJSON(w, r, http.StatusOK, ducts)
}

// handleAddDuct handles POST /admin/v1/ducts.
func (h *Handler) handleAddDuct(w http.ResponseWriter, r *http.Request) {
	var req DuctRequest
	if !h.decode(w, r, &req) {
		return
	}
	d := domain.Duct{
		Name:     req.Name,
		Protocol: req.Protocol,
		Neighbor: req.Neighbor,
		Address:  req.Address,
		Rate:     req.Rate,
		Blocked:  req.Blocked,
	}
	if err := h.engine.Plans.AddDuct(r.Context(), &d); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, d)
}

// handleRemoveDuct handles DELETE /admin/v1/ducts/{name}.
func (h *Handler) handleRemoveDuct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.engine.Plans.RemoveDuct(r.Context(), name); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"name": name})
}

// handleBlockDuct handles POST /admin/v1/ducts/{name}/block.
func (h *Handler) handleBlockDuct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.engine.Plans.BlockDuct(r.Context(), name); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"name": name, "blocked": true})
}

// handleUnblockDuct handles POST /admin/v1/ducts/{name}/unblock.
func (h *Handler) handleUnblockDuct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.engine.Plans.UnblockDuct(r.Context(), name); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"name": name, "blocked": false})
}

// handleReleaseLimbo handles POST /admin/v1/limbo/release.
func (h *Handler) handleReleaseLimbo(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Plans.ReleaseLimbo(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ReleasedResponse{Released: n})
}

// handleListKin handles GET /admin/v1/kin.
func (h *Handler) handleListKin(w http.ResponseWriter, r *http.Request) {
	kin, err := h.engine.Multicast.Kin(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if kin == nil {
		kin = []uint64{}
	}
	h.writeJSON(w, r, http.StatusOK, KinResponse{Kin: kin})
}

// handleAddKin handles POST /admin/v1/kin.
func (h *Handler) handleAddKin(w http.ResponseWriter, r *http.Request) {
	var req KinRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Multicast.AddKin(r.Context(), req.Node); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, req)
}

// handleRemoveKin handles DELETE /admin/v1/kin/{node}.
func (h *Handler) handleRemoveKin(w http.ResponseWriter, r *http.Request) {
	node, ok := h.pathUint(w, r, "node")
	if !ok {
		return
	}
	if err := h.engine.Multicast.RemoveKin(r.Context(), node); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, KinRequest{Node: node})
}
