package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/workflow"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workflow.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workflow.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps service errors onto HTTP responses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrDuplicateIdentity):
		writeJSON(w, http.StatusConflict, errorBody("duplicate identity"))
	case errors.Is(err, apperr.ErrExpired):
		writeJSON(w, http.StatusConflict, errorBody("approval expired; awaiting reissue"))
	case errors.Is(err, apperr.ErrNotPending):
		writeJSON(w, http.StatusConflict, errorBody("request is not awaiting a decision"))
	case errors.Is(err, apperr.ErrInvalidPlan),
		errors.Is(err, apperr.ErrOutOfRange),
		errors.Is(err, apperr.ErrInvalidAction):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// SubmitTask handles POST /tasks.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	task, err := h.svc.Submit(r.Context(), record.Source(req.Source), record.Priority(req.Priority), req.Meta, req.Body)
	if err != nil {
		writeError(w, "submit task", err)
		return
	}
	detail, err := h.svc.GetRecord(r.Context(), task.ID)
	if err != nil {
		writeError(w, "submit task", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// ListStage handles GET /stages/{stage}.
func (h *Handler) ListStage(w http.ResponseWriter, r *http.Request) {
	st := stage.Stage(chi.URLParam(r, "stage"))
	if !st.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown stage"))
		return
	}
	items, err := h.svc.ListStage(r.Context(), st)
	if err != nil {
		writeError(w, "list stage", err)
		return
	}
	if items == nil {
		items = []workflow.Summary{}
	}
	writeJSON(w, http.StatusOK, StageListResponse{Stage: string(st), Records: items})
}

// GetRecord handles GET /records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// RequestApproval handles POST /records/{id}/approval.
func (h *Handler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req RequestApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	approvalReq, err := h.svc.RequestApproval(r.Context(), id, record.ActionKind(req.Action), req.Payload)
	if err != nil {
		writeError(w, "request approval", err)
		return
	}
	detail, err := h.svc.GetRecord(r.Context(), approvalReq.ID)
	if err != nil {
		writeError(w, "request approval", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// Approve handles POST /approvals/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Approve(r.Context(), id); err != nil {
		writeError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "outcome": "approved"})
}

// Reject handles POST /approvals/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Reject(r.Context(), id); err != nil {
		writeError(w, "reject", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "outcome": "rejected"})
}

// CreatePlan handles POST /records/{id}/plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	var target time.Time
	if req.Target != "" {
		t, err := time.Parse(time.RFC3339, req.Target)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("estimated_completion must be RFC3339"))
			return
		}
		target = t
	}
	p, err := h.svc.CreatePlan(r.Context(), id, req.Objective, req.Steps, target)
	if err != nil {
		writeError(w, "create plan", err)
		return
	}
	detail, err := h.svc.GetRecord(r.Context(), p.ID)
	if err != nil {
		writeError(w, "create plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// AdvanceStep handles POST /plans/{id}/advance.
func (h *Handler) AdvanceStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AdvanceStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if _, err := h.svc.AdvanceStep(r.Context(), id, req.Index); err != nil {
		writeError(w, "advance step", err)
		return
	}
	detail, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, "advance step", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
