package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mckinley/stagehand/internal/workflow"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workflow.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Task intake.
	r.Post("/tasks", h.SubmitTask)

	// Stage store views.
	r.Get("/stages/{stage}", h.ListStage)
	r.Get("/records/{id}", h.GetRecord)

	// Approval gate.
	r.Post("/records/{id}/approval", h.RequestApproval)
	r.Post("/approvals/{id}/approve", h.Approve)
	r.Post("/approvals/{id}/reject", h.Reject)

	// Plans.
	r.Post("/records/{id}/plan", h.CreatePlan)
	r.Post("/plans/{id}/advance", h.AdvanceStep)

	// Aggregate status.
	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
