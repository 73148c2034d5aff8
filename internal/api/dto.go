package api

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/workflow"
)

// SubmitTaskRequest is the body for POST /tasks.
type SubmitTaskRequest struct {
	Source   string            `json:"source"`
	Priority string            `json:"priority"`
	Meta     map[string]string `json:"meta,omitempty"`
	Body     string            `json:"body"`
}

// Validate checks enum fields before the request reaches the service.
func (r SubmitTaskRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Source, validation.Required, validation.In(
			string(record.SourceFilesystem), string(record.SourceMail),
			string(record.SourceSocial), string(record.SourceManual))),
		validation.Field(&r.Priority, validation.In(
			string(record.PriorityHigh), string(record.PriorityMedium),
			string(record.PriorityLow))),
		validation.Field(&r.Meta, validation.By(metaKeysFree)),
		validation.Field(&r.Body, validation.Required),
	)
}

// metaKeysFree rejects metadata keys that would shadow record header
// fields in the stored frontmatter.
func metaKeysFree(value any) error {
	meta, _ := value.(map[string]string)
	for k := range meta {
		if record.ReservedHeaderKey(k) {
			return fmt.Errorf("key %q is reserved", k)
		}
	}
	return nil
}

// RequestApprovalRequest is the body for POST /records/{id}/approval.
type RequestApprovalRequest struct {
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

// Validate checks the action kind; payload limits are the gate's call.
func (r RequestApprovalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.Required, validation.In(
			string(record.ActionSendMessage), string(record.ActionCreatePost),
			string(record.ActionSchedulePost), string(record.ActionOther))),
		validation.Field(&r.Payload, validation.Required),
	)
}

// CreatePlanRequest is the body for POST /records/{id}/plan.
type CreatePlanRequest struct {
	Objective string   `json:"objective"`
	Steps     []string `json:"steps"`
	// Target is the estimated completion time, RFC3339; optional.
	Target string `json:"estimated_completion,omitempty"`
}

// Validate rejects plans with no steps before they reach the engine.
func (r CreatePlanRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Objective, validation.Required),
		validation.Field(&r.Steps, validation.Required, validation.Length(1, 0)),
	)
}

// AdvanceStepRequest is the body for POST /plans/{id}/advance.
type AdvanceStepRequest struct {
	Index int `json:"index"`
}

// StageListResponse wraps a stage listing.
type StageListResponse struct {
	Stage   string             `json:"stage"`
	Records []workflow.Summary `json:"records"`
}
