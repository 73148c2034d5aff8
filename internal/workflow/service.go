// Package workflow coordinates the stage store, approval gate, plan
// engine, and journal behind one service used by the HTTP API, the MCP
// server, and the watcher adapters.
package workflow

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mckinley/stagehand/internal/approval"
	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/plan"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/sse"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/status"
)

// Summary is a lightweight listing item for one record.
type Summary struct {
	ID       string            `json:"id"`
	Kind     record.Kind       `json:"kind"`
	Source   record.Source     `json:"source,omitempty"`
	Priority record.Priority   `json:"priority,omitempty"`
	Action   record.ActionKind `json:"action,omitempty"`
	Status   string            `json:"status,omitempty"`
	Created  time.Time         `json:"created"`
	Expires  *time.Time        `json:"expires,omitempty"`
	TaskID   string            `json:"task,omitempty"`
}

// Detail is the full representation of one record plus its location.
type Detail struct {
	Summary
	Stage      stage.Stage       `json:"stage"`
	Supersedes string            `json:"supersedes,omitempty"`
	Reissues   int               `json:"reissues,omitempty"`
	Objective  string            `json:"objective,omitempty"`
	Steps      []plan.Step       `json:"steps,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	Body       string            `json:"body"`
}

// Service is the workflow coordination layer.
type Service struct {
	store  *stage.Store
	log    journal.Log
	gate   *approval.Gate
	plans  *plan.Engine
	agg    *status.Aggregator
	broker *sse.Broker
	now    func() time.Time
}

// NewService creates a workflow service. broker may be nil (stdio MCP
// mode has no event stream).
func NewService(store *stage.Store, log journal.Log, gate *approval.Gate, plans *plan.Engine, agg *status.Aggregator, broker *sse.Broker) *Service {
	return &Service{store: store, log: log, gate: gate, plans: plans, agg: agg, broker: broker, now: time.Now}
}

func (s *Service) notify(event, id string, st stage.Stage) {
	if s.broker != nil {
		s.broker.PublishRecordEvent(event, id, string(st))
	}
}

// Submit validates and creates a new task record in Needs_Action.
func (s *Service) Submit(ctx context.Context, source record.Source, priority record.Priority, meta map[string]string, body string) (*record.Record, error) {
	if priority == "" {
		priority = record.PriorityMedium
	}
	if err := validation.Validate(string(source), validation.Required,
		validation.In(string(record.SourceFilesystem), string(record.SourceMail),
			string(record.SourceSocial), string(record.SourceManual))); err != nil {
		return nil, fmt.Errorf("workflow: submit: source: %w", err)
	}
	if err := validation.Validate(string(priority),
		validation.In(string(record.PriorityHigh), string(record.PriorityMedium),
			string(record.PriorityLow))); err != nil {
		return nil, fmt.Errorf("workflow: submit: priority: %w", err)
	}
	for k := range meta {
		if record.ReservedHeaderKey(k) {
			return nil, fmt.Errorf("workflow: submit: meta key %q collides with a header field", k)
		}
	}

	task := record.NewTask(source, priority, meta, body, s.now())
	return task, s.SubmitRecord(ctx, task)
}

// SubmitRecord places a prebuilt task record in Needs_Action. Watchers
// use this directly; duplicate identities are rejected.
func (s *Service) SubmitRecord(_ context.Context, task *record.Record) error {
	if err := s.store.Place(task, stage.NeedsAction); err != nil {
		return err
	}
	_ = s.log.Record(task.ID, "", string(stage.NeedsAction), "submitted", s.now())
	s.notify("task.created", task.ID, stage.NeedsAction)
	return nil
}

// ListStage returns summaries of every record in a stage, arrival order.
func (s *Service) ListStage(_ context.Context, st stage.Stage) ([]Summary, error) {
	entries, err := s.store.List(st)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		rec, err := s.store.Load(st, e.ID)
		if err != nil {
			// Relocated between snapshot and read; the snapshot is
			// still valid, the record simply lives elsewhere now.
			continue
		}
		out = append(out, summarize(rec))
	}
	return out, nil
}

// GetRecord locates an identity and returns its full detail.
func (s *Service) GetRecord(_ context.Context, id string) (*Detail, error) {
	rec, st, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	d := &Detail{
		Summary:    summarize(rec),
		Stage:      st,
		Supersedes: rec.Supersedes,
		Reissues:   rec.Reissues,
		Objective:  rec.Objective,
		Meta:       rec.Meta,
		Body:       rec.Body,
	}
	if rec.Kind == record.KindPlan {
		d.Steps = plan.Steps(rec)
	}
	return d, nil
}

// RequestApproval proposes a gated action for a task.
func (s *Service) RequestApproval(_ context.Context, taskID string, action record.ActionKind, payload string) (*record.Record, error) {
	req, err := s.gate.Propose(taskID, action, payload)
	if err != nil {
		return nil, err
	}
	_ = s.log.Record(req.ID, "", string(stage.PendingApproval), "approval requested for "+taskID, s.now())
	s.notify("approval.requested", req.ID, stage.PendingApproval)
	return req, nil
}

// Approve resolves a pending approval request as approved. Execution
// happens on the orchestrator's next pass, not here.
func (s *Service) Approve(_ context.Context, id string) error {
	if err := s.gate.Approve(id); err != nil {
		return err
	}
	_ = s.log.Record(id, string(stage.PendingApproval), string(stage.Approved), "approved by operator", s.now())
	s.notify("task.relocated", id, stage.Approved)
	return nil
}

// Reject resolves a pending approval request as rejected.
func (s *Service) Reject(_ context.Context, id string) error {
	if err := s.gate.Reject(id); err != nil {
		return err
	}
	_ = s.log.Record(id, string(stage.PendingApproval), string(stage.Rejected), "rejected by operator", s.now())
	s.notify("task.relocated", id, stage.Rejected)
	return nil
}

// CreatePlan creates a multi-step plan linked to a task.
func (s *Service) CreatePlan(_ context.Context, taskID, objective string, steps []string, target time.Time) (*record.Record, error) {
	task, _, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	p, err := s.plans.CreatePlan(task, objective, steps, target)
	if err != nil {
		return nil, err
	}
	_ = s.log.Record(p.ID, "", string(stage.Plans), "plan created for "+taskID, s.now())
	s.notify("plan.updated", p.ID, stage.Plans)
	return p, nil
}

// AdvanceStep marks one plan step complete.
func (s *Service) AdvanceStep(_ context.Context, planID string, index int) (*record.Record, error) {
	p, err := s.plans.AdvanceStep(planID, index)
	if err != nil {
		return nil, err
	}
	s.notify("plan.updated", p.ID, stage.Plans)
	return p, nil
}

// Status returns the aggregate snapshot.
func (s *Service) Status(_ context.Context) (*status.Snapshot, error) {
	return s.agg.Snapshot()
}

func summarize(rec *record.Record) Summary {
	sum := Summary{
		ID:       rec.ID,
		Kind:     rec.Kind,
		Source:   rec.Source,
		Priority: rec.Priority,
		Action:   rec.Action,
		Status:   rec.Status,
		Created:  rec.Created,
		TaskID:   rec.TaskID,
	}
	if !rec.Expires.IsZero() {
		expires := rec.Expires
		sum.Expires = &expires
	}
	return sum
}
