// Package approval implements the approval gate: the protocol that
// holds externally visible actions in Pending_Approval until a human
// relocates them to Approved or Rejected, and reissues requests whose
// expiry passes unresolved.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
)

// metaSupersededBy marks an expired request with the identity of its
// successor before the successor is placed, making reissue safe to
// repeat after a crash at any point.
const metaSupersededBy = "superseded_by"

// Params configure gate behaviour.
type Params struct {
	// TTL is the lifetime of a new approval request.
	TTL time.Duration
	// MaxPayloadBytes caps the gated action payload; larger payloads
	// fail validation at creation.
	MaxPayloadBytes int
	// EscalateAfter is the number of reissues after which successors
	// are created with high priority.
	EscalateAfter int
}

// Gate creates, classifies, and reissues approval requests. It never
// resolves a request itself: approval and rejection are out-of-band
// relocations performed by a human, which the orchestrator only
// observes on its next scan.
type Gate struct {
	store  *stage.Store
	params Params
	now    func() time.Time
}

// NewGate creates an approval gate over the stage store.
func NewGate(store *stage.Store, params Params) *Gate {
	if params.TTL <= 0 {
		params.TTL = 24 * time.Hour
	}
	if params.MaxPayloadBytes <= 0 {
		params.MaxPayloadBytes = 4000
	}
	if params.EscalateAfter <= 0 {
		params.EscalateAfter = 3
	}
	return &Gate{store: store, params: params, now: time.Now}
}

// Propose validates a gated action for a task and creates an approval
// request in Pending_Approval. On validation failure no request is
// created: the task is returned to Needs_Action with the failure
// reason attached and the error wraps apperr.ErrInvalidAction.
//
// The task itself stays where it is on success; proposing an action
// does not consume the task.
func (g *Gate) Propose(taskID string, action record.ActionKind, payload string) (*record.Record, error) {
	task, st, err := g.store.Get(taskID)
	if err != nil {
		return nil, err
	}

	if reason := g.validate(action, payload); reason != "" {
		g.returnToNeedsAction(task, st, "action rejected by gate: "+reason)
		return nil, fmt.Errorf("approval: propose for %s: %s: %w", taskID, reason, apperr.ErrInvalidAction)
	}

	now := g.now()
	req := &record.Record{
		ID:       record.NewID("approval", now),
		Kind:     record.KindApproval,
		Priority: task.Priority,
		Created:  now,
		Status:   record.StatusPending,
		Action:   action,
		Expires:  now.Add(g.params.TTL),
		TaskID:   task.ID,
		Body:     payload,
	}
	if err := g.store.Place(req, stage.PendingApproval); err != nil {
		return nil, err
	}
	return req, nil
}

func (g *Gate) validate(action record.ActionKind, payload string) string {
	if !action.Valid() {
		return fmt.Sprintf("unknown action kind %q", action)
	}
	if payload == "" {
		return "empty payload"
	}
	if len(payload) > g.params.MaxPayloadBytes {
		return fmt.Sprintf("payload %d bytes exceeds limit %d", len(payload), g.params.MaxPayloadBytes)
	}
	return ""
}

// returnToNeedsAction surfaces a gate failure on the task itself.
// Best effort: a task that cannot be updated is left in place.
func (g *Gate) returnToNeedsAction(task *record.Record, at stage.Stage, reason string) {
	if at != stage.NeedsAction {
		if err := g.store.Relocate(task.ID, at, stage.NeedsAction); err != nil {
			return
		}
	}
	cur, err := g.store.Load(stage.NeedsAction, task.ID)
	if err != nil {
		return
	}
	cur.AppendLog(g.now(), reason)
	_ = g.store.Save(stage.NeedsAction, cur)
}

// Expired reports whether a pending request is past its expiry at the
// given instant. Expiry is a computed classification, never a stored
// state.
func Expired(req *record.Record, at time.Time) bool {
	return req.Kind == record.KindApproval && !req.Expires.IsZero() && at.After(req.Expires)
}

// Approve resolves a pending request by relocating it to Approved.
// Approving a request that is already in Approved is a no-op success;
// an expired request cannot be approved and returns apperr.ErrExpired.
func (g *Gate) Approve(id string) error {
	return g.resolve(id, stage.Approved)
}

// Reject resolves a pending request by relocating it to Rejected.
func (g *Gate) Reject(id string) error {
	return g.resolve(id, stage.Rejected)
}

func (g *Gate) resolve(id string, outcome stage.Stage) error {
	req, st, err := g.store.Get(id)
	if err != nil {
		return err
	}
	if req.Kind != record.KindApproval {
		return fmt.Errorf("approval: %s is not an approval request: %w", id, apperr.ErrNotFound)
	}
	switch st {
	case outcome:
		return nil // resolved exactly once; retries converge
	case stage.PendingApproval:
		if Expired(req, g.now()) {
			return fmt.Errorf("approval: %s: %w", id, apperr.ErrExpired)
		}
		return g.store.Relocate(id, stage.PendingApproval, outcome)
	default:
		// Resolved the other way, or surfaced to Needs_Action after expiry.
		return fmt.Errorf("approval: %s is in %s: %w", id, st, apperr.ErrNotPending)
	}
}

// Reissue supersedes an expired pending request: a successor with a
// fresh expiry and a back-reference is placed in Pending_Approval, and
// the expired original is surfaced in Needs_Action rather than
// silently dropped.
//
// The original is flagged with the successor identity before the
// successor is written, so a crash at any point leaves the next pass
// either finishing the relocation or reissuing with a fresh identity,
// never producing two live successors.
func (g *Gate) Reissue(req *record.Record) (*record.Record, error) {
	if req.Kind != record.KindApproval {
		return nil, fmt.Errorf("approval: reissue %s: not an approval request", req.ID)
	}

	// A previous attempt may already have placed the successor.
	if prior := req.Meta[metaSupersededBy]; prior != "" {
		if _, err := g.store.Locate(prior); err == nil {
			return nil, g.surfaceExpired(req, prior)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	now := g.now()
	succ := &record.Record{
		ID:         record.NewID("approval", now),
		Kind:       record.KindApproval,
		Priority:   req.Priority,
		Created:    now,
		Status:     record.StatusPending,
		Action:     req.Action,
		Expires:    now.Add(g.params.TTL),
		TaskID:     req.TaskID,
		Supersedes: req.ID,
		Reissues:   req.Reissues + 1,
		Body:       req.Body,
	}
	if succ.Reissues >= g.params.EscalateAfter {
		succ.Priority = record.PriorityHigh
	}

	if req.Meta == nil {
		req.Meta = make(map[string]string)
	}
	req.Meta[metaSupersededBy] = succ.ID
	if err := g.store.Save(stage.PendingApproval, req); err != nil {
		return nil, err
	}
	if err := g.store.Place(succ, stage.PendingApproval); err != nil {
		return nil, err
	}
	if err := g.surfaceExpired(req, succ.ID); err != nil {
		return succ, err
	}
	return succ, nil
}

// surfaceExpired moves the expired original out of Pending_Approval
// into Needs_Action with an explanatory log entry.
func (g *Gate) surfaceExpired(req *record.Record, successorID string) error {
	if err := g.store.Relocate(req.ID, stage.PendingApproval, stage.NeedsAction); err != nil {
		return err
	}
	cur, err := g.store.Load(stage.NeedsAction, req.ID)
	if err != nil {
		return err
	}
	cur.Status = record.StatusExpired
	cur.AppendLog(g.now(), "approval expired, superseded by "+successorID)
	return g.store.Save(stage.NeedsAction, cur)
}
