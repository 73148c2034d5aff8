package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/approval"
	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/plan"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/sse"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/status"
)

// Meta keys the orchestrator writes on records it processes.
const (
	metaFailureTask  = "failure_task"
	metaAcknowledged = "acknowledged"
)

// Params configure the orchestrator.
type Params struct {
	Store     *stage.Store
	Journal   journal.Log
	Gate      *approval.Gate
	Agg       *status.Aggregator
	Registry  *Registry
	Broker    *sse.Broker // optional
	Logger    *slog.Logger
	Interval  time.Duration
	Briefings bool
}

// Orchestrator is the single coordinating process. On a fixed interval
// it performs one reconciliation pass over the stage store; every step
// of a pass is independently safe to interrupt, so a crash at any point
// leaves state the next pass resumes from.
type Orchestrator struct {
	p            Params
	now          func() time.Time
	lastBriefing string
}

// New creates an orchestrator.
func New(p Params) *Orchestrator {
	if p.Interval <= 0 {
		p.Interval = 30 * time.Second
	}
	return &Orchestrator{p: p, now: time.Now}
}

// Run reconciles once at startup, then executes passes on the
// configured interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if removed, err := o.p.Store.Reconcile(o.p.Logger); err != nil {
		return fmt.Errorf("orchestrator: startup reconcile: %w", err)
	} else if removed > 0 {
		o.p.Logger.Info("orchestrator: startup reconcile resolved duplicates", slog.Int("removed", removed))
	}

	o.p.Logger.Info("orchestrator: started", slog.Duration("interval", o.p.Interval))
	o.Pass(ctx)

	ticker := time.NewTicker(o.p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.p.Logger.Info("orchestrator: stopped")
			return nil
		case <-ticker.C:
			o.Pass(ctx)
		}
	}
}

// Pass performs one full reconciliation pass. Each step contains its
// own failures: an error in one record or one step never aborts the
// pass, it degrades to a log line and, where user-visible, a tagged
// Needs_Action entry.
func (o *Orchestrator) Pass(ctx context.Context) {
	if _, err := o.p.Store.Reconcile(o.p.Logger); err != nil {
		o.p.Logger.Error("orchestrator: reconcile failed", slog.String("error", err.Error()))
	}
	o.executeApproved(ctx)
	o.reissueExpired()
	o.acknowledgeRejected()
	o.advanceCompletedPlans()
	o.publishStatus()
}

// executeApproved dispatches every newly approved request to its
// executor, relocating to Done on success and dead-lettering on
// failure. A failed execution is never retried without a fresh
// approval.
func (o *Orchestrator) executeApproved(ctx context.Context) {
	entries, err := o.p.Store.List(stage.Approved)
	if err != nil {
		o.p.Logger.Error("orchestrator: list approved failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		req, err := o.p.Store.Load(stage.Approved, e.ID)
		if err != nil {
			continue
		}
		if req.Kind != record.KindApproval {
			// A human parked something else here; not ours to touch.
			continue
		}
		if req.Status == record.StatusExecutionFailed {
			o.resurfaceFailure(req)
			continue
		}

		execErr := o.execute(ctx, req)
		if execErr == nil {
			o.finishApproved(req)
			continue
		}
		o.deadLetter(req, execErr)
	}
}

func (o *Orchestrator) execute(ctx context.Context, req *record.Record) error {
	ex, ok := o.p.Registry.Lookup(req.Action)
	if !ok {
		return fmt.Errorf("no executor registered for action %q", req.Action)
	}
	return ex.Execute(ctx, req)
}

// finishApproved records success and relocates the request, and its
// originating task if one is still upstream, to Done.
func (o *Orchestrator) finishApproved(req *record.Record) {
	now := o.now()
	req.AppendLog(now, "executed action "+string(req.Action))
	if err := o.p.Store.Save(stage.Approved, req); err != nil {
		o.p.Logger.Error("orchestrator: save after execute failed",
			slog.String("id", req.ID), slog.String("error", err.Error()))
	}
	if err := o.p.Store.Relocate(req.ID, stage.Approved, stage.Done); err != nil {
		o.p.Logger.Error("orchestrator: relocate to done failed",
			slog.String("id", req.ID), slog.String("error", err.Error()))
		return
	}
	_ = o.p.Journal.Record(req.ID, string(stage.Approved), string(stage.Done), "executed", now)
	o.notify("task.relocated", req.ID, stage.Done)
	o.p.Logger.Info("orchestrator: executed approved action",
		slog.String("id", req.ID), slog.String("action", string(req.Action)))

	if req.TaskID == "" {
		return
	}
	st, err := o.p.Store.Locate(req.TaskID)
	if err != nil || st == stage.Done || st == stage.Rejected {
		return
	}
	if err := o.p.Store.Relocate(req.TaskID, st, stage.Done); err != nil {
		o.p.Logger.Warn("orchestrator: relocate task to done failed",
			slog.String("id", req.TaskID), slog.String("error", err.Error()))
		return
	}
	_ = o.p.Journal.Record(req.TaskID, string(st), string(stage.Done), "action executed via "+req.ID, o.now())
	o.notify("task.relocated", req.TaskID, stage.Done)
}

// deadLetter flags a failed execution in place and surfaces it as a new
// high-priority Needs_Action entry. The failure-task identity is stored
// on the request before the entry is placed, so an interrupted pass can
// finish the surfacing without duplicating it.
func (o *Orchestrator) deadLetter(req *record.Record, execErr error) {
	now := o.now()
	failure := o.failureTask(req, execErr, now)

	req.Status = record.StatusExecutionFailed
	if req.Meta == nil {
		req.Meta = make(map[string]string)
	}
	req.Meta[metaFailureTask] = failure.ID
	req.AppendLog(now, "execution failed: "+execErr.Error())
	if err := o.p.Store.Save(stage.Approved, req); err != nil {
		o.p.Logger.Error("orchestrator: dead-letter save failed",
			slog.String("id", req.ID), slog.String("error", err.Error()))
		return
	}
	_ = o.p.Journal.Record(req.ID, string(stage.Approved), string(stage.Approved), "execution failed", now)
	o.p.Logger.Error("orchestrator: execution failed, dead-lettered",
		slog.String("id", req.ID), slog.String("error", execErr.Error()))

	if err := o.p.Store.Place(failure, stage.NeedsAction); err != nil && !errors.Is(err, apperr.ErrDuplicateIdentity) {
		o.p.Logger.Error("orchestrator: place failure task failed",
			slog.String("id", failure.ID), slog.String("error", err.Error()))
		return
	}
	_ = o.p.Journal.Record(failure.ID, "", string(stage.NeedsAction), "execution failure surfaced", now)
	o.notify("task.created", failure.ID, stage.NeedsAction)
}

// resurfaceFailure finishes an interrupted dead-letter: the request is
// flagged but its failure task never landed in Needs_Action.
func (o *Orchestrator) resurfaceFailure(req *record.Record) {
	id := req.Meta[metaFailureTask]
	if id == "" {
		return
	}
	if _, err := o.p.Store.Locate(id); err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return
	}
	failure := o.failureTask(req, errors.New("see dead-lettered request"), o.now())
	failure.ID = id
	if err := o.p.Store.Place(failure, stage.NeedsAction); err == nil {
		_ = o.p.Journal.Record(id, "", string(stage.NeedsAction), "execution failure surfaced", o.now())
		o.notify("task.created", id, stage.NeedsAction)
	}
}

func (o *Orchestrator) failureTask(req *record.Record, execErr error, now time.Time) *record.Record {
	body := fmt.Sprintf("Execution of approved action %s (%s) failed:\n\n> %s\n\n"+
		"The request is held in Approved as a dead letter and will not be retried without a fresh approval.\n",
		req.ID, req.Action, execErr.Error())
	return record.NewTask(record.SourceManual, record.PriorityHigh, map[string]string{
		"failure_of": req.ID,
		"action":     string(req.Action),
	}, body, now)
}

// reissueExpired supersedes pending approvals whose expiry has passed.
func (o *Orchestrator) reissueExpired() {
	entries, err := o.p.Store.List(stage.PendingApproval)
	if err != nil {
		o.p.Logger.Error("orchestrator: list pending failed", slog.String("error", err.Error()))
		return
	}
	now := o.now()
	for _, e := range entries {
		req, err := o.p.Store.Load(stage.PendingApproval, e.ID)
		if err != nil || req.Kind != record.KindApproval || !approval.Expired(req, now) {
			continue
		}
		succ, err := o.p.Gate.Reissue(req)
		if err != nil {
			o.p.Logger.Error("orchestrator: reissue failed",
				slog.String("id", req.ID), slog.String("error", err.Error()))
			continue
		}
		_ = o.p.Journal.Record(req.ID, string(stage.PendingApproval), string(stage.NeedsAction), "expired", now)
		o.notify("task.relocated", req.ID, stage.NeedsAction)
		if succ != nil {
			_ = o.p.Journal.Record(succ.ID, "", string(stage.PendingApproval), "reissued from "+req.ID, now)
			o.notify("approval.requested", succ.ID, stage.PendingApproval)
			o.p.Logger.Info("orchestrator: reissued expired approval",
				slog.String("expired", req.ID), slog.String("successor", succ.ID),
				slog.Int("reissues", succ.Reissues))
		}
	}
}

// acknowledgeRejected attaches the rejection outcome to the originating
// task. Rejection itself may happen out-of-band (a human moving the
// file), so this runs on observation, once per request.
func (o *Orchestrator) acknowledgeRejected() {
	entries, err := o.p.Store.List(stage.Rejected)
	if err != nil {
		o.p.Logger.Error("orchestrator: list rejected failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		req, err := o.p.Store.Load(stage.Rejected, e.ID)
		if err != nil || req.Kind != record.KindApproval || req.Meta[metaAcknowledged] == "true" {
			continue
		}
		now := o.now()
		if req.TaskID != "" {
			if st, err := o.p.Store.Locate(req.TaskID); err == nil && st != stage.Done {
				if task, err := o.p.Store.Load(st, req.TaskID); err == nil {
					task.AppendLog(now, "proposed action rejected: "+req.ID)
					_ = o.p.Store.Save(st, task)
				}
			}
		}
		if req.Meta == nil {
			req.Meta = make(map[string]string)
		}
		req.Meta[metaAcknowledged] = "true"
		if err := o.p.Store.Save(stage.Rejected, req); err != nil {
			o.p.Logger.Warn("orchestrator: acknowledge rejected failed",
				slog.String("id", req.ID), slog.String("error", err.Error()))
		}
	}
}

// advanceCompletedPlans relocates completed plans, and their
// originating tasks when still upstream, to Done. The plan engine only
// marks completion; relocation stays here so the orchestrator remains
// the single writer for stage moves.
func (o *Orchestrator) advanceCompletedPlans() {
	entries, err := o.p.Store.List(stage.Plans)
	if err != nil {
		o.p.Logger.Error("orchestrator: list plans failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		p, err := o.p.Store.Load(stage.Plans, e.ID)
		if err != nil || p.Kind != record.KindPlan || !plan.Completed(p) {
			continue
		}
		now := o.now()
		if err := o.p.Store.Relocate(p.ID, stage.Plans, stage.Done); err != nil {
			o.p.Logger.Warn("orchestrator: relocate plan failed",
				slog.String("id", p.ID), slog.String("error", err.Error()))
			continue
		}
		_ = o.p.Journal.Record(p.ID, string(stage.Plans), string(stage.Done), "plan completed", now)
		o.notify("task.relocated", p.ID, stage.Done)

		if p.TaskID == "" {
			continue
		}
		st, err := o.p.Store.Locate(p.TaskID)
		if err != nil || (st != stage.NeedsAction && st != stage.Plans) {
			continue
		}
		if err := o.p.Store.Relocate(p.TaskID, st, stage.Done); err != nil {
			o.p.Logger.Warn("orchestrator: relocate planned task failed",
				slog.String("id", p.TaskID), slog.String("error", err.Error()))
			continue
		}
		_ = o.p.Journal.Record(p.TaskID, string(st), string(stage.Done), "plan "+p.ID+" completed", now)
		o.notify("task.relocated", p.TaskID, stage.Done)
	}
}

// publishStatus recomputes the aggregate snapshot, rewrites the
// dashboard, and emits the daily briefing on the first pass of each day.
func (o *Orchestrator) publishStatus() {
	snap, err := o.p.Agg.Snapshot()
	if err != nil {
		o.p.Logger.Error("orchestrator: snapshot failed", slog.String("error", err.Error()))
		return
	}
	if err := o.p.Agg.WriteDashboard(snap); err != nil {
		o.p.Logger.Error("orchestrator: dashboard write failed", slog.String("error", err.Error()))
	}
	if o.p.Broker != nil {
		o.p.Broker.Publish(sse.Event{Type: "status.updated", Data: snap.Counts})
	}

	if !o.p.Briefings {
		return
	}
	day := o.now().Format("2006-01-02")
	if day == o.lastBriefing {
		return
	}
	if err := o.p.Agg.WriteBriefing(snap, o.p.Logger); err != nil {
		o.p.Logger.Error("orchestrator: briefing write failed", slog.String("error", err.Error()))
		return
	}
	o.lastBriefing = day
}

func (o *Orchestrator) notify(event, id string, st stage.Stage) {
	if o.p.Broker != nil {
		o.p.Broker.PublishRecordEvent(event, id, string(st))
	}
}
