// Package plan implements the plan engine: structured multi-step plans
// linked to an originating task, with step-level completion tracking.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
)

// Step is one checklist item of a plan body.
type Step struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Engine creates and advances plan records. It never relocates the
// originating task; stage relocation stays with the orchestrator.
type Engine struct {
	store *stage.Store
	now   func() time.Time
}

// NewEngine creates a plan engine over the stage store.
func NewEngine(store *stage.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// CreatePlan builds a plan record linked to the task and places it in
// the Plans collection. It fails with apperr.ErrInvalidPlan when steps
// is empty. The task itself is not moved: a task may hold a plan and
// sit in Pending_Approval at the same time.
func (e *Engine) CreatePlan(task *record.Record, objective string, steps []string, target time.Time) (*record.Record, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan: create for %s: %w", task.ID, apperr.ErrInvalidPlan)
	}
	if strings.TrimSpace(objective) == "" {
		return nil, fmt.Errorf("plan: create for %s: empty objective: %w", task.ID, apperr.ErrInvalidPlan)
	}

	now := e.now()
	p := &record.Record{
		ID:        record.NewID("plan", now),
		Kind:      record.KindPlan,
		Priority:  task.Priority,
		Created:   now,
		Status:    record.StatusInProgress,
		TaskID:    task.ID,
		Objective: objective,
		Target:    target,
	}
	items := make([]Step, len(steps))
	for i, s := range steps {
		items[i] = Step{Description: s}
	}
	p.Body = renderBody(objective, items)

	if err := e.store.Place(p, stage.Plans); err != nil {
		return nil, err
	}
	return p, nil
}

// AdvanceStep marks one step of a plan complete. It fails with
// apperr.ErrOutOfRange on a bad index and is a no-op on an already
// complete step. When the last open step completes, the plan status
// becomes completed; the orchestrator picks that up on its next pass.
func (e *Engine) AdvanceStep(planID string, index int) (*record.Record, error) {
	p, err := e.store.Load(stage.Plans, planID)
	if err != nil {
		return nil, err
	}
	steps := Steps(p)
	if index < 0 || index >= len(steps) {
		return nil, fmt.Errorf("plan: advance %s step %d of %d: %w",
			planID, index, len(steps), apperr.ErrOutOfRange)
	}
	if steps[index].Done {
		return p, nil
	}
	steps[index].Done = true
	log := trailingLog(p.Body)
	p.Body = renderBody(p.Objective, steps) + log
	if Completed(p) {
		p.Status = record.StatusCompleted
		p.AppendLog(e.now(), "all steps complete")
	}
	if err := e.store.Save(stage.Plans, p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarkBlocked flags a plan as blocked with a reason. Plans are never
// deleted; blocked is the only other terminal classification.
func (e *Engine) MarkBlocked(planID, reason string) (*record.Record, error) {
	p, err := e.store.Load(stage.Plans, planID)
	if err != nil {
		return nil, err
	}
	p.Status = record.StatusBlocked
	p.AppendLog(e.now(), "blocked: "+reason)
	if err := e.store.Save(stage.Plans, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Steps parses the checklist items out of a plan body.
func Steps(p *record.Record) []Step {
	var out []Step
	for _, line := range strings.Split(p.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- [ ] "):
			out = append(out, Step{Description: strings.TrimPrefix(trimmed, "- [ ] ")})
		case strings.HasPrefix(trimmed, "- [x] "):
			out = append(out, Step{Description: strings.TrimPrefix(trimmed, "- [x] "), Done: true})
		}
	}
	return out
}

// Completed reports whether every step of the plan is done. A plan with
// no parseable steps is never complete.
func Completed(p *record.Record) bool {
	steps := Steps(p)
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.Done {
			return false
		}
	}
	return true
}

// trailingLog returns the processing-log section of a body, so body
// rebuilds do not erase history appended by the orchestrator.
func trailingLog(body string) string {
	const heading = "## Processing Log"
	if idx := strings.Index(body, heading); idx >= 0 {
		return "\n" + strings.TrimRight(body[idx:], "\n") + "\n"
	}
	return ""
}

// renderBody rebuilds the canonical plan body from its objective and steps.
func renderBody(objective string, steps []Step) string {
	var b strings.Builder
	b.WriteString("## Objective\n")
	b.WriteString(objective)
	b.WriteString("\n\n## Steps\n")
	for _, s := range steps {
		mark := " "
		if s.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, s.Description)
	}
	return b.String()
}
