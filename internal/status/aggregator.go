// Package status derives read-only summaries from the stage store: the
// aggregate snapshot, the vault Dashboard.md, and daily briefings.
// Nothing here is ever a source of truth for record state.
package status

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mckinley/stagehand/internal/approval"
	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/storage"
)

// ExpiryItem is a pending approval close to (or past) its deadline.
type ExpiryItem struct {
	ID      string            `json:"id"`
	Action  record.ActionKind `json:"action"`
	Expires time.Time         `json:"expires"`
	Overdue bool              `json:"overdue"`
}

// Snapshot is the aggregate view of the stage store at one instant.
type Snapshot struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	Counts        map[stage.Stage]int  `json:"counts"`
	NearingExpiry []ExpiryItem         `json:"nearing_expiry"`
	Alerts        []string             `json:"alerts"`
	Recent        []journal.Transition `json:"recent_transitions"`
}

// Aggregator computes snapshots and writes the dashboard and briefing
// files. Safe to run at arbitrary frequency; it only reads task state.
type Aggregator struct {
	store         *stage.Store
	fs            storage.Provider
	log           journal.Log
	warnWindow    time.Duration
	escalateAfter int
	now           func() time.Time
}

// NewAggregator creates a status aggregator. warnWindow controls how
// far ahead of expiry a pending approval shows up in NearingExpiry;
// escalateAfter is the reissue count at which an alert is raised and
// must match the gate's escalation threshold.
func NewAggregator(store *stage.Store, fs storage.Provider, log journal.Log, warnWindow time.Duration, escalateAfter int) *Aggregator {
	if warnWindow <= 0 {
		warnWindow = 30 * time.Minute
	}
	if escalateAfter <= 0 {
		escalateAfter = 3
	}
	return &Aggregator{store: store, fs: fs, log: log, warnWindow: warnWindow, escalateAfter: escalateAfter, now: time.Now}
}

// Snapshot computes the aggregate view from current store contents.
func (a *Aggregator) Snapshot() (*Snapshot, error) {
	now := a.now()
	counts, err := a.store.Counts()
	if err != nil {
		return nil, fmt.Errorf("status: counts: %w", err)
	}

	snap := &Snapshot{
		GeneratedAt:   now,
		Counts:        counts,
		NearingExpiry: []ExpiryItem{},
		Alerts:        []string{},
	}

	pending, err := a.store.List(stage.PendingApproval)
	if err != nil {
		return nil, err
	}
	for _, e := range pending {
		req, err := a.store.Load(stage.PendingApproval, e.ID)
		if err != nil || req.Kind != record.KindApproval {
			continue
		}
		if req.Expires.IsZero() {
			continue
		}
		overdue := approval.Expired(req, now)
		if overdue || req.Expires.Sub(now) <= a.warnWindow {
			snap.NearingExpiry = append(snap.NearingExpiry, ExpiryItem{
				ID:      req.ID,
				Action:  req.Action,
				Expires: req.Expires,
				Overdue: overdue,
			})
		}
		if req.Reissues >= a.escalateAfter {
			snap.Alerts = append(snap.Alerts,
				fmt.Sprintf("approval %s reissued %d times without resolution", req.ID, req.Reissues))
		}
	}

	deadLettered := 0
	approved, err := a.store.List(stage.Approved)
	if err != nil {
		return nil, err
	}
	for _, e := range approved {
		rec, err := a.store.Load(stage.Approved, e.ID)
		if err == nil && rec.Status == record.StatusExecutionFailed {
			deadLettered++
		}
	}
	if deadLettered > 0 {
		snap.Alerts = append(snap.Alerts,
			fmt.Sprintf("%d failed execution(s) held in Approved awaiting attention", deadLettered))
	}

	recent, err := a.log.Recent(20)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []journal.Transition{}
	}
	snap.Recent = recent
	return snap, nil
}

// WriteDashboard regenerates Dashboard.md at the vault root.
func (a *Aggregator) WriteDashboard(snap *Snapshot) error {
	return a.fs.Write("Dashboard.md", renderDashboard(snap))
}

// WriteBriefing generates the daily briefing from journal history and
// the current snapshot, under Briefings/.
func (a *Aggregator) WriteBriefing(snap *Snapshot, logger *slog.Logger) error {
	now := a.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	since, err := a.log.Since(midnight)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("Briefings/briefing_%s.md", now.Format("2006-01-02"))
	if err := a.fs.Write(name, renderBriefing(now, snap, since)); err != nil {
		return err
	}
	logger.Info("status: briefing written", slog.String("path", name))
	return nil
}
