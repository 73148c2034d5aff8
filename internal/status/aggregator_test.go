package status

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/storage"
	"github.com/mckinley/stagehand/internal/testutil"
)

func testAggregator(t *testing.T) (*Aggregator, *stage.Store, storage.Provider, *journal.DB) {
	t.Helper()
	_, fs := testutil.TestVault(t)
	store := stage.NewStore(fs)
	db := testutil.TestJournal(t)
	return NewAggregator(store, fs, db, 30*time.Minute, 3), store, fs, db
}

func TestSnapshot_Counts(t *testing.T) {
	a, store, _, _ := testAggregator(t)
	for i := 0; i < 2; i++ {
		task := record.NewTask(record.SourceManual, record.PriorityLow, nil, "x", time.Now())
		if err := store.Place(task, stage.NeedsAction); err != nil {
			t.Fatalf("Place: %v", err)
		}
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Counts[stage.NeedsAction] != 2 {
		t.Errorf("counts = %v", snap.Counts)
	}
	if snap.NearingExpiry == nil || snap.Alerts == nil || snap.Recent == nil {
		t.Error("snapshot slices must be non-nil for JSON consumers")
	}
}

func TestSnapshot_NearingExpiry(t *testing.T) {
	a, store, _, _ := testAggregator(t)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	place := func(expires time.Time) *record.Record {
		req := &record.Record{
			ID:      record.NewID("approval", expires.Add(-time.Hour)),
			Kind:    record.KindApproval,
			Created: now.Add(-time.Hour),
			Status:  record.StatusPending,
			Action:  record.ActionSendMessage,
			Expires: expires,
			Body:    "payload",
		}
		if err := store.Place(req, stage.PendingApproval); err != nil {
			t.Fatalf("Place: %v", err)
		}
		return req
	}

	soon := place(now.Add(10 * time.Minute))
	overdue := place(now.Add(-5 * time.Minute))
	place(now.Add(6 * time.Hour)) // comfortably in the future

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.NearingExpiry) != 2 {
		t.Fatalf("nearing = %+v, want 2 items", snap.NearingExpiry)
	}
	byID := map[string]ExpiryItem{}
	for _, item := range snap.NearingExpiry {
		byID[item.ID] = item
	}
	if item, ok := byID[soon.ID]; !ok || item.Overdue {
		t.Errorf("soon item = %+v", item)
	}
	if item, ok := byID[overdue.ID]; !ok || !item.Overdue {
		t.Errorf("overdue item = %+v", item)
	}
}

func TestSnapshot_ReissueAlert(t *testing.T) {
	a, store, _, _ := testAggregator(t)
	req := &record.Record{
		ID:       record.NewID("approval", time.Now()),
		Kind:     record.KindApproval,
		Created:  time.Now(),
		Status:   record.StatusPending,
		Action:   record.ActionSendMessage,
		Expires:  time.Now().Add(24 * time.Hour),
		Reissues: 3,
		Body:     "payload",
	}
	if err := store.Place(req, stage.PendingApproval); err != nil {
		t.Fatalf("Place: %v", err)
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	found := false
	for _, alert := range snap.Alerts {
		if strings.Contains(alert, req.ID) && strings.Contains(alert, "reissued 3 times") {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want reissue alert for %s", snap.Alerts, req.ID)
	}
}

func TestSnapshot_ReissueAlertUsesConfiguredThreshold(t *testing.T) {
	_, fs := testutil.TestVault(t)
	store := stage.NewStore(fs)
	db := testutil.TestJournal(t)
	a := NewAggregator(store, fs, db, 30*time.Minute, 2)

	place := func(reissues int) *record.Record {
		req := &record.Record{
			ID:       record.NewID("approval", time.Now().Add(time.Duration(-reissues)*time.Minute)),
			Kind:     record.KindApproval,
			Created:  time.Now(),
			Status:   record.StatusPending,
			Action:   record.ActionSendMessage,
			Expires:  time.Now().Add(24 * time.Hour),
			Reissues: reissues,
			Body:     "payload",
		}
		if err := store.Place(req, stage.PendingApproval); err != nil {
			t.Fatalf("Place: %v", err)
		}
		return req
	}
	below := place(1)
	at := place(2)

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, alert := range snap.Alerts {
		if strings.Contains(alert, below.ID) {
			t.Errorf("alert below threshold: %s", alert)
		}
	}
	found := false
	for _, alert := range snap.Alerts {
		if strings.Contains(alert, at.ID) {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want alert at threshold for %s", snap.Alerts, at.ID)
	}
}

func TestSnapshot_DeadLetterAlert(t *testing.T) {
	a, store, _, _ := testAggregator(t)
	req := &record.Record{
		ID:      record.NewID("approval", time.Now()),
		Kind:    record.KindApproval,
		Created: time.Now(),
		Status:  record.StatusExecutionFailed,
		Action:  record.ActionSendMessage,
		Body:    "payload",
	}
	if err := store.Place(req, stage.Approved); err != nil {
		t.Fatalf("Place: %v", err)
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	found := false
	for _, alert := range snap.Alerts {
		if strings.Contains(alert, "failed execution") {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want dead-letter alert", snap.Alerts)
	}
}

func TestWriteDashboard(t *testing.T) {
	a, store, fs, _ := testAggregator(t)
	task := record.NewTask(record.SourceMail, record.PriorityHigh, nil, "x", time.Now())
	if err := store.Place(task, stage.NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := a.WriteDashboard(snap); err != nil {
		t.Fatalf("WriteDashboard: %v", err)
	}
	data, err := fs.Read("Dashboard.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "# Stagehand Dashboard") {
		t.Errorf("dashboard header missing:\n%s", body)
	}
	if !strings.Contains(body, "- Pending Actions: 1") {
		t.Errorf("counts missing:\n%s", body)
	}
}

func TestWriteBriefing(t *testing.T) {
	a, _, fs, db := testAggregator(t)
	now := time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_ = db.Record("rec_a", "", string(stage.NeedsAction), "submitted", now.Add(-2*time.Hour))
	_ = db.Record("rec_a", string(stage.NeedsAction), string(stage.Done), "executed", now.Add(-time.Hour))

	snap, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := a.WriteBriefing(snap, slog.Default()); err != nil {
		t.Fatalf("WriteBriefing: %v", err)
	}
	data, err := fs.Read("Briefings/briefing_2026-01-15.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "New tasks detected: 1") {
		t.Errorf("submitted count wrong:\n%s", body)
	}
	if !strings.Contains(body, "Tasks completed: 1") {
		t.Errorf("completed count wrong:\n%s", body)
	}
}
