package journal

import (
	"os"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "stagehand-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	if err := db.Record("rec_a", "", "Needs_Action", "submitted", base); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := db.Record("rec_a", "Needs_Action", "Pending_Approval", "", base.Add(time.Minute)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Most recent first.
	if got[0].ToStage != "Pending_Approval" || got[1].ToStage != "Needs_Action" {
		t.Errorf("order wrong: %+v", got)
	}
	if got[1].Note != "submitted" {
		t.Errorf("note = %q", got[1].Note)
	}
}

func TestRecent_Limit(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := db.Record("rec", "", "Done", "", now); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := db.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestSince(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	_ = db.Record("old", "", "Done", "", base.Add(-24*time.Hour))
	_ = db.Record("new_1", "", "Needs_Action", "", base)
	_ = db.Record("new_2", "Needs_Action", "Done", "", base.Add(time.Hour))

	got, err := db.Since(base)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Oldest first.
	if got[0].RecordID != "new_1" || got[1].RecordID != "new_2" {
		t.Errorf("order wrong: %+v", got)
	}
}

func TestSeenMarkSeen(t *testing.T) {
	db := testDB(t)

	seen, err := db.Seen("abc123")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("unknown checksum reported seen")
	}

	if err := db.MarkSeen("abc123", "invoice.pdf", time.Now()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	seen, err = db.Seen("abc123")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Error("marked checksum not reported seen")
	}

	// Marking again is a no-op, not an error.
	if err := db.MarkSeen("abc123", "invoice.pdf", time.Now()); err != nil {
		t.Errorf("repeat MarkSeen: %v", err)
	}
}
