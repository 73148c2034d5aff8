package stage

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return NewStore(fs)
}

func testTask(t *testing.T) *record.Record {
	t.Helper()
	return record.NewTask(record.SourceManual, record.PriorityMedium, nil, "test body\n", time.Now())
}

func TestPlaceAndGet(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	got, st, err := s.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st != NeedsAction {
		t.Errorf("stage = %s", st)
	}
	if got.Body != task.Body {
		t.Errorf("body = %q", got.Body)
	}
}

func TestPlace_DuplicateIdentityRejected(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	// Same identity in any stage is a duplicate.
	err := s.Place(task, Done)
	if !errors.Is(err, apperr.ErrDuplicateIdentity) {
		t.Errorf("err = %v, want ErrDuplicateIdentity", err)
	}
}

func TestPlace_UnknownStage(t *testing.T) {
	s := testStore(t)
	if err := s.Place(testTask(t), Stage("Limbo")); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestSave_RequiresExistingRecord(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	err := s.Save(NeedsAction, task)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	task.AppendLog(time.Now(), "updated")
	if err := s.Save(NeedsAction, task); err != nil {
		t.Errorf("Save after place: %v", err)
	}
}

func TestLocate_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Locate("20260101T000000_manual_deadbeef")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRelocate_MovesRecord(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	st, err := s.Locate(task.ID)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if st != Done {
		t.Errorf("stage = %s, want Done", st)
	}
	// Source copy is gone.
	if _, err := s.Load(NeedsAction, task.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("source still readable: %v", err)
	}
}

func TestRelocate_Idempotent(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Fatalf("first Relocate: %v", err)
	}
	// Repeating the same relocation converges, no error.
	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Errorf("repeat Relocate: %v", err)
	}
}

func TestRelocate_AbsentFromSource(t *testing.T) {
	s := testStore(t)
	err := s.Relocate("20260101T000000_manual_deadbeef", NeedsAction, Done)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRelocate_SameStageNoop(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Relocate(task.ID, NeedsAction, NeedsAction); err != nil {
		t.Errorf("same-stage relocate: %v", err)
	}
}

func TestRelocate_RefreshesAdvisoryStatus(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	got, err := s.Load(Done, task.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != record.StatusDone {
		t.Errorf("status = %q, want %q", got.Status, record.StatusDone)
	}
}

func TestRelocate_PreservesDeadLetterStatus(t *testing.T) {
	s := testStore(t)
	req := testTask(t)
	req.Status = record.StatusExecutionFailed
	if err := s.Place(req, Approved); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := s.Relocate(req.ID, Approved, Done); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	got, err := s.Load(Done, req.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != record.StatusExecutionFailed {
		t.Errorf("status = %q, dead-letter flag must survive relocation", got.Status)
	}
}

func TestRelocate_FinishesInterruptedMove(t *testing.T) {
	// Simulate a crash between write-new and remove-old: the record
	// exists in both stages. Relocate must converge to the destination.
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	s := NewStore(fs)
	task := testTask(t)
	data := record.Encode(task)
	if err := fs.Write("Needs_Action/"+record.Filename(task.ID), data); err != nil {
		t.Fatal(err)
	}
	if err := fs.Write("Done/"+record.Filename(task.ID), data); err != nil {
		t.Fatal(err)
	}

	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if ok, _ := fs.Exists("Needs_Action/" + record.Filename(task.ID)); ok {
		t.Error("lingering source copy not removed")
	}
	if ok, _ := fs.Exists("Done/" + record.Filename(task.ID)); !ok {
		t.Error("destination copy missing")
	}
}

func TestReconcile_KeepsMostDownstreamCopy(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	s := NewStore(fs)
	task := testTask(t)
	data := record.Encode(task)
	for _, st := range []Stage{NeedsAction, PendingApproval, Done} {
		if err := fs.Write(string(st)+"/"+record.Filename(task.ID), data); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.Reconcile(slog.Default())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	st, err := s.Locate(task.ID)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if st != Done {
		t.Errorf("kept stage = %s, want Done", st)
	}
}

func TestReconcile_NoDuplicatesNoop(t *testing.T) {
	s := testStore(t)
	if err := s.Place(testTask(t), NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	removed, err := s.Reconcile(slog.Default())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestList_SnapshotUnaffectedByLaterMoves(t *testing.T) {
	s := testStore(t)
	task := testTask(t)
	if err := s.Place(task, NeedsAction); err != nil {
		t.Fatalf("Place: %v", err)
	}
	entries, err := s.List(NeedsAction)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != task.ID {
		t.Fatalf("entries = %v", entries)
	}
	if err := s.Relocate(task.ID, NeedsAction, Done); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	// The snapshot slice is untouched by the relocation.
	if len(entries) != 1 || entries[0].ID != task.ID {
		t.Errorf("snapshot mutated: %v", entries)
	}
}

func TestCounts(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Place(testTask(t), NeedsAction); err != nil {
			t.Fatalf("Place: %v", err)
		}
	}
	if err := s.Place(testTask(t), Done); err != nil {
		t.Fatalf("Place: %v", err)
	}
	counts, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[NeedsAction] != 3 || counts[Done] != 1 || counts[Plans] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStageRankOrdering(t *testing.T) {
	if NeedsAction.Rank() >= PendingApproval.Rank() {
		t.Error("Needs_Action must rank below Pending_Approval")
	}
	if Approved.Rank() != Rejected.Rank() {
		t.Error("Approved and Rejected share a rank")
	}
	if Done.Rank() <= Approved.Rank() {
		t.Error("Done must rank above Approved")
	}
	if Stage("Limbo").Rank() != -1 {
		t.Error("unknown stage rank")
	}
}
