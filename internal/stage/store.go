package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
	"github.com/mckinley/stagehand/internal/storage"
)

// Entry is one row of a stage listing snapshot.
type Entry struct {
	ID      string
	Stage   Stage
	ModTime time.Time
}

// Store is the stage store over a vault storage provider.
//
// The mutex only serialises compound operations within this process.
// Correctness against other processes (watchers appending, a human
// moving files, a second orchestrator) comes from the operation
// contracts instead: Place fails on duplicate identities, Relocate is
// idempotent and writes the new location before removing the old one,
// and Reconcile repairs any duplication a crash leaves behind.
type Store struct {
	fs storage.Provider
	mu sync.Mutex
}

// NewStore creates a stage store over the given provider.
func NewStore(fs storage.Provider) *Store {
	return &Store{fs: fs}
}

func path(st Stage, id string) string {
	return filepath.Join(string(st), record.Filename(id))
}

// Place inserts a record into a stage. It fails with
// apperr.ErrDuplicateIdentity if the identity already exists in any
// stage collection.
func (s *Store) Place(rec *record.Record, st Stage) error {
	if !st.Valid() {
		return fmt.Errorf("stage: place: unknown stage %q", st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.locate(rec.ID); err == nil {
		return fmt.Errorf("stage: place %s: %w", rec.ID, apperr.ErrDuplicateIdentity)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return s.fs.Write(path(st, rec.ID), record.Encode(rec))
}

// Save overwrites a record in the stage that currently holds it, for
// in-place mutations such as appended log entries or plan step updates.
func (s *Store) Save(st Stage, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.fs.Exists(path(st, rec.ID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stage: save %s in %s: %w", rec.ID, st, apperr.ErrNotFound)
	}
	return s.fs.Write(path(st, rec.ID), record.Encode(rec))
}

// Load reads and decodes a record from a specific stage.
func (s *Store) Load(st Stage, id string) (*record.Record, error) {
	data, err := s.fs.Read(path(st, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stage: load %s from %s: %w", id, st, apperr.ErrNotFound)
		}
		return nil, err
	}
	return record.Decode(id, data)
}

// List returns a point-in-time snapshot of the identities in a stage,
// in arrival order (identities sort by creation timestamp). Relocations
// after the call do not affect the returned slice.
func (s *Store) List(st Stage) ([]Entry, error) {
	infos, err := s.fs.List(string(st))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, Entry{
			ID:      record.IDFromFilename(info.Name),
			Stage:   st,
			ModTime: info.ModTime,
		})
	}
	return out, nil
}

// Locate returns the stage currently holding an identity, or
// apperr.ErrNotFound. If a crash has left the identity duplicated the
// most-downstream copy is reported, matching what reconciliation will
// keep.
func (s *Store) Locate(id string) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locate(id)
}

func (s *Store) locate(id string) (Stage, error) {
	found := Stage("")
	for _, st := range All() {
		ok, err := s.fs.Exists(path(st, id))
		if err != nil {
			return "", err
		}
		if ok && (found == "" || st.Rank() > found.Rank()) {
			found = st
		}
	}
	if found == "" {
		return "", fmt.Errorf("stage: locate %s: %w", id, apperr.ErrNotFound)
	}
	return found, nil
}

// Get locates an identity and loads its record.
func (s *Store) Get(id string) (*record.Record, Stage, error) {
	st, err := s.Locate(id)
	if err != nil {
		return nil, "", err
	}
	rec, err := s.Load(st, id)
	if err != nil {
		return nil, "", err
	}
	return rec, st, nil
}

// Relocate atomically moves an identity between stages.
//
// The move is implemented as write-new-then-remove-old, never the
// reverse: a crash in between leaves the record duplicated, which
// Reconcile detects and repairs, rather than lost. It fails with
// apperr.ErrNotFound if the identity is absent from the source stage,
// and is a no-op success if already present at the destination, so a
// retried or concurrently repeated relocation converges to one outcome.
func (s *Store) Relocate(id string, from, to Stage) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("stage: relocate: unknown stage %q -> %q", from, to)
	}
	if from == to {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	srcPath := path(from, id)
	dstPath := path(to, id)

	atDst, err := s.fs.Exists(dstPath)
	if err != nil {
		return err
	}
	if atDst {
		// Already relocated; finish removing a lingering source copy
		// left by an interrupted earlier attempt.
		if atSrc, err := s.fs.Exists(srcPath); err == nil && atSrc {
			s.removeQuiet(srcPath)
		}
		return nil
	}

	data, err := s.fs.Read(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stage: relocate %s from %s: %w", id, from, apperr.ErrNotFound)
		}
		return err
	}

	// Refresh the advisory status header to mirror the new location.
	// A record that cannot be decoded is moved byte-for-byte instead;
	// relocation must not drop data on malformed input.
	if rec, decErr := record.Decode(id, data); decErr == nil {
		if next := advisoryStatus(to, rec.Status); next != "" {
			rec.Status = next
		}
		data = record.Encode(rec)
	}

	if err := s.fs.Write(dstPath, data); err != nil {
		return err
	}
	s.removeQuiet(srcPath)
	return nil
}

// removeQuiet deletes a path, tolerating a file already gone.
func (s *Store) removeQuiet(p string) {
	if err := s.fs.Delete(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("stage: remove old copy failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// advisoryStatus maps a destination stage to the display status stored
// in the record header. Dead-letter and plan statuses are preserved.
func advisoryStatus(to Stage, current string) string {
	if current == record.StatusExecutionFailed {
		return ""
	}
	switch to {
	case NeedsAction:
		return record.StatusPending
	case Plans:
		return record.StatusInProgress
	case PendingApproval:
		return record.StatusPending
	case Approved:
		return record.StatusApproved
	case Rejected:
		return record.StatusRejected
	case Done:
		if current == record.StatusCompleted || current == record.StatusBlocked {
			return ""
		}
		return record.StatusDone
	}
	return ""
}

// Reconcile scans every stage and resolves identities present in more
// than one collection, keeping the most-downstream copy. It returns the
// number of duplicates removed. Run at orchestrator startup and at the
// top of every pass.
func (s *Store) Reconcile(logger *slog.Logger) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string][]Stage)
	for _, st := range All() {
		infos, err := s.fs.List(string(st))
		if err != nil {
			return 0, err
		}
		for _, info := range infos {
			id := record.IDFromFilename(info.Name)
			seen[id] = append(seen[id], st)
		}
	}

	removed := 0
	for id, stages := range seen {
		if len(stages) < 2 {
			continue
		}
		keep := stages[0]
		for _, st := range stages[1:] {
			if st.Rank() > keep.Rank() {
				keep = st
			}
		}
		for _, st := range stages {
			if st == keep {
				continue
			}
			s.removeQuiet(path(st, id))
			removed++
			logger.Warn("stage: resolved duplicate identity",
				slog.String("id", id),
				slog.String("kept", string(keep)),
				slog.String("removed", string(st)))
		}
	}
	return removed, nil
}

// Counts returns the number of records in each stage.
func (s *Store) Counts() (map[Stage]int, error) {
	out := make(map[Stage]int, len(All()))
	for _, st := range All() {
		infos, err := s.fs.List(string(st))
		if err != nil {
			return nil, err
		}
		out[st] = len(infos)
	}
	return out, nil
}
