// Package testutil provides shared test helpers for setting up vaults and journals.
package testutil

import (
	"os"
	"testing"

	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/storage"
)

// TestJournal creates a temporary SQLite journal that is automatically cleaned up.
func TestJournal(t *testing.T) *journal.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "stagehand-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// TestStore creates a stage store over a temporary vault.
func TestStore(t *testing.T) (string, *stage.Store) {
	t.Helper()
	vaultDir, fs := TestVault(t)
	return vaultDir, stage.NewStore(fs)
}
