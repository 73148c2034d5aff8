package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/record"
)

// Inbox watches a drop folder and turns new files into task records.
// The ingest ledger keys on content checksum, so restarts and duplicate
// fsnotify events do not re-submit the same file.
type Inbox struct {
	dir    string
	sub    Submitter
	ledger journal.Log
	logger *slog.Logger

	// settle is how long to wait after a create event before reading,
	// giving the writing process time to finish.
	settle time.Duration
}

// NewInbox creates an inbox watcher for dir (absolute path).
func NewInbox(dir string, sub Submitter, ledger journal.Log, logger *slog.Logger) *Inbox {
	return &Inbox{dir: dir, sub: sub, ledger: ledger, logger: logger, settle: 500 * time.Millisecond}
}

// Run processes the drop folder until ctx is cancelled. Files already
// present at startup are ingested first, so nothing dropped while the
// watcher was down is missed.
func (in *Inbox) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: inbox: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("watch: inbox add %s: %w", in.dir, err)
	}
	in.logger.Info("watch: inbox started", slog.String("dir", in.dir))

	in.scanExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			in.logger.Info("watch: inbox stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !in.eligible(ev.Name) {
				continue
			}
			// Give the writer time to finish before reading.
			select {
			case <-time.After(in.settle):
			case <-ctx.Done():
				return nil
			}
			in.ingest(ctx, ev.Name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("watch: inbox error", slog.String("error", watchErr.Error()))
		}
	}
}

func (in *Inbox) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("watch: inbox initial scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(in.dir, e.Name())
		if in.eligible(p) {
			in.ingest(ctx, p)
		}
	}
}

// eligible skips directories, hidden files, and editor temp files.
func (in *Inbox) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (in *Inbox) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		in.logger.Warn("watch: inbox read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	seen, err := in.ledger.Seen(checksum)
	if err != nil {
		in.logger.Warn("watch: ledger lookup failed", slog.String("error", err.Error()))
		return
	}
	if seen {
		return
	}

	name := filepath.Base(path)
	priority, matched := DetectPriority(name + "\n" + string(data))
	meta := map[string]string{
		"original_name":  name,
		"file_path":      path,
		"size_bytes":     fmt.Sprintf("%d", len(data)),
		"file_extension": filepath.Ext(name),
	}
	if len(matched) > 0 {
		meta["keywords_matched"] = strings.Join(matched, ", ")
	}

	body := fmt.Sprintf("## New File Detected\n\n"+
		"A new file was dropped in the inbox and needs processing.\n\n"+
		"### File Details\n"+
		"- **Name**: %s\n"+
		"- **Size**: %d bytes\n"+
		"- **Location**: %s\n",
		name, len(data), path)

	task := record.NewTask(record.SourceFilesystem, priority, meta, body, time.Now())
	if err := in.sub.SubmitRecord(ctx, task); err != nil {
		if !errors.Is(err, apperr.ErrDuplicateIdentity) {
			in.logger.Error("watch: inbox submit failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	if err := in.ledger.MarkSeen(checksum, name, time.Now()); err != nil {
		in.logger.Warn("watch: mark seen failed", slog.String("error", err.Error()))
	}
	in.logger.Info("watch: inbox task created",
		slog.String("id", task.ID), slog.String("file", name))
}
