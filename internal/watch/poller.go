// Package watch implements the watcher adapters that feed new task
// records into Needs_Action: an fsnotify drop-folder watcher and a
// generic poll loop for mailbox/social-style feeds. Watchers only ever
// append new records; they never mutate a record after creation.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mckinley/stagehand/internal/apperr"
	"github.com/mckinley/stagehand/internal/record"
)

// Submitter accepts new task records. Satisfied by workflow.Service.
type Submitter interface {
	SubmitRecord(ctx context.Context, task *record.Record) error
}

// Item is one event produced by a feed poll.
type Item struct {
	Source   record.Source
	Priority record.Priority
	Meta     map[string]string
	Body     string
}

// Feed is a pollable external event source (mailbox, social feed).
// Implementations track their own cursor; returning an item twice is
// harmless because duplicate identities are rejected at submit.
type Feed interface {
	Name() string
	Poll(ctx context.Context) ([]Item, error)
}

// urgentKeywords escalate an item to high priority when they appear in
// its text.
var urgentKeywords = []string{
	"urgent", "asap", "invoice", "payment", "help", "emergency",
	"deadline", "important", "action required", "respond",
}

// DetectPriority classifies text by urgent keywords and returns the
// matched keywords for the record metadata.
func DetectPriority(text string) (record.Priority, []string) {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 {
		return record.PriorityHigh, matched
	}
	return record.PriorityMedium, nil
}

// RunFeed polls a feed on a fixed interval until ctx is cancelled,
// submitting each item as a task record. Poll failures are logged and
// retried on the next tick; they never stop the loop.
func RunFeed(ctx context.Context, feed Feed, interval time.Duration, sub Submitter, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("watch: feed started",
		slog.String("feed", feed.Name()),
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch: feed stopped", slog.String("feed", feed.Name()))
			return nil
		case <-ticker.C:
			poll(ctx, feed, sub, logger)
		}
	}
}

func poll(ctx context.Context, feed Feed, sub Submitter, logger *slog.Logger) {
	items, err := feed.Poll(ctx)
	if err != nil {
		logger.Error("watch: poll failed",
			slog.String("feed", feed.Name()),
			slog.String("error", err.Error()))
		return
	}
	if len(items) == 0 {
		return
	}
	logger.Info("watch: new items",
		slog.String("feed", feed.Name()),
		slog.Int("count", len(items)))

	for _, item := range items {
		task := taskFromItem(item)
		if err := sub.SubmitRecord(ctx, task); err != nil {
			if errors.Is(err, apperr.ErrDuplicateIdentity) {
				continue
			}
			logger.Error("watch: submit failed",
				slog.String("feed", feed.Name()),
				slog.String("id", task.ID),
				slog.String("error", err.Error()))
			continue
		}
		logger.Info("watch: task created",
			slog.String("feed", feed.Name()),
			slog.String("id", task.ID))
	}
}

func taskFromItem(item Item) *record.Record {
	priority := item.Priority
	meta := item.Meta
	if priority == "" {
		detected, matched := DetectPriority(item.Body)
		priority = detected
		if len(matched) > 0 {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta["keywords_matched"] = strings.Join(matched, ", ")
		}
	}
	source := item.Source
	if source == "" {
		source = record.SourceManual
	}
	return record.NewTask(source, priority, meta, item.Body, time.Now())
}
