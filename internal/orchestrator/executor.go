// Package orchestrator runs the scan-and-reconcile loop that advances
// records through the stage store and dispatches approved actions to
// external executors.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/mckinley/stagehand/internal/record"
)

// Executor performs one approved external action. The engine treats the
// call as opaque: it either succeeds or fails, with no
// partial-completion semantics.
type Executor interface {
	Execute(ctx context.Context, req *record.Record) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req *record.Record) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req *record.Record) error {
	return f(ctx, req)
}

// Registry maps action kinds to their executors.
type Registry struct {
	executors map[record.ActionKind]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[record.ActionKind]Executor)}
}

// Register binds an executor to an action kind, replacing any previous
// binding.
func (r *Registry) Register(kind record.ActionKind, ex Executor) {
	r.executors[kind] = ex
}

// Lookup returns the executor for an action kind.
func (r *Registry) Lookup(kind record.ActionKind) (Executor, bool) {
	ex, ok := r.executors[kind]
	return ex, ok
}

// NewLogRegistry returns a registry with a logging executor bound to
// every action kind. Used for local runs where no real transport is
// configured: the action is recorded, not sent anywhere.
func NewLogRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	for _, kind := range []record.ActionKind{
		record.ActionSendMessage,
		record.ActionCreatePost,
		record.ActionSchedulePost,
		record.ActionOther,
	} {
		kind := kind
		r.Register(kind, ExecutorFunc(func(_ context.Context, req *record.Record) error {
			logger.Info("executor: action executed (log only)",
				slog.String("id", req.ID),
				slog.String("action", string(kind)),
				slog.Int("payload_bytes", len(req.Body)))
			return nil
		}))
	}
	return r
}
