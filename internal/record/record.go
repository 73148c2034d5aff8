// Package record defines the workflow record types and their Markdown wire format.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the record variants sharing the stage store.
type Kind string

const (
	KindTask     Kind = "task"
	KindApproval Kind = "approval_request"
	KindPlan     Kind = "action_plan"
)

// Source identifies the watcher adapter that produced a task.
type Source string

const (
	SourceFilesystem Source = "filesystem"
	SourceMail       Source = "mail"
	SourceSocial     Source = "social"
	SourceManual     Source = "manual"
)

// Valid reports whether s is a known source kind.
func (s Source) Valid() bool {
	switch s {
	case SourceFilesystem, SourceMail, SourceSocial, SourceManual:
		return true
	}
	return false
}

// Priority is the triage level of a record.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ActionKind classifies the externally visible action an approval gates.
type ActionKind string

const (
	ActionSendMessage  ActionKind = "send_message"
	ActionCreatePost   ActionKind = "create_post"
	ActionSchedulePost ActionKind = "schedule_post"
	ActionOther        ActionKind = "other"
)

// Valid reports whether a is a known action kind.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionSendMessage, ActionCreatePost, ActionSchedulePost, ActionOther:
		return true
	}
	return false
}

// Advisory status values. The status header is display-only; the
// authoritative state of a record is the stage collection holding it.
const (
	StatusPending         = "pending"
	StatusInProgress      = "in_progress"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusExpired         = "expired"
	StatusCompleted       = "completed"
	StatusBlocked         = "blocked"
	StatusDone            = "done"
	StatusExecutionFailed = "execution_failed"
)

// Record is the single tagged-variant unit of work moved through the
// stage store. Task, approval-request, and plan variants share the
// struct; fields that do not apply to a variant stay zero and are
// omitted from the encoded header.
type Record struct {
	ID       string
	Kind     Kind
	Source   Source
	Priority Priority
	Created  time.Time
	Status   string

	// Approval request fields.
	Action     ActionKind
	Expires    time.Time
	TaskID     string
	Supersedes string
	Reissues   int

	// Plan fields.
	Objective string
	Target    time.Time

	// Meta holds free-form header fields (sender, subject, matched
	// keywords, ...). Preserved verbatim through encode/decode so
	// relocation never loses watcher-provided context.
	Meta map[string]string

	// Body is the free-text Markdown content. For approval requests it
	// carries the opaque action payload.
	Body string
}

// NewID builds a sortable, globally unique identity:
// UTC timestamp, source tag, short random suffix.
func NewID(tag string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", t.UTC().Format("20060102T150405"), tag, suffix)
}

// NewTask creates a task record with a fresh identity.
func NewTask(source Source, priority Priority, meta map[string]string, body string, now time.Time) *Record {
	return &Record{
		ID:       NewID(string(source), now),
		Kind:     KindTask,
		Source:   source,
		Priority: priority,
		Created:  now,
		Status:   StatusPending,
		Meta:     meta,
		Body:     body,
	}
}

// Filename returns the stage-store file name for an identity.
func Filename(id string) string {
	return id + ".md"
}

// IDFromFilename strips the .md suffix from a stage-store file name.
func IDFromFilename(name string) string {
	return strings.TrimSuffix(name, ".md")
}

// AppendLog appends a timestamped entry to the record's processing log
// section, creating the section on first use.
func (r *Record) AppendLog(now time.Time, msg string) {
	const heading = "## Processing Log"
	entry := fmt.Sprintf("- [%s] %s", now.UTC().Format(time.RFC3339), msg)
	if !strings.Contains(r.Body, heading) {
		r.Body = strings.TrimRight(r.Body, "\n")
		if r.Body != "" {
			r.Body += "\n\n"
		}
		r.Body += heading + "\n"
	}
	r.Body = strings.TrimRight(r.Body, "\n") + "\n" + entry + "\n"
}
