package record

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestNewID_SortsByCreationTime(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	ids := []string{
		NewID("mail", base.Add(2*time.Hour)),
		NewID("mail", base),
		NewID("mail", base.Add(time.Hour)),
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	if sorted[0] != ids[1] || sorted[1] != ids[2] || sorted[2] != ids[0] {
		t.Errorf("ids did not sort by creation time: %v", sorted)
	}
}

func TestNewID_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID("manual", now)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewID_Format(t *testing.T) {
	at := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	id := NewID("filesystem", at)
	if !strings.HasPrefix(id, "20260115T093000_filesystem_") {
		t.Errorf("id = %q", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 || len(parts[2]) != 8 {
		t.Errorf("unexpected id shape: %q", id)
	}
}

func TestFilenameRoundTrip(t *testing.T) {
	id := "20260115T093000_mail_ab12cd34"
	if got := IDFromFilename(Filename(id)); got != id {
		t.Errorf("round trip = %q", got)
	}
}

func TestAppendLog_CreatesSectionOnce(t *testing.T) {
	r := &Record{Body: "Do the thing.\n"}
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	r.AppendLog(at, "first entry")
	r.AppendLog(at.Add(time.Minute), "second entry")

	if n := strings.Count(r.Body, "## Processing Log"); n != 1 {
		t.Errorf("heading count = %d, want 1", n)
	}
	if !strings.Contains(r.Body, "- [2026-01-15T10:00:00Z] first entry") {
		t.Errorf("missing first entry in %q", r.Body)
	}
	if !strings.Contains(r.Body, "- [2026-01-15T10:01:00Z] second entry") {
		t.Errorf("missing second entry in %q", r.Body)
	}
	if !strings.Contains(r.Body, "Do the thing.") {
		t.Errorf("original body lost: %q", r.Body)
	}
}

func TestAppendLog_EmptyBody(t *testing.T) {
	r := &Record{}
	r.AppendLog(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), "note")
	if !strings.HasPrefix(r.Body, "## Processing Log\n") {
		t.Errorf("body = %q", r.Body)
	}
}

func TestEncodeDecode_TaskRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	orig := &Record{
		ID:       "20260115T093000_mail_ab12cd34",
		Kind:     KindTask,
		Source:   SourceMail,
		Priority: PriorityHigh,
		Created:  created,
		Status:   StatusPending,
		Meta: map[string]string{
			"sender":  "ceo@example.com",
			"subject": "Invoice overdue",
		},
		Body: "Please handle this.\n",
	}

	got, err := Decode(orig.ID, Encode(orig))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindTask || got.Source != SourceMail || got.Priority != PriorityHigh {
		t.Errorf("header mismatch: %+v", got)
	}
	if !got.Created.Equal(created) {
		t.Errorf("created = %v, want %v", got.Created, created)
	}
	if got.Meta["sender"] != "ceo@example.com" || got.Meta["subject"] != "Invoice overdue" {
		t.Errorf("meta = %v", got.Meta)
	}
	if got.Body != orig.Body {
		t.Errorf("body = %q, want %q", got.Body, orig.Body)
	}
}

func TestEncodeDecode_ApprovalFields(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 31, 0, 0, time.UTC)
	orig := &Record{
		ID:         "20260115T093100_approval_11aa22bb",
		Kind:       KindApproval,
		Priority:   PriorityMedium,
		Created:    now,
		Status:     StatusPending,
		Action:     ActionSendMessage,
		Expires:    now.Add(24 * time.Hour),
		TaskID:     "20260115T093000_mail_ab12cd34",
		Supersedes: "20260114T093100_approval_00ff11ee",
		Reissues:   2,
		Body:       "Draft reply: we will pay by Friday.",
	}

	got, err := Decode(orig.ID, Encode(orig))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Action != ActionSendMessage {
		t.Errorf("action = %q", got.Action)
	}
	if !got.Expires.Equal(orig.Expires) {
		t.Errorf("expires = %v", got.Expires)
	}
	if got.TaskID != orig.TaskID || got.Supersedes != orig.Supersedes || got.Reissues != 2 {
		t.Errorf("linkage mismatch: %+v", got)
	}
}

func TestDecode_UnknownHeaderKeysPreserved(t *testing.T) {
	raw := []byte(`---
type: task
source: mail
priority: low
custom_field: custom value
another: "42"
---

body text
`)
	rec, err := Decode("some_id", raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Meta["custom_field"] != "custom value" {
		t.Errorf("meta = %v", rec.Meta)
	}
	if rec.Meta["another"] != "42" {
		t.Errorf("meta = %v", rec.Meta)
	}

	// Unknown keys survive a re-encode.
	again, err := Decode("some_id", Encode(rec))
	if err != nil {
		t.Fatalf("re-Decode: %v", err)
	}
	if again.Meta["custom_field"] != "custom value" || again.Meta["another"] != "42" {
		t.Errorf("meta lost on round trip: %v", again.Meta)
	}
}

func TestEncode_ReservedMetaKeysSkipped(t *testing.T) {
	// A meta key shadowing a header field must not produce a duplicate
	// YAML key, which would make the file undecodable.
	rec := &Record{
		ID:       "20260115T093000_mail_ab12cd34",
		Kind:     KindTask,
		Source:   SourceMail,
		Priority: PriorityHigh,
		Created:  time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
		Status:   StatusPending,
		Meta:     map[string]string{"type": "invoice", "sender": "ceo@example.com"},
		Body:     "Please handle this.\n",
	}
	data := Encode(rec)
	if n := strings.Count(string(data), "type:"); n != 1 {
		t.Fatalf("type appears %d times in the header:\n%s", n, data)
	}

	got, err := Decode(rec.ID, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != KindTask {
		t.Errorf("kind = %q, want task", got.Kind)
	}
	if got.Meta["sender"] != "ceo@example.com" {
		t.Errorf("meta = %v", got.Meta)
	}
	if _, ok := got.Meta["type"]; ok {
		t.Errorf("reserved meta key survived: %v", got.Meta)
	}
}

func TestReservedHeaderKey(t *testing.T) {
	for _, k := range []string{"type", "status", "expires", "task", "estimated_completion"} {
		if !ReservedHeaderKey(k) {
			t.Errorf("%q not reserved", k)
		}
	}
	if ReservedHeaderKey("sender") {
		t.Error("sender must be free for metadata")
	}
}

func TestDecode_NoFrontmatter(t *testing.T) {
	rec, err := Decode("id", []byte("just a body, no header\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Kind != KindTask {
		t.Errorf("kind = %q, want default task", rec.Kind)
	}
	if !strings.Contains(rec.Body, "just a body") {
		t.Errorf("body = %q", rec.Body)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	rec := &Record{
		ID:       "id",
		Kind:     KindTask,
		Source:   SourceManual,
		Priority: PriorityMedium,
		Created:  time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
		Status:   StatusPending,
		Meta:     map[string]string{"b": "2", "a": "1", "c": "3"},
		Body:     "x\n",
	}
	first := string(Encode(rec))
	for i := 0; i < 5; i++ {
		if got := string(Encode(rec)); got != first {
			t.Fatalf("encoding not deterministic:\n%s\nvs\n%s", first, got)
		}
	}
}

func TestEnums(t *testing.T) {
	if !SourceMail.Valid() || Source("carrier_pigeon").Valid() {
		t.Error("source validity wrong")
	}
	if !PriorityHigh.Valid() || Priority("urgent").Valid() {
		t.Error("priority validity wrong")
	}
	if !ActionSchedulePost.Valid() || ActionKind("delete_everything").Valid() {
		t.Error("action validity wrong")
	}
}
