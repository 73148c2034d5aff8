package record

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved header keys. Anything else in the frontmatter lands in Meta
// and round-trips untouched.
const (
	keyType       = "type"
	keySource     = "source"
	keyPriority   = "priority"
	keyCreated    = "created"
	keyStatus     = "status"
	keyAction     = "action"
	keyExpires    = "expires"
	keyTask       = "task"
	keySupersedes = "supersedes"
	keyReissues   = "reissues"
	keyObjective  = "objective"
	keyTarget     = "estimated_completion"
)

var reservedKeys = map[string]struct{}{
	keyType: {}, keySource: {}, keyPriority: {}, keyCreated: {},
	keyStatus: {}, keyAction: {}, keyExpires: {}, keyTask: {},
	keySupersedes: {}, keyReissues: {}, keyObjective: {}, keyTarget: {},
}

// ReservedHeaderKey reports whether k names a structural header field.
// Metadata under a reserved key would produce a duplicate YAML key in
// the frontmatter and make the file undecodable, so Encode skips such
// keys and callers accepting external metadata must reject them.
func ReservedHeaderKey(k string) bool {
	_, ok := reservedKeys[k]
	return ok
}

// Encode renders a record as YAML frontmatter followed by the body.
// Header field order is deterministic so re-encoding an unchanged
// record produces identical bytes.
func Encode(r *Record) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	writeField(&b, keyType, string(r.Kind))
	if r.Source != "" {
		writeField(&b, keySource, string(r.Source))
	}
	if r.Action != "" {
		writeField(&b, keyAction, string(r.Action))
	}
	if r.Priority != "" {
		writeField(&b, keyPriority, string(r.Priority))
	}
	if !r.Created.IsZero() {
		writeField(&b, keyCreated, r.Created.UTC().Format(time.RFC3339))
	}
	if !r.Expires.IsZero() {
		writeField(&b, keyExpires, r.Expires.UTC().Format(time.RFC3339))
	}
	if !r.Target.IsZero() {
		writeField(&b, keyTarget, r.Target.UTC().Format(time.RFC3339))
	}
	if r.Objective != "" {
		writeField(&b, keyObjective, r.Objective)
	}
	if r.TaskID != "" {
		writeField(&b, keyTask, r.TaskID)
	}
	if r.Supersedes != "" {
		writeField(&b, keySupersedes, r.Supersedes)
	}
	if r.Reissues > 0 {
		writeField(&b, keyReissues, strconv.Itoa(r.Reissues))
	}
	if r.Status != "" {
		writeField(&b, keyStatus, r.Status)
	}

	keys := make([]string, 0, len(r.Meta))
	for k := range r.Meta {
		if ReservedHeaderKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&b, k, r.Meta[k])
	}

	b.WriteString("---\n")
	if r.Body != "" {
		b.WriteString("\n")
		b.WriteString(r.Body)
		if !strings.HasSuffix(r.Body, "\n") {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// Decode parses a record file. id comes from the file name, which is
// the identity's stable home; the header never stores it.
func Decode(id string, data []byte) (*Record, error) {
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("record: decode %s: %w", id, err)
	}

	r := &Record{ID: id, Body: body}
	for k, v := range header {
		s := stringify(v)
		switch k {
		case keyType:
			r.Kind = Kind(s)
		case keySource:
			r.Source = Source(s)
		case keyPriority:
			r.Priority = Priority(s)
		case keyCreated:
			r.Created = parseTime(s)
		case keyStatus:
			r.Status = s
		case keyAction:
			r.Action = ActionKind(s)
		case keyExpires:
			r.Expires = parseTime(s)
		case keyTask:
			r.TaskID = s
		case keySupersedes:
			r.Supersedes = s
		case keyReissues:
			r.Reissues, _ = strconv.Atoi(s)
		case keyObjective:
			r.Objective = s
		case keyTarget:
			r.Target = parseTime(s)
		default:
			if r.Meta == nil {
				r.Meta = make(map[string]string)
			}
			r.Meta[k] = s
		}
	}
	if r.Kind == "" {
		r.Kind = KindTask
	}
	return r, nil
}

// splitFrontmatter separates the YAML header (between leading ---
// delimiters) from the Markdown body.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var header map[string]any
	if err := yaml.Unmarshal(yamlBlock, &header); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return header, body, nil
}

// writeField emits one YAML key/value line with proper quoting.
func writeField(b *strings.Builder, key, value string) {
	out, err := yaml.Marshal(map[string]string{key: value})
	if err != nil {
		fmt.Fprintf(b, "%s: %q\n", key, value)
		return
	}
	b.Write(out)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
