package mcpserver

// RecordFormatContract is the canonical record format served to MCP
// clients so generated records parse and round-trip cleanly.
const RecordFormatContract = `# Stagehand Record Format

Every record is a Markdown file with YAML frontmatter. The file name is
the record identity and never changes; the directory holding the file is
the record's authoritative state.

## Task record

` + "```markdown" + `
---
type: task
source: mail            # filesystem | mail | social | manual
priority: high          # high | medium | low
created: 2026-01-15T09:30:00Z
status: pending         # advisory; the stage directory is authoritative
sender: ceo@example.com # free-form metadata fields are preserved
subject: Invoice overdue
---

Free-text body describing the work.
` + "```" + `

## Approval request

` + "```markdown" + `
---
type: approval_request
action: send_message    # send_message | create_post | schedule_post | other
priority: high
created: 2026-01-15T09:31:00Z
expires: 2026-01-16T09:31:00Z
task: 20260115T093000_mail_ab12cd34
status: pending
---

The opaque action payload goes in the body.
` + "```" + `

## Action plan

` + "```markdown" + `
---
type: action_plan
priority: medium
created: 2026-01-15T09:32:00Z
estimated_completion: 2026-01-17T00:00:00Z
objective: Respond to overdue invoice
task: 20260115T093000_mail_ab12cd34
status: in_progress     # in_progress | completed | blocked
---

## Objective
Respond to overdue invoice

## Steps
- [ ] Draft reply
- [ ] Attach corrected invoice
- [x] Confirm amount with accounting
` + "```" + `

## Rules

- Record identities are assigned by the engine; never invent one.
- Timestamps are RFC3339 UTC.
- The status header is display-only. To change a record's state,
  resolve it through the approve/reject tools; the engine relocates the
  file.
- A plan is completed only when every checklist step is checked.
`
