package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/stage"
)

// renderDashboard produces the Dashboard.md contents from a snapshot.
func renderDashboard(snap *Snapshot) []byte {
	var b strings.Builder

	b.WriteString("# Stagehand Dashboard\n\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "last_updated: %s\n", snap.GeneratedAt.UTC().Format(time.RFC3339))
	b.WriteString("status: active\n")
	b.WriteString("---\n\n")

	b.WriteString("## Today's Summary\n")
	fmt.Fprintf(&b, "- Pending Actions: %d\n", snap.Counts[stage.NeedsAction])
	fmt.Fprintf(&b, "- Active Plans: %d\n", snap.Counts[stage.Plans])
	fmt.Fprintf(&b, "- Awaiting Approval: %d\n", snap.Counts[stage.PendingApproval])
	fmt.Fprintf(&b, "- Completed Tasks: %d\n\n", snap.Counts[stage.Done])

	b.WriteString("## Stage Counts\n")
	b.WriteString("| Stage | Count |\n|-------|-------|\n")
	for _, st := range stage.All() {
		fmt.Fprintf(&b, "| %s | %d |\n", st, snap.Counts[st])
	}
	b.WriteString("\n")

	b.WriteString("## Approvals Nearing Expiry\n")
	if len(snap.NearingExpiry) == 0 {
		b.WriteString("*None*\n\n")
	} else {
		b.WriteString("| Request | Action | Expires | Overdue |\n|---------|--------|---------|---------|\n")
		for _, item := range snap.NearingExpiry {
			fmt.Fprintf(&b, "| %s | %s | %s | %v |\n",
				item.ID, item.Action, item.Expires.UTC().Format(time.RFC3339), item.Overdue)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Alerts\n")
	if len(snap.Alerts) == 0 {
		b.WriteString("*No alerts*\n\n")
	} else {
		for _, alert := range snap.Alerts {
			fmt.Fprintf(&b, "- %s\n", alert)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Transitions\n")
	if len(snap.Recent) == 0 {
		b.WriteString("*None yet*\n")
	} else {
		for _, tr := range snap.Recent {
			from := tr.FromStage
			if from == "" {
				from = "(new)"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s -> %s", tr.At.UTC().Format(time.RFC3339), tr.RecordID, from, tr.ToStage)
			if tr.Note != "" {
				fmt.Fprintf(&b, " (%s)", tr.Note)
			}
			b.WriteString("\n")
		}
	}

	return []byte(b.String())
}

// renderBriefing produces the daily briefing body.
func renderBriefing(now time.Time, snap *Snapshot, today []journal.Transition) []byte {
	completed := 0
	approved := 0
	rejected := 0
	submitted := 0
	for _, tr := range today {
		switch {
		case tr.ToStage == string(stage.Done):
			completed++
		case tr.ToStage == string(stage.Approved):
			approved++
		case tr.ToStage == string(stage.Rejected):
			rejected++
		case tr.FromStage == "" && tr.ToStage == string(stage.NeedsAction):
			submitted++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Briefing: %s\n\n", now.Format("2006-01-02"))
	b.WriteString("## Activity Today\n")
	fmt.Fprintf(&b, "- New tasks detected: %d\n", submitted)
	fmt.Fprintf(&b, "- Tasks completed: %d\n", completed)
	fmt.Fprintf(&b, "- Actions approved: %d\n", approved)
	fmt.Fprintf(&b, "- Actions rejected: %d\n\n", rejected)

	b.WriteString("## Outstanding\n")
	fmt.Fprintf(&b, "- Needs action: %d\n", snap.Counts[stage.NeedsAction])
	fmt.Fprintf(&b, "- Awaiting approval: %d\n", snap.Counts[stage.PendingApproval])
	fmt.Fprintf(&b, "- Active plans: %d\n\n", snap.Counts[stage.Plans])

	b.WriteString("## Alerts\n")
	if len(snap.Alerts) == 0 {
		b.WriteString("*No alerts*\n")
	} else {
		for _, alert := range snap.Alerts {
			fmt.Fprintf(&b, "- %s\n", alert)
		}
	}
	return []byte(b.String())
}
