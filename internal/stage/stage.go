// Package stage implements the folder-backed stage store: named record
// collections where a record's current directory is its state.
package stage

// Stage names a collection in the vault. Each stage is one flat
// directory of record files.
type Stage string

const (
	NeedsAction     Stage = "Needs_Action"
	Plans           Stage = "Plans"
	PendingApproval Stage = "Pending_Approval"
	Approved        Stage = "Approved"
	Rejected        Stage = "Rejected"
	Done            Stage = "Done"
)

// All returns every stage in canonical (upstream to downstream) order.
func All() []Stage {
	return []Stage{NeedsAction, Plans, PendingApproval, Approved, Rejected, Done}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	switch s {
	case NeedsAction, Plans, PendingApproval, Approved, Rejected, Done:
		return true
	}
	return false
}

// Rank orders stages for duplicate resolution: when a crash leaves a
// record in two collections, the copy in the higher-ranked (more
// downstream) one wins. Approved and Rejected share a rank.
func (s Stage) Rank() int {
	switch s {
	case NeedsAction:
		return 0
	case Plans:
		return 1
	case PendingApproval:
		return 2
	case Approved, Rejected:
		return 3
	case Done:
		return 4
	}
	return -1
}
