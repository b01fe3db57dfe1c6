package listing

import (
	"reflect"

	"kostfinder/internal/models"
	"kostfinder/internal/utils"
)

// ChangeKind says how a listing differs between two snapshots.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// Change is one incremental event derived from consecutive snapshots.
// Listing is nil for removals.
type Change struct {
	Kind    ChangeKind      `json:"kind"`
	ID      utils.SixID     `json:"id"`
	Listing *models.Listing `json:"listing,omitempty"`
}

// Diff compares two snapshots. Additions and modifications follow next's
// order, removals follow prev's order and come last.
func Diff(prev, next []models.Listing) []Change {
	old := make(map[utils.SixID]*models.Listing, len(prev))
	for i := range prev {
		old[prev[i].ID] = &prev[i]
	}

	changes := make([]Change, 0)
	seen := make(map[utils.SixID]bool, len(next))
	for i := range next {
		l := &next[i]
		seen[l.ID] = true
		before, ok := old[l.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, ID: l.ID, Listing: l})
		case !reflect.DeepEqual(*before, *l):
			changes = append(changes, Change{Kind: Modified, ID: l.ID, Listing: l})
		}
	}
	for i := range prev {
		if !seen[prev[i].ID] {
			changes = append(changes, Change{Kind: Removed, ID: prev[i].ID})
		}
	}
	return changes
}
