package resource

// DiffType represents the type of change between two inventories.
type DiffType string

const (
	// DiffAdded indicates a resource present only in the newer inventory.
	DiffAdded DiffType = "added"
	// DiffRemoved indicates a resource that no longer exists.
	DiffRemoved DiffType = "removed"
)

// InventoryDiff is one added or removed resource.
type InventoryDiff struct {
	Type DiffType `json:"type"`
	Ref  Ref      `json:"ref"`
}

// Diff compares two inventory snapshots by identity. Output is grouped by
// kind in declaration order, removals before additions.
func Diff(before, after Inventory) []InventoryDiff {
	var out []InventoryDiff
	for _, k := range allKinds {
		prev := idSet(before[k])
		curr := idSet(after[k])
		for _, d := range before[k] {
			if !curr[d.ID] {
				out = append(out, InventoryDiff{Type: DiffRemoved, Ref: Ref{Kind: k, ID: d.ID}})
			}
		}
		for _, d := range after[k] {
			if !prev[d.ID] {
				out = append(out, InventoryDiff{Type: DiffAdded, Ref: Ref{Kind: k, ID: d.ID}})
			}
		}
	}
	return out
}

// Lingering returns the references reported deleted that are still present
// in a later inventory.
func Lingering(results []DeletionResult, after Inventory) []Ref {
	var out []Ref
	seen := map[Ref]bool{}
	for _, r := range results {
		if r.Outcome != OutcomeDeleted {
			continue
		}
		ref := Ref{Kind: r.Kind, ID: r.Resource}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if _, ok := after.Find(r.Kind, r.Resource); ok {
			out = append(out, ref)
		}
	}
	return out
}

func idSet(ds []Descriptor) map[string]bool {
	set := make(map[string]bool, len(ds))
	for _, d := range ds {
		set[d.ID] = true
	}
	return set
}
