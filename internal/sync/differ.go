package sync

import "sort"

// Diff is the change between two snapshots of external ids.
type Diff struct {
	Added   []string
	Removed []string
}

// DiffIDs returns added = current - previous and removed = previous - current,
// each sorted.
func DiffIDs(previous, current []string) Diff {
	prev := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}

	d := Diff{Added: []string{}, Removed: []string{}}
	for id := range cur {
		if _, ok := prev[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	for id := range prev {
		if _, ok := cur[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}
