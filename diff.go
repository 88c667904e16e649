package routeref

import "fmt"

// Diff is the plan computed from old -> desired.
type Diff struct {
	// ToAdd are entries in desired but not in old.
	ToAdd []Entry
	// ToDel are entries in old but not in desired.
	ToDel []Entry
	// Unchanged are entries present in both sets.
	Unchanged []Entry
}

// DiffEntries computes a set-diff between old and desired.
// Duplicates within either list collapse; every entry must be valid.
func DiffEntries(old, desired []Entry) (Diff, error) {
	oldSet, err := entrySet(old)
	if err != nil {
		return Diff{}, fmt.Errorf("old: %w", err)
	}
	newSet, err := entrySet(desired)
	if err != nil {
		return Diff{}, fmt.Errorf("desired: %w", err)
	}

	var res Diff
	for e := range oldSet {
		if _, ok := newSet[e]; ok {
			res.Unchanged = append(res.Unchanged, e)
		} else {
			res.ToDel = append(res.ToDel, e)
		}
	}
	for e := range newSet {
		if _, ok := oldSet[e]; !ok {
			res.ToAdd = append(res.ToAdd, e)
		}
	}

	// Make output deterministic.
	SortEntries(res.ToDel)
	SortEntries(res.ToAdd)
	SortEntries(res.Unchanged)

	return res, nil
}

func entrySet(entries []Entry) (map[Entry]struct{}, error) {
	set := make(map[Entry]struct{}, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("[%d] %s: %w", i, e, err)
		}
		set[e] = struct{}{}
	}
	return set, nil
}
