package collection

// Result is the minimal change set between two snapshots.
type Result struct {
	Added      []Item
	Updated    []Item
	DeletedIDs []int
	// Duplicates lists subject ids seen more than once in the new snapshot.
	// The last occurrence wins.
	Duplicates []int
}

// Empty reports whether the result carries no changes.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Updated) == 0 && len(r.DeletedIDs) == 0
}

// Diff compares a freshly fetched snapshot against the previously persisted one.
// Only a change of collection status counts as an update. DeletedIDs is sorted
// ascending.
func Diff(newSnap, oldSnap Snapshot) Result {
	newItems, order, dupes := index(newSnap.Items)
	oldItems, _, _ := index(oldSnap.Items)

	var res Result
	for _, id := range order {
		item := newItems[id]
		prev, ok := oldItems[id]
		switch {
		case !ok:
			res.Added = append(res.Added, item)
		case prev.Type != item.Type:
			res.Updated = append(res.Updated, item)
		}
	}

	deleted := make(map[int]struct{})
	for id := range oldItems {
		if _, ok := newItems[id]; !ok {
			deleted[id] = struct{}{}
		}
	}
	res.DeletedIDs = sortedIDs(deleted)
	res.Duplicates = sortedIDs(dupes)
	return res
}

// index maps subject id to item, keeping first-seen order and last-seen value.
func index(items []Item) (map[int]Item, []int, map[int]struct{}) {
	byID := make(map[int]Item, len(items))
	order := make([]int, 0, len(items))
	dupes := make(map[int]struct{})
	for _, item := range items {
		if _, seen := byID[item.SubjectID]; seen {
			dupes[item.SubjectID] = struct{}{}
		} else {
			order = append(order, item.SubjectID)
		}
		byID[item.SubjectID] = item
	}
	return byID, order, dupes
}
