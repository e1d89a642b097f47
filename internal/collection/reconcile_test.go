package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id int, status StatusType) Item {
	return Item{
		SubjectID: id,
		Type:      status,
		Subject:   Subject{ID: id, Name: "subject", Type: SubjectAnime},
	}
}

func snap(items ...Item) Snapshot {
	return Snapshot{Items: items, Total: len(items)}
}

func TestDiffDisjointSnapshots(t *testing.T) {
	t.Parallel()

	oldSnap := snap(item(1, StatusWish), item(2, StatusDone))
	newSnap := snap(item(10, StatusDoing), item(11, StatusWish), item(12, StatusDropped))

	res := Diff(newSnap, oldSnap)

	require.Len(t, res.Added, 3)
	assert.Equal(t, []int{10, 11, 12}, subjectIDs(res.Added))
	assert.Empty(t, res.Updated)
	assert.Equal(t, []int{1, 2}, res.DeletedIDs)
	assert.Empty(t, res.Duplicates)
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	t.Parallel()

	s := snap(item(1, StatusWish), item(2, StatusDone), item(3, StatusOnHold))
	res := Diff(s, s)

	assert.Empty(t, res.Added)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.DeletedIDs)
	assert.True(t, res.Empty())
}

func TestDiffStatusChangeIsUpdate(t *testing.T) {
	t.Parallel()

	oldSnap := snap(item(1, StatusWish), item(2, StatusDoing))
	newSnap := snap(item(1, StatusWish), item(2, StatusDone))

	res := Diff(newSnap, oldSnap)

	assert.Empty(t, res.Added)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, 2, res.Updated[0].SubjectID)
	assert.Equal(t, StatusDone, res.Updated[0].Type)
	assert.Empty(t, res.DeletedIDs)
}

func TestDiffIgnoresMetadataChanges(t *testing.T) {
	t.Parallel()

	before := item(7, StatusDone)
	after := item(7, StatusDone)
	after.Subject.Score = 9.1
	after.Subject.Rank = 12
	after.Subject.Tags = []Tag{{Name: "京阿尼"}}
	after.Tags = []string{"rewatch"}
	after.Rate = 10

	res := Diff(snap(after), snap(before))

	assert.True(t, res.Empty())
}

func TestDiffEmptyOldSnapshot(t *testing.T) {
	t.Parallel()

	res := Diff(snap(item(5, StatusWish), item(6, StatusDone)), Snapshot{})

	assert.Equal(t, []int{5, 6}, subjectIDs(res.Added))
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.DeletedIDs)
}

func TestDiffDuplicateIDsLastWriteWins(t *testing.T) {
	t.Parallel()

	oldSnap := snap(item(1, StatusWish))
	newSnap := snap(item(1, StatusWish), item(2, StatusWish), item(1, StatusDone))

	res := Diff(newSnap, oldSnap)

	assert.Equal(t, []int{2}, subjectIDs(res.Added))
	require.Len(t, res.Updated, 1)
	assert.Equal(t, StatusDone, res.Updated[0].Type)
	assert.Equal(t, []int{1}, res.Duplicates)
}

func TestDiffPreservesNewSnapshotOrder(t *testing.T) {
	t.Parallel()

	oldSnap := snap(item(3, StatusWish), item(1, StatusWish))
	newSnap := snap(item(9, StatusWish), item(1, StatusDone), item(4, StatusWish), item(3, StatusDone))

	res := Diff(newSnap, oldSnap)

	assert.Equal(t, []int{9, 4}, subjectIDs(res.Added))
	assert.Equal(t, []int{1, 3}, subjectIDs(res.Updated))
}

func TestStatusLabels(t *testing.T) {
	t.Parallel()

	cases := map[StatusType]string{
		StatusWish:    "想看",
		StatusDone:    "看过",
		StatusDoing:   "在看",
		StatusOnHold:  "搁置",
		StatusDropped: "抛弃",
		0:             LabelUnknown,
		9:             LabelUnknown,
	}
	for status, want := range cases {
		assert.Equal(t, want, status.Label(), "status %d", status)
	}
}

func TestSubjectTypeLabels(t *testing.T) {
	t.Parallel()

	cases := map[SubjectType]string{
		SubjectBook:  "书籍",
		SubjectAnime: "动画",
		SubjectMusic: "音乐",
		SubjectGame:  "游戏",
		SubjectReal:  "三次元",
		5:            LabelUnknown,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Label(), "subject type %d", kind)
	}
}

func TestSnapshotSubjectIDs(t *testing.T) {
	t.Parallel()

	ids := snap(item(1, StatusWish), item(2, StatusWish), item(1, StatusDone)).SubjectIDs()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, 1)
	assert.Contains(t, ids, 2)
}

func TestTagNamesDeduplicates(t *testing.T) {
	t.Parallel()

	d := SubjectDetail{Tags: []Tag{{Name: "a"}, {Name: ""}, {Name: "b"}, {Name: "a"}}}
	assert.Equal(t, []string{"a", "b"}, d.TagNames())
}

func subjectIDs(items []Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.SubjectID)
	}
	return out
}
