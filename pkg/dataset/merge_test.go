package dataset

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengshuai-xiao/DSync/pkg/executor"
)

func manifestEntries(priority int, paths ...string) []SortableEntry {
	out := make([]SortableEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, NewManifestEntry(p, priority, "s3://b/"+p, "", 1, "etag-"+p))
	}
	return out
}

func drain(t *testing.T, m *MergeIterator) []*executor.WorkerInput {
	t.Helper()
	var got []*executor.WorkerInput
	for m.Next() {
		got = append(got, m.Get())
	}
	require.NoError(t, m.Err())
	return got
}

func paths(inputs []*executor.WorkerInput) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in.Entry.(*ManifestEntry).RelPath)
	}
	return out
}

func TestMergeGloballySorted(t *testing.T) {
	a := newSliceGenerator(manifestEntries(0, "b.txt", "d.txt"))
	b := newSliceGenerator(manifestEntries(1, "a.txt", "c.txt", "e.txt"))

	got := drain(t, Merge(a, b))
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}, paths(got))

	// indexes are the fresh 0..N-1 enumeration
	for i, in := range got {
		assert.Equal(t, i, in.Index)
	}
}

func TestMergeLowestPriorityWins(t *testing.T) {
	// both sources carry x.txt; priority 0 must win
	a := manifestEntries(0, "x.txt")
	b := manifestEntries(1, "x.txt", "y.txt")

	got := drain(t, Merge(newSliceGenerator(a), newSliceGenerator(b)))
	require.Len(t, got, 2)

	x := got[0].Entry.(*ManifestEntry)
	assert.Equal(t, "x.txt", x.RelPath)
	assert.Equal(t, 0, x.SourcePriority())
	assert.Equal(t, "y.txt", got[1].Entry.(*ManifestEntry).RelPath)
}

func TestMergeDeterministic(t *testing.T) {
	build := func() *MergeIterator {
		return Merge(
			newSliceGenerator(manifestEntries(0, "a", "c", "e")),
			newSliceGenerator(manifestEntries(1, "b", "c", "d")),
			newSliceGenerator(manifestEntries(2, "a", "d", "f")),
		)
	}
	first := paths(drain(t, build()))
	second := paths(drain(t, build()))
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, first)
}

func TestMergeCount(t *testing.T) {
	m := Merge(
		newSliceGenerator(manifestEntries(0, "a", "b")),
		newSliceGenerator(manifestEntries(1, "b", "c")),
	)
	drain(t, m)
	assert.Equal(t, 3, m.Count())
}

func TestMergeUnsortedSourceFails(t *testing.T) {
	unsorted := []SortableEntry{
		NewManifestEntry("z.txt", 0, "s3://b/z", "", 1, "e1"),
		NewManifestEntry("a.txt", 0, "s3://b/a", "", 1, "e2"),
	}
	m := Merge(newSliceGenerator(unsorted), newSliceGenerator(manifestEntries(1, "m.txt")))
	for m.Next() {
	}
	require.Error(t, m.Err())
	assert.Contains(t, m.Err().Error(), "not sorted")
}

func TestMergeEmpty(t *testing.T) {
	m := Merge()
	assert.False(t, m.Next())
	assert.NoError(t, m.Err())
	assert.Equal(t, 0, m.Count())
}

func TestManifestGeneratorRemoveRegex(t *testing.T) {
	entries := []*ManifestEntry{
		NewManifestEntry("x.tmp", 0, "s3://b/x", "", 1, "e1"),
		NewManifestEntry("y.txt", 0, "s3://b/y", "", 1, "e2"),
	}
	g := newManifestGenerator(entries, 5, regexp.MustCompile(`.*\.tmp$`))

	var got []string
	for g.Next() {
		got = append(got, g.Entry().RelativePath())
		assert.Equal(t, 5, g.Entry().SourcePriority())
	}
	require.NoError(t, g.Err())
	assert.Equal(t, []string{"y.txt"}, got)
}
