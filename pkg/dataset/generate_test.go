package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

func localEntries(t *testing.T, src Source) []string {
	t.Helper()
	uri, err := storage.ParseURI(t.TempDir())
	require.NoError(t, err)
	g := src.(*LocalPath).Entries(uri, "")
	var rels []string
	for g.Next() {
		rels = append(rels, g.Entry().RelativePath())
	}
	require.NoError(t, g.Err())
	return rels
}

func TestLocalWalkKeepsDirFileSiblingsInPathOrder(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"data-old.txt": "1",
		"data.txt":     "2",
		"data/f.txt":   "3",
		"data/g/h.txt": "4",
	})

	lp, err := ParseSource(src+"/*", 0)
	require.NoError(t, err)

	// "data.txt" must come before "data/f.txt": '.' sorts below '/'
	rels := localEntries(t, lp)
	assert.Equal(t, []string{"data-old.txt", "data.txt", "data/f.txt", "data/g/h.txt"}, rels)
}

func TestLocalWalkFeedsMergeWithDirFileSiblings(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"data.txt": "x", "data/f.txt": "y"})

	lp, err := ParseSource(src+"/*", 0)
	require.NoError(t, err)
	uri, err := storage.ParseURI(t.TempDir())
	require.NoError(t, err)

	m := Merge(lp.(*LocalPath).Entries(uri, ""))
	drained := drain(t, m)
	assert.Equal(t, 2, len(drained))
	assert.Equal(t, 2, m.Count())
}
