package internal

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	type record struct {
		Name string
		Size int64
	}

	in := record{Name: "a/b.txt", Size: 42}
	raw, err := Serialize(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Deserialize(raw, &out))
	assert.Equal(t, in, out)
}

func TestWriteAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	content := []byte("chunked write")
	n, err := WriteAll(f, content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, len(content), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestWriteReadCloserToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	n, err := WriteReadCloserToFile(io.NopCloser(strings.NewReader("hello world")), path)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestIsDirEmpty(t *testing.T) {
	dir := t.TempDir()

	empty, err := IsDirEmpty(dir)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("1"), 0644))
	empty, err = IsDirEmpty(dir)
	require.NoError(t, err)
	assert.False(t, empty)

	// a missing directory counts as empty
	empty, err = IsDirEmpty(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.True(t, empty)
}
