package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want URI
	}{
		{
			name: "bare local path",
			raw:  "/data/corpus",
			want: URI{Scheme: SchemeLocal, Container: "/", Prefix: "data/corpus", Profile: "file"},
		},
		{
			name: "file scheme",
			raw:  "file:///data/corpus",
			want: URI{Scheme: SchemeLocal, Container: "/", Prefix: "data/corpus", Profile: "file"},
		},
		{
			name: "s3 bucket only",
			raw:  "s3://bucket",
			want: URI{Scheme: SchemeS3, Container: "bucket", Profile: "s3"},
		},
		{
			name: "s3 with prefix",
			raw:  "s3://bucket/datasets/corpus",
			want: URI{Scheme: SchemeS3, Container: "bucket", Prefix: "datasets/corpus", Profile: "s3"},
		},
		{
			name: "minio endpoint bucket prefix",
			raw:  "minio://127.0.0.1:9000/bucket/pre/fix",
			want: URI{Scheme: SchemeMinio, Endpoint: "127.0.0.1:9000", Container: "bucket", Prefix: "pre/fix", Profile: "minio"},
		},
		{
			name: "azure container",
			raw:  "az://container/pre",
			want: URI{Scheme: SchemeAzure, Container: "container", Prefix: "pre", Profile: "az"},
		},
		{
			name: "explicit profile",
			raw:  "s3://bucket/pre?profile=mirror",
			want: URI{Scheme: SchemeS3, Container: "bucket", Prefix: "pre", Profile: "mirror"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseURI(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want.Scheme, got.Scheme)
			assert.Equal(t, tc.want.Endpoint, got.Endpoint)
			assert.Equal(t, tc.want.Container, got.Container)
			assert.Equal(t, tc.want.Prefix, got.Prefix)
			assert.Equal(t, tc.want.Profile, got.Profile)
		})
	}
}

func TestParseURIErrors(t *testing.T) {
	for _, raw := range []string{"", "minio://host", "s3://", "gopher://x/y"} {
		_, err := ParseURI(raw)
		assert.Error(t, err, raw)
	}
}

func TestURIKeyDistinguishesStores(t *testing.T) {
	a, err := ParseURI("s3://bucket-a/prefix")
	require.NoError(t, err)
	b, err := ParseURI("s3://bucket-b/prefix")
	require.NoError(t, err)
	// same credential profile, separate bindings
	assert.Equal(t, a.Profile, b.Profile)
	assert.NotEqual(t, a.Key(), b.Key())

	m1, err := ParseURI("minio://host-a:9000/bucket/p")
	require.NoError(t, err)
	m2, err := ParseURI("minio://host-b:9000/bucket/p")
	require.NoError(t, err)
	assert.NotEqual(t, m1.Key(), m2.Key())

	// prefixes within one container share a binding
	deep, err := ParseURI("s3://bucket-a/other/prefix")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), deep.Key())

	// every local path goes through the one filesystem backend
	l1, err := ParseURI("/tmp/a")
	require.NoError(t, err)
	l2, err := ParseURI("/var/b")
	require.NoError(t, err)
	assert.Equal(t, l1.Key(), l2.Key())
}

func TestURIJoin(t *testing.T) {
	uri, err := ParseURI("s3://bucket/base")
	require.NoError(t, err)
	assert.Equal(t, "base/a/b", uri.Join("a/b"))
	assert.Equal(t, "base", uri.Join(""))

	noPrefix, err := ParseURI("s3://bucket")
	require.NoError(t, err)
	assert.Equal(t, "a/b", noPrefix.Join("a/b"))
}

func TestURIStringAndWithKey(t *testing.T) {
	uri, err := ParseURI("minio://127.0.0.1:9000/bucket/pre?profile=mirror")
	require.NoError(t, err)
	// query parameters are not persisted
	assert.Equal(t, "minio://127.0.0.1:9000/bucket/pre", uri.String())
	assert.Equal(t, "minio://127.0.0.1:9000/bucket/objects/ab/cd/abcd", uri.WithKey("objects/ab/cd/abcd"))

	local, err := ParseURI("/data/x")
	require.NoError(t, err)
	assert.Equal(t, "file:///data/x", local.String())

	// storage_path strings parse back to the same location
	round, err := ParseURI(uri.WithKey("objects/ab/cd/abcd"))
	require.NoError(t, err)
	assert.Equal(t, "bucket", round.Container)
	assert.Equal(t, "objects/ab/cd/abcd", round.Prefix)
}
