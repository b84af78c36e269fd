package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendSQLite, false},
		{"sqlite", BackendSQLite, false},
		{"SQLite", BackendSQLite, false},
		{"bleve", BackendBleve, false},
		{"lucene", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexPath(t *testing.T) {
	assert.Equal(t, "", IndexPath("", BackendBleve))
	assert.Equal(t, "/x/idx.db", IndexPath("/x/idx", BackendSQLite))
	assert.Equal(t, "/x/idx.bleve", IndexPath("/x/idx", BackendBleve))
	assert.Equal(t, "/x/idx.custom", IndexPath("/x/idx.custom", BackendBleve))
}

func TestDetectBackend(t *testing.T) {
	dir := t.TempDir()

	// Given: one index of each backend
	sqlitePath := filepath.Join(dir, "a")
	e, err := Create(BackendSQLite, sqlitePath, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	blevePath := filepath.Join(dir, "b")
	e, err = Create(BackendBleve, blevePath, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Then: both are detected from base and full paths
	backend, resolved := DetectBackend(sqlitePath)
	assert.Equal(t, BackendSQLite, backend)
	assert.Equal(t, sqlitePath+".db", resolved)

	backend, resolved = DetectBackend(blevePath + ".bleve")
	assert.Equal(t, BackendBleve, backend)
	assert.Equal(t, blevePath+".bleve", resolved)

	backend, _ = DetectBackend(filepath.Join(dir, "none"))
	assert.Equal(t, Backend(""), backend)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestOpen_NotAnIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(path, []byte("not sqlite"), 0644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestCreate_UnknownBackend(t *testing.T) {
	_, err := Create("lucene", "", DefaultConfig())
	assert.Error(t, err)
}

func TestIndexType_Capabilities(t *testing.T) {
	assert.True(t, IndexTypeInverted.SupportsQuery())
	assert.False(t, IndexTypeInverted.SupportsSimilarity())
	assert.False(t, IndexTypeVector.SupportsQuery())
	assert.True(t, IndexTypeVector.SupportsSimilarity())
	assert.True(t, IndexTypeInvertedVector.SupportsQuery())
	assert.True(t, IndexTypeInvertedVector.SupportsSimilarity())
}

func TestSearchOption_Has(t *testing.T) {
	opts := SearchNoRelevanceScores | SearchSpaceMeansOr
	assert.True(t, opts.Has(SearchNoRelevanceScores))
	assert.True(t, opts.Has(SearchSpaceMeansOr))
	assert.False(t, opts.Has(SearchFindSimilar))
	assert.True(t, opts.Has(SearchDefault))
}
