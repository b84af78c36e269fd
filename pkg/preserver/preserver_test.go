package preserver

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

// testContract exercises the behavior every Preserver shares.
func testContract(t *testing.T, p fragmentation.Preserver) {
	t.Helper()
	ctx := context.Background()

	_, err := p.Restore(ctx)
	assert.ErrorIs(t, err, fragmentation.ErrNoSnapshot)

	require.NoError(t, p.Preserve(ctx, fragmentation.Snapshot{MaxDocumentID: 10, DocumentCount: 7}))
	got, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, fragmentation.Snapshot{MaxDocumentID: 10, DocumentCount: 7}, got)

	require.NoError(t, p.Preserve(ctx, fragmentation.Snapshot{MaxDocumentID: 12, DocumentCount: 12}))
	got, err = p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, fragmentation.Snapshot{MaxDocumentID: 12, DocumentCount: 12}, got)
}

func TestFilePreserver(t *testing.T) {
	p := NewFilePreserver(filepath.Join(t.TempDir(), "state", "fragmentation.yaml"))
	defer p.Close()

	testContract(t, p)
}

func TestFilePreserver_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragmentation.yaml")
	ctx := context.Background()
	writer := NewFilePreserver(path)
	defer writer.Close()
	reader := NewFilePreserver(path)
	defer reader.Close()

	require.NoError(t, writer.Preserve(ctx, fragmentation.Snapshot{MaxDocumentID: 3, DocumentCount: 2}))
	got, err := reader.Restore(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(3), got.MaxDocumentID)
}

func TestFilePreserver_ConcurrentWrites(t *testing.T) {
	// Given one preserver shared by many goroutines
	p := NewFilePreserver(filepath.Join(t.TempDir(), "fragmentation.yaml"))
	defer p.Close()
	ctx := context.Background()

	// When they preserve and restore at the same time
	var g errgroup.Group
	for i := range 16 {
		g.Go(func() error {
			if err := p.Preserve(ctx, fragmentation.Snapshot{MaxDocumentID: int64(i), DocumentCount: int64(i)}); err != nil {
				return err
			}
			_, err := p.Restore(ctx)
			return err
		})
	}

	// Then every call succeeds and the file holds one complete snapshot
	require.NoError(t, g.Wait())
	got, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, got.MaxDocumentID, got.DocumentCount)
	_, err = os.Stat(p.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFilePreserver_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragmentation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nsnapshot:\n  max_document_id: 1\n"), 0644))
	p := NewFilePreserver(path)
	defer p.Close()

	_, err := p.Restore(context.Background())

	assert.ErrorContains(t, err, "unsupported snapshot version")
}

func TestSQLPreserver_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	p, err := NewSQLPreserver(context.Background(), db, DialectSQLite, "notes")
	require.NoError(t, err)

	testContract(t, p)
}

func TestSQLPreserver_KeysAreIndependent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	a, err := NewSQLPreserver(ctx, db, DialectSQLite, "a")
	require.NoError(t, err)
	b, err := NewSQLPreserver(ctx, db, DialectSQLite, "b")
	require.NoError(t, err)

	require.NoError(t, a.Preserve(ctx, fragmentation.Snapshot{MaxDocumentID: 5, DocumentCount: 5}))

	_, err = b.Restore(ctx)
	assert.ErrorIs(t, err, fragmentation.ErrNoSnapshot)
}

func TestSQLPreserver_Rebind(t *testing.T) {
	pg := &SQLPreserver{dialect: DialectPostgres}
	lite := &SQLPreserver{dialect: DialectSQLite}
	q := "SELECT a FROM t WHERE x = ? AND y = ?"

	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestRedisPreserver(t *testing.T) {
	addr := os.Getenv("DOCINDEXER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCINDEXER_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	p, err := NewRedisPreserver(rdb, "test-"+t.Name())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, p.Key()).Err())
	defer rdb.Del(ctx, p.Key())

	testContract(t, p)
}

func TestNewRedisPreserver_Validation(t *testing.T) {
	_, err := NewRedisPreserver(nil, "k")
	assert.Error(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	_, err = NewRedisPreserver(rdb, "")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name     string
		location string
		check    func(t *testing.T, s Store)
	}{
		{"memory", "memory", func(t *testing.T, s Store) {
			_, ok := s.(memoryStore)
			assert.True(t, ok)
		}},
		{"plain path", filepath.Join(dir, "a.yaml"), func(t *testing.T, s Store) {
			fp, ok := s.(*FilePreserver)
			require.True(t, ok)
			assert.Equal(t, filepath.Join(dir, "a.yaml"), fp.Path())
		}},
		{"file url", "file://" + filepath.ToSlash(filepath.Join(dir, "b.yaml")), func(t *testing.T, s Store) {
			_, ok := s.(*FilePreserver)
			assert.True(t, ok)
		}},
		{"sqlite url", "sqlite://" + filepath.ToSlash(filepath.Join(dir, "c.db")), func(t *testing.T, s Store) {
			_, ok := s.(*SQLPreserver)
			assert.True(t, ok)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.location, "idx")
			require.NoError(t, err)
			defer s.Close()

			tt.check(t, s)
			testContract(t, s)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "", "idx")
	assert.Error(t, err)

	_, err = Open(context.Background(), "ftp://host/x", "idx")
	assert.ErrorContains(t, err, "unsupported preserver scheme")
}
