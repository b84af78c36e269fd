package docindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

var backends = []string{"sqlite", "bleve"}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			fn(t, backend)
		})
	}
}

func newMemoryIndexer(t *testing.T, backend string, opts ...Option) *Indexer {
	t.Helper()
	opts = append([]Option{WithBackend(backend)}, opts...)
	ix, err := New(context.Background(), InMemory{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

// searchAll collects the hit URLs of a search, sorted.
func searchAll(t *testing.T, ix *Indexer, req SearchRequest) []string {
	t.Helper()
	var got []string
	err := ix.SearchEach(context.Background(), req, func(hits []SearchHit, _ bool) bool {
		for _, h := range hits {
			got = append(got, h.Document.String())
		}
		return false
	})
	require.NoError(t, err)
	sort.Strings(got)
	return got
}

func TestScenario_IndexSearchRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		// Given three indexed and flushed documents
		ix := newMemoryIndexer(t, backend)
		ctx := context.Background()
		u1, u2, u3 := doc("u1"), doc("u2"), doc("u3")
		require.NoError(t, ix.IndexDocument(ctx, u1, "foo bar"))
		require.NoError(t, ix.IndexDocument(ctx, u2, "baz bar"))
		require.NoError(t, ix.IndexDocument(ctx, u3, "baz foo"))
		require.NoError(t, ix.Flush(ctx))

		// When searching
		// Then only matching documents are returned
		assert.Equal(t, []string{u1.String(), u2.String()}, searchAll(t, ix, NewSearchRequest("bar")))
		assert.Empty(t, searchAll(t, ix, NewSearchRequest("blah")))

		require.NoError(t, ix.RemoveDocument(ctx, u1))
		require.NoError(t, ix.Flush(ctx))
		assert.Equal(t, []string{u2.String()}, searchAll(t, ix, NewSearchRequest("bar")))
	})
}

func TestScenario_ReopenOnDisk(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		// Given an on-disk index with 50 documents
		path := filepath.Join(t.TempDir(), "notes")
		ctx := context.Background()
		ix, err := New(ctx, CreateOnDisk{Path: path}, WithBackend(backend))
		require.NoError(t, err)
		for i := range 50 {
			text := fmt.Sprintf("document number %d about gardening", i)
			if i%2 == 0 {
				text += " tomatoes"
			}
			require.NoError(t, ix.IndexDocument(ctx, doc(fmt.Sprintf("n%02d", i)), text))
		}
		require.NoError(t, ix.Flush(ctx))
		before := searchAll(t, ix, NewSearchRequest("tomatoes"))
		require.Len(t, before, 25)
		require.NoError(t, ix.Close())

		// When it is reopened
		reopened, err := New(ctx, OpenOnDisk{Path: path})
		require.NoError(t, err)
		defer reopened.Close()

		// Then the same search finds the same documents
		assert.Equal(t, before, searchAll(t, reopened, NewSearchRequest("tomatoes")))
		assert.Equal(t, backend, reopened.Info().Backend)
		count, err := reopened.DocumentCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(50), count)
	})
}

func TestScenario_AutoflushAfterUpdateMakesDocumentsSearchable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend, WithAutoflush(AutoflushAfterEachUpdate))
		ctx := context.Background()

		require.NoError(t, ix.IndexDocument(ctx, doc("fresh"), "freshly written note"))

		assert.Equal(t, []string{doc("fresh").String()}, searchAll(t, ix, NewSearchRequest("freshly")))
	})
}

func TestScenario_AutoflushBeforeSearchMakesDocumentsSearchable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend, WithAutoflush(AutoflushBeforeEachSearch))
		ctx := context.Background()

		require.NoError(t, ix.IndexDocument(ctx, doc("fresh"), "freshly written note"))

		assert.Equal(t, []string{doc("fresh").String()}, searchAll(t, ix, NewSearchRequest("freshly")))
	})
}

func TestScenario_CompactionCycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		// Given a fresh index with a preserved baseline
		ix := newMemoryIndexer(t, backend, WithPreserver(fragmentation.NewMemoryPreserver()))
		ctx := context.Background()

		n, ok := ix.UncompactedDocuments(ctx)
		require.True(t, ok)
		assert.Equal(t, int64(0), n)

		// When ten documents are added and flushed
		for i := range 10 {
			require.NoError(t, ix.IndexDocument(ctx, doc(fmt.Sprintf("d%d", i)), "compaction test"))
		}
		require.NoError(t, ix.Flush(ctx))
		n, _ = ix.UncompactedDocuments(ctx)
		assert.Equal(t, int64(0), n)

		// And four are removed
		for i := range 4 {
			require.NoError(t, ix.RemoveDocument(ctx, doc(fmt.Sprintf("d%d", i))))
		}
		require.NoError(t, ix.Flush(ctx))
		n, _ = ix.UncompactedDocuments(ctx)
		assert.Equal(t, int64(4), n)

		// Then compaction clears the debt
		require.NoError(t, ix.Compact(ctx))
		require.NoError(t, ix.Flush(ctx))
		n, _ = ix.UncompactedDocuments(ctx)
		assert.Equal(t, int64(0), n)
		assert.Len(t, searchAll(t, ix, NewSearchRequest("compaction")), 6)
	})
}

func TestScenario_ReindexCountsAsDebt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend, WithPreserver(fragmentation.NewMemoryPreserver()))
		ctx := context.Background()

		require.NoError(t, ix.IndexDocument(ctx, doc("a"), "first version"))
		require.NoError(t, ix.IndexDocument(ctx, doc("a"), "second version"))
		require.NoError(t, ix.Flush(ctx))

		n, ok := ix.UncompactedDocuments(ctx)
		require.True(t, ok)
		assert.Equal(t, int64(1), n)
		maxID, err := ix.MaximumDocumentID(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), maxID)
		assert.Empty(t, searchAll(t, ix, NewSearchRequest("first")))
		assert.Len(t, searchAll(t, ix, NewSearchRequest("second")), 1)
	})
}

func TestScenario_SmallBatches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend, WithAutoflush(AutoflushBeforeEachSearch))
		ctx := context.Background()
		for i := range 5 {
			require.NoError(t, ix.IndexDocument(ctx, doc(fmt.Sprintf("p%d", i)), "paged result"))
		}

		var sizes []int
		var last bool
		err := ix.SearchEach(ctx, SearchRequest{Query: "paged", HitsPerBatch: 2}, func(hits []SearchHit, more bool) bool {
			sizes = append(sizes, len(hits))
			last = !more
			return false
		})

		require.NoError(t, err)
		assert.True(t, last)
		total := 0
		for _, n := range sizes {
			assert.LessOrEqual(t, n, 2)
			total += n
		}
		assert.Equal(t, 5, total)
	})
}

func TestScenario_IndexFileDocument(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend, WithAutoflush(AutoflushAfterEachUpdate))
		ctx := context.Background()
		dir := t.TempDir()

		txt := filepath.Join(dir, "plain.txt")
		require.NoError(t, os.WriteFile(txt, []byte("quarterly budget review"), 0o644))
		html := filepath.Join(dir, "page.html")
		require.NoError(t, os.WriteFile(html, []byte("<html><body><p>budget <b>forecast</b></p><script>var hidden;</script></body></html>"), 0o644))

		for _, p := range []string{txt, html} {
			ref, err := NewFileDocumentURL(p)
			require.NoError(t, err)
			require.NoError(t, ix.IndexFileDocument(ctx, ref, ""))
		}

		assert.Len(t, searchAll(t, ix, NewSearchRequest("budget")), 2)
		assert.Len(t, searchAll(t, ix, NewSearchRequest("forecast")), 1)
		assert.Empty(t, searchAll(t, ix, NewSearchRequest("hidden")))
	})
}

func TestScenario_IndexFileDocumentMissingFile(t *testing.T) {
	ix := newMemoryIndexer(t, "sqlite")
	ref, err := NewFileDocumentURL(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)

	err = ix.IndexFileDocument(context.Background(), ref, "")

	assert.ErrorIs(t, err, ErrIndexingFailed)
}

func TestScenario_Properties(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ix := newMemoryIndexer(t, backend)
		ctx := context.Background()
		require.NoError(t, ix.IndexDocument(ctx, doc("a"), "text"))

		require.NoError(t, ix.SetDocumentProperties(ctx, doc("a"), map[string]any{"title": "Alpha"}))
		props, err := ix.DocumentProperties(ctx, doc("a"))

		require.NoError(t, err)
		assert.Equal(t, "Alpha", props["title"])

		err = ix.SetDocumentProperties(ctx, doc("missing"), map[string]any{"x": 1})
		assert.ErrorIs(t, err, ErrPropertiesFailed)
	})
}

func TestScenario_ConstructionFailures(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "idx")

		_, err := New(ctx, OpenOnDisk{Path: path})
		assert.ErrorIs(t, err, ErrConstructionFailed)
		assert.ErrorIs(t, err, ErrIndexNotFound)

		ix, err := New(ctx, CreateOnDisk{Path: path}, WithBackend(backend))
		require.NoError(t, err)
		require.NoError(t, ix.Close())

		_, err = New(ctx, CreateOnDisk{Path: path}, WithBackend(backend))
		assert.ErrorIs(t, err, ErrConstructionFailed)
		assert.ErrorIs(t, err, ErrIndexExists)
	})
}

func TestScenario_TextAnalysis(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		cfg := IndexConfig{TextAnalysis: TextAnalysisProperties{
			MinTermLength:    3,
			StopwordLanguage: "en",
		}}
		ix, err := New(context.Background(), InMemory{Config: cfg}, WithBackend(backend), WithAutoflush(AutoflushBeforeEachSearch))
		require.NoError(t, err)
		defer ix.Close()
		ctx := context.Background()

		require.NoError(t, ix.IndexDocument(ctx, doc("a"), "go is the language of the cloud"))

		assert.Len(t, searchAll(t, ix, NewSearchRequest("language")), 1)
		assert.Empty(t, searchAll(t, ix, NewSearchRequest("go")))
		assert.Equal(t, 3, ix.Info().Config.TextAnalysis.MinTermLength)
	})
}

func TestScenario_OperationsAfterClose(t *testing.T) {
	ix, err := New(context.Background(), InMemory{}, WithBackend("sqlite"))
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	err = ix.IndexDocument(context.Background(), doc("a"), "x")

	assert.ErrorIs(t, err, ErrIndexingFailed)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScenario_TinyTimeBudgetCompletes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		// Given many matching documents
		ix := newMemoryIndexer(t, backend)
		ctx := context.Background()
		for i := range 300 {
			require.NoError(t, ix.IndexDocument(ctx, doc(fmt.Sprintf("t%03d", i)), "timed batch"))
		}
		require.NoError(t, ix.Flush(ctx))

		// When the search runs with a one microsecond budget per batch
		s, err := ix.NewSearch(ctx, SearchRequest{Query: "timed", HitsPerBatch: 50, MaxTimePerBatch: time.Microsecond})
		require.NoError(t, err)
		seen := make(map[string]bool)
		more := true
		for calls := 0; more; calls++ {
			require.Less(t, calls, 1000, "search did not terminate")
			var hits []SearchHit
			hits, more, err = s.Next(ctx)
			require.NoError(t, err)
			for _, h := range hits {
				assert.False(t, seen[h.Document.String()], "duplicate %s", h.Document)
				seen[h.Document.String()] = true
			}
		}

		// Then every document was found once and the index is intact
		assert.Len(t, seen, 300)
		count, err := ix.DocumentCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(300), count)
		assert.Len(t, searchAll(t, ix, NewSearchRequest("timed")), 300)
	})
}

func TestScenario_RemovalDuringSearch(t *testing.T) {
	for _, opts := range []SearchOptions{SearchOptionDefault, SearchOptionNoRelevanceScores} {
		forEachBackend(t, func(t *testing.T, backend string) {
			// Given three documents matching one term
			ix := newMemoryIndexer(t, backend)
			ctx := context.Background()
			for _, name := range []string{"a", "b", "c"} {
				require.NoError(t, ix.IndexDocument(ctx, doc(name), "bar"))
			}
			require.NoError(t, ix.Flush(ctx))

			// When the first hit is removed between batches
			req := NewSearchRequest("bar")
			req.Options = opts
			req.HitsPerBatch = 1
			s, err := ix.NewSearch(ctx, req)
			require.NoError(t, err)
			first, more, err := s.Next(ctx)
			require.NoError(t, err)
			require.True(t, more)
			require.Len(t, first, 1)
			require.NoError(t, ix.RemoveDocument(ctx, first[0].Document))
			require.NoError(t, ix.Flush(ctx))

			var rest []string
			for more {
				var hits []SearchHit
				hits, more, err = s.Next(ctx)
				require.NoError(t, err)
				for _, h := range hits {
					rest = append(rest, h.Document.String())
				}
			}

			// Then every other document still arrives exactly once
			var want []string
			for _, name := range []string{"a", "b", "c"} {
				if u := doc(name); u != first[0].Document {
					want = append(want, u.String())
				}
			}
			sort.Strings(rest)
			assert.Equal(t, want, rest)
		})
	}
}
