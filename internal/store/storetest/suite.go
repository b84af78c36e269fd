// Package storetest provides a re-usable conformance suite that can be run
// against any store.Engine backend.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/serhiybutz/docindexer/internal/analysis"
	"github.com/serhiybutz/docindexer/internal/store"
)

// budget is a per-batch time limit no test batch comes near.
const budget = time.Minute

// Suite runs the engine contract against one backend.
type Suite struct {
	suite.Suite

	// Backend is the engine implementation under test.
	Backend store.Backend

	engine store.Engine
	ctx    context.Context
}

// SetupTest creates a fresh in-memory engine for every test.
func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.engine = s.newEngine("", store.DefaultConfig())
}

// TearDownTest closes the engine.
func (s *Suite) TearDownTest() {
	if s.engine != nil {
		s.Require().NoError(s.engine.Close())
	}
}

func (s *Suite) newEngine(path string, cfg store.Config) store.Engine {
	e, err := store.Create(s.Backend, path, cfg)
	s.Require().NoError(err)
	return e
}

func (s *Suite) add(e store.Engine, docs map[string]string) {
	refs := make([]string, 0, len(docs))
	for ref := range docs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		s.Require().NoError(e.AddDocument(s.ctx, ref, docs[ref]))
	}
	s.Require().NoError(e.Flush(s.ctx))
}

// drain runs a search to completion and returns the resolved references.
func (s *Suite) drain(e store.Engine, query string, opts store.SearchOption, batch int) []string {
	search, err := e.NewSearch(s.ctx, query, opts)
	s.Require().NoError(err)
	defer search.Cancel()

	var refs []string
	for i := 0; i < 1000; i++ {
		b, err := search.FindMatches(s.ctx, batch, budget)
		s.Require().NoError(err)
		resolved, err := e.ResolveDocuments(s.ctx, b.IDs)
		s.Require().NoError(err)
		refs = append(refs, resolved...)
		if !b.More {
			sort.Strings(refs)
			return refs
		}
	}
	s.FailNow("search did not terminate")
	return nil
}

func (s *Suite) counters(e store.Engine) (int64, int64) {
	maxID, err := e.MaxDocumentID(s.ctx)
	s.Require().NoError(err)
	count, err := e.DocumentCount(s.ctx)
	s.Require().NoError(err)
	return maxID, count
}

func (s *Suite) TestEmptyIndexCounters() {
	maxID, count := s.counters(s.engine)
	s.Equal(int64(0), maxID)
	s.Equal(int64(0), count)
}

func (s *Suite) TestAddFlushSearch() {
	s.add(s.engine, map[string]string{
		"doc://a": "the quick brown fox",
		"doc://b": "a lazy dog",
	})

	s.Equal([]string{"doc://a"}, s.drain(s.engine, "fox", store.SearchDefault, 10))
	s.Equal([]string{"doc://b"}, s.drain(s.engine, "DOG", store.SearchDefault, 10))
	s.Empty(s.drain(s.engine, "cat", store.SearchDefault, 10))
}

func (s *Suite) TestIDsAreMonotonic() {
	s.add(s.engine, map[string]string{"a": "one", "b": "two", "c": "three"})
	maxID, count := s.counters(s.engine)
	s.Equal(int64(3), maxID)
	s.Equal(int64(3), count)

	// Re-indexing allocates a new ID and retires the old one.
	s.Require().NoError(s.engine.AddDocument(s.ctx, "a", "one again"))
	maxID, count = s.counters(s.engine)
	s.Equal(int64(4), maxID)
	s.Equal(int64(3), count)

	s.Require().NoError(s.engine.RemoveDocument(s.ctx, "b"))
	maxID, count = s.counters(s.engine)
	s.Equal(int64(4), maxID)
	s.Equal(int64(2), count)

	// Removing the highest ID does not lower the maximum.
	s.Require().NoError(s.engine.RemoveDocument(s.ctx, "a"))
	s.Require().NoError(s.engine.AddDocument(s.ctx, "d", "four"))
	maxID, _ = s.counters(s.engine)
	s.Equal(int64(5), maxID)
}

func (s *Suite) TestReindexReplacesContent() {
	s.add(s.engine, map[string]string{"a": "apples"})
	s.add(s.engine, map[string]string{"a": "oranges"})

	s.Empty(s.drain(s.engine, "apples", store.SearchDefault, 10))
	s.Equal([]string{"a"}, s.drain(s.engine, "oranges", store.SearchDefault, 10))
}

func (s *Suite) TestRemoveUnknown() {
	err := s.engine.RemoveDocument(s.ctx, "missing")
	s.ErrorIs(err, store.ErrDocumentNotFound)
}

func (s *Suite) TestRemoveHidesDocument() {
	s.add(s.engine, map[string]string{"a": "shared", "b": "shared"})
	s.Require().NoError(s.engine.RemoveDocument(s.ctx, "a"))
	s.Require().NoError(s.engine.Flush(s.ctx))

	s.Equal([]string{"b"}, s.drain(s.engine, "shared", store.SearchDefault, 10))
}

func (s *Suite) TestResolveRemovedIsEmpty() {
	s.add(s.engine, map[string]string{"a": "alpha"})

	search, err := s.engine.NewSearch(s.ctx, "alpha", store.SearchDefault)
	s.Require().NoError(err)
	b, err := search.FindMatches(s.ctx, 10, budget)
	s.Require().NoError(err)
	s.Require().Len(b.IDs, 1)

	s.Require().NoError(s.engine.RemoveDocument(s.ctx, "a"))

	refs, err := s.engine.ResolveDocuments(s.ctx, append(b.IDs, 9999))
	s.Require().NoError(err)
	s.Equal([]string{"", ""}, refs)
}

func (s *Suite) TestProperties() {
	s.add(s.engine, map[string]string{"a": "alpha"})

	props, err := s.engine.Properties(s.ctx, "a")
	s.Require().NoError(err)
	s.Nil(props)

	s.Require().NoError(s.engine.SetProperties(s.ctx, "a", map[string]any{"title": "Alpha", "rank": 2}))
	props, err = s.engine.Properties(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal("Alpha", props["title"])
	s.EqualValues(2, props["rank"])

	// Properties follow the reference across re-indexing.
	s.Require().NoError(s.engine.AddDocument(s.ctx, "a", "alpha two"))
	props, err = s.engine.Properties(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal("Alpha", props["title"])

	err = s.engine.SetProperties(s.ctx, "missing", map[string]any{"x": 1})
	s.ErrorIs(err, store.ErrDocumentNotFound)

	props, err = s.engine.Properties(s.ctx, "missing")
	s.Require().NoError(err)
	s.Nil(props)
}

func (s *Suite) TestBatchPaging() {
	docs := make(map[string]string)
	for i := 0; i < 10; i++ {
		docs[fmt.Sprintf("doc-%02d", i)] = "common term"
	}
	s.add(s.engine, docs)

	search, err := s.engine.NewSearch(s.ctx, "common", store.SearchDefault)
	s.Require().NoError(err)
	defer search.Cancel()

	var sizes []int
	seen := make(map[int64]bool)
	for {
		b, err := search.FindMatches(s.ctx, 3, budget)
		s.Require().NoError(err)
		sizes = append(sizes, len(b.IDs))
		for _, id := range b.IDs {
			s.False(seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		if !b.More {
			break
		}
	}

	s.Equal([]int{3, 3, 3, 1}, sizes)
	s.Len(seen, 10)

	// Exhausted searches stay exhausted.
	b, err := search.FindMatches(s.ctx, 3, budget)
	s.Require().NoError(err)
	s.Empty(b.IDs)
	s.False(b.More)
}

func (s *Suite) TestExactMultipleBatch() {
	s.add(s.engine, map[string]string{"a": "x1 word", "b": "x2 word", "c": "x3 word", "d": "x4 word"})

	search, err := s.engine.NewSearch(s.ctx, "word", store.SearchDefault)
	s.Require().NoError(err)
	defer search.Cancel()

	b1, err := search.FindMatches(s.ctx, 2, budget)
	s.Require().NoError(err)
	s.Len(b1.IDs, 2)
	s.True(b1.More)

	b2, err := search.FindMatches(s.ctx, 2, budget)
	s.Require().NoError(err)
	s.Len(b2.IDs, 2)
	s.False(b2.More)
}

func (s *Suite) TestSpaceMeansOr() {
	s.add(s.engine, map[string]string{"a": "red apple", "b": "green apple", "c": "red car"})

	s.Equal([]string{"a"}, s.drain(s.engine, "red apple", store.SearchDefault, 10))
	s.Equal([]string{"a", "b", "c"}, s.drain(s.engine, "red apple", store.SearchSpaceMeansOr, 10))
}

func (s *Suite) TestPrefixQuery() {
	s.add(s.engine, map[string]string{"a": "indexing", "b": "indexer", "c": "search"})

	s.Equal([]string{"a", "b"}, s.drain(s.engine, "index*", store.SearchDefault, 10))
}

func (s *Suite) TestNoRelevanceScores() {
	s.add(s.engine, map[string]string{"a": "score me", "b": "score score me"})

	search, err := s.engine.NewSearch(s.ctx, "score", store.SearchNoRelevanceScores)
	s.Require().NoError(err)
	defer search.Cancel()

	b, err := search.FindMatches(s.ctx, 10, budget)
	s.Require().NoError(err)
	s.Len(b.IDs, 2)
	for _, score := range b.Scores {
		s.Zero(score)
	}
}

func (s *Suite) TestScoresRankBetterMatchesFirst() {
	s.add(s.engine, map[string]string{
		"a": "filler words here gopher",
		"b": "gopher gopher gopher",
	})

	search, err := s.engine.NewSearch(s.ctx, "gopher", store.SearchDefault)
	s.Require().NoError(err)
	defer search.Cancel()

	b, err := search.FindMatches(s.ctx, 10, budget)
	s.Require().NoError(err)
	s.Require().Len(b.IDs, 2)
	s.Greater(b.Scores[0], float32(0))
	s.GreaterOrEqual(b.Scores[0], b.Scores[1])

	refs, err := s.engine.ResolveDocuments(s.ctx, b.IDs[:1])
	s.Require().NoError(err)
	s.Equal([]string{"b"}, refs)
}

func (s *Suite) TestEmptyQueryMatchesNothing() {
	s.add(s.engine, map[string]string{"a": "alpha"})

	search, err := s.engine.NewSearch(s.ctx, "   ", store.SearchDefault)
	s.Require().NoError(err)

	b, err := search.FindMatches(s.ctx, 10, budget)
	s.Require().NoError(err)
	s.Empty(b.IDs)
	s.False(b.More)
}

func (s *Suite) TestCancelledSearch() {
	s.add(s.engine, map[string]string{"a": "alpha"})

	search, err := s.engine.NewSearch(s.ctx, "alpha", store.SearchDefault)
	s.Require().NoError(err)
	search.Cancel()
	search.Cancel()

	_, err = search.FindMatches(s.ctx, 10, budget)
	s.ErrorIs(err, store.ErrSearchCancelled)
}

func (s *Suite) TestFindSimilarNeedsVectorIndex() {
	_, err := s.engine.NewSearch(s.ctx, "example text", store.SearchFindSimilar)
	s.ErrorIs(err, store.ErrUnsupportedSearch)

	cfg := store.DefaultConfig()
	cfg.IndexType = store.IndexTypeVector
	vec := s.newEngine("", cfg)
	defer vec.Close()

	_, err = vec.NewSearch(s.ctx, "plain query", store.SearchDefault)
	s.ErrorIs(err, store.ErrUnsupportedSearch)
}

func (s *Suite) TestFindSimilar() {
	cfg := store.DefaultConfig()
	cfg.IndexType = store.IndexTypeInvertedVector
	e := s.newEngine("", cfg)
	defer e.Close()

	s.add(e, map[string]string{
		"a": "go channels and goroutines",
		"b": "goroutines are cheap",
		"c": "baking bread",
	})

	s.Equal([]string{"a", "b"}, s.drain(e, "what are goroutines and channels", store.SearchFindSimilar, 10))
}

func (s *Suite) TestAnalysisConfigApplies() {
	cfg := store.DefaultConfig()
	cfg.Analysis = analysis.Config{
		MinTermLength:    3,
		StopwordLanguage: "en",
		Substitutions:    map[string]string{"color": "colour"},
		TermChars:        "_",
	}
	e := s.newEngine("", cfg)
	defer e.Close()

	s.add(e, map[string]string{"a": "The colour of snake_case ox"})

	s.Equal([]string{"a"}, s.drain(e, "color", store.SearchDefault, 10))
	s.Equal([]string{"a"}, s.drain(e, "snake_case", store.SearchDefault, 10))
	s.Empty(s.drain(e, "ox", store.SearchDefault, 10))
	s.Empty(s.drain(e, "snake", store.SearchDefault, 10))
}

func (s *Suite) TestPhraseWithProximity() {
	cfg := store.DefaultConfig()
	cfg.Analysis.ProximityIndexing = true
	e := s.newEngine("", cfg)
	defer e.Close()

	s.add(e, map[string]string{"a": "new york city", "b": "york is new"})

	s.Equal([]string{"a"}, s.drain(e, `"new york"`, store.SearchDefault, 10))
	s.Equal([]string{"a", "b"}, s.drain(e, "new york", store.SearchDefault, 10))
}

func (s *Suite) TestCompactKeepsDocuments() {
	s.add(s.engine, map[string]string{"a": "keep", "b": "keep", "c": "drop"})
	s.Require().NoError(s.engine.RemoveDocument(s.ctx, "c"))
	s.Require().NoError(s.engine.Compact(s.ctx))

	s.Equal([]string{"a", "b"}, s.drain(s.engine, "keep", store.SearchDefault, 10))
	maxID, count := s.counters(s.engine)
	s.Equal(int64(3), maxID)
	s.Equal(int64(2), count)
}

func (s *Suite) TestClosed() {
	e := s.newEngine("", store.DefaultConfig())
	s.Require().NoError(e.Close())
	s.Require().NoError(e.Close())

	s.ErrorIs(e.AddDocument(s.ctx, "a", "x"), store.ErrClosed)
	s.ErrorIs(e.Flush(s.ctx), store.ErrClosed)
	_, err := e.DocumentCount(s.ctx)
	s.ErrorIs(err, store.ErrClosed)
	_, err = e.NewSearch(s.ctx, "x", store.SearchDefault)
	s.ErrorIs(err, store.ErrClosed)
}

func (s *Suite) TestPersistence() {
	path := filepath.Join(s.T().TempDir(), "index")
	cfg := store.DefaultConfig()
	cfg.Analysis.MinTermLength = 2

	e := s.newEngine(path, cfg)
	s.add(e, map[string]string{"a": "persisted words", "b": "more words"})
	s.Require().NoError(e.RemoveDocument(s.ctx, "b"))
	s.Require().NoError(e.SetProperties(s.ctx, "a", map[string]any{"k": "v"}))
	s.Require().NoError(e.Close())

	s.True(store.Exists(path))
	_, err := store.Create(s.Backend, path, cfg)
	s.ErrorIs(err, store.ErrIndexExists)

	reopened, err := store.Open(path)
	s.Require().NoError(err)
	defer reopened.Close()

	s.Equal(s.Backend, reopened.Info().Backend)
	s.Equal(2, reopened.Info().Config.Analysis.MinTermLength)

	maxID, count := s.counters(reopened)
	s.Equal(int64(2), maxID)
	s.Equal(int64(1), count)
	s.Equal([]string{"a"}, s.drain(reopened, "words", store.SearchDefault, 10))

	props, err := reopened.Properties(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal("v", props["k"])

	// New IDs continue after the persisted maximum.
	s.Require().NoError(reopened.AddDocument(s.ctx, "c", "fresh"))
	maxID, _ = s.counters(reopened)
	s.Equal(int64(3), maxID)
}

func (s *Suite) TestRemovalDuringSearchKeepsLiveMatches() {
	for _, opts := range []store.SearchOption{store.SearchDefault, store.SearchNoRelevanceScores} {
		e := s.newEngine("", store.DefaultConfig())
		s.add(e, map[string]string{"a": "bar", "b": "bar", "c": "bar"})

		search, err := e.NewSearch(s.ctx, "bar", opts)
		s.Require().NoError(err)

		first, err := search.FindMatches(s.ctx, 1, budget)
		s.Require().NoError(err)
		s.Require().Len(first.IDs, 1)
		refs, err := e.ResolveDocuments(s.ctx, first.IDs)
		s.Require().NoError(err)
		removed := refs[0]

		s.Require().NoError(e.RemoveDocument(s.ctx, removed))
		s.Require().NoError(e.Flush(s.ctx))

		var rest []string
		for {
			b, err := search.FindMatches(s.ctx, 1, budget)
			s.Require().NoError(err)
			resolved, err := e.ResolveDocuments(s.ctx, b.IDs)
			s.Require().NoError(err)
			for _, ref := range resolved {
				if ref != "" {
					rest = append(rest, ref)
				}
			}
			if !b.More {
				break
			}
		}
		search.Cancel()

		var want []string
		for _, ref := range []string{"a", "b", "c"} {
			if ref != removed {
				want = append(want, ref)
			}
		}
		sort.Strings(rest)
		s.Equal(want, rest, "options %d", opts)
		s.Require().NoError(e.Close())
	}
}

func (s *Suite) TestZeroTimeBudgetMakesProgress() {
	docs := make(map[string]string)
	for i := 0; i < 25; i++ {
		docs[fmt.Sprintf("doc-%02d", i)] = "budget word"
	}
	s.add(s.engine, docs)

	search, err := s.engine.NewSearch(s.ctx, "budget", store.SearchDefault)
	s.Require().NoError(err)
	defer search.Cancel()

	seen := make(map[int64]bool)
	for calls := 0; ; calls++ {
		s.Require().Less(calls, 100, "search did not terminate")
		b, err := search.FindMatches(s.ctx, 10, 0)
		s.Require().NoError(err)
		for _, id := range b.IDs {
			s.False(seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		if !b.More {
			break
		}
		s.NotEmpty(b.IDs)
	}
	s.Len(seen, 25)

	count, err := s.engine.DocumentCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(25), count)
}
