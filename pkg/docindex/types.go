package docindex

import (
	"fmt"
	"strings"
	"time"

	"github.com/serhiybutz/docindexer/internal/analysis"
	"github.com/serhiybutz/docindexer/internal/store"
)

const (
	// DefaultHitsPerBatch is the batch size of NewSearchRequest.
	DefaultHitsPerBatch = 256

	// DefaultMaxTimePerBatch is the per-batch time budget of NewSearchRequest.
	DefaultMaxTimePerBatch = 5 * time.Second
)

// SearchOptions is a bitset of search flags.
type SearchOptions uint32

const (
	// SearchOptionDefault computes relevance scores, treats spaces as AND and
	// does not use similarity searching.
	SearchOptionDefault SearchOptions = SearchOptions(store.SearchDefault)

	// SearchOptionNoRelevanceScores saves time by not computing scores.
	SearchOptionNoRelevanceScores SearchOptions = SearchOptions(store.SearchNoRelevanceScores)

	// SearchOptionSpaceMeansOr treats spaces in the query as OR.
	SearchOptionSpaceMeansOr SearchOptions = SearchOptions(store.SearchSpaceMeansOr)

	// SearchOptionFindSimilar treats the query as example text and returns
	// documents similar to it. Query syntax is ignored.
	SearchOptionFindSimilar SearchOptions = SearchOptions(store.SearchFindSimilar)
)

// IndexType selects the capabilities of a new index.
type IndexType string

const (
	IndexTypeUnknown        IndexType = IndexType(store.IndexTypeUnknown)
	IndexTypeInverted       IndexType = IndexType(store.IndexTypeInverted)
	IndexTypeVector         IndexType = IndexType(store.IndexTypeVector)
	IndexTypeInvertedVector IndexType = IndexType(store.IndexTypeInvertedVector)
)

// TextAnalysisProperties control how text is split into index terms. They
// are fixed when an index is created.
type TextAnalysisProperties struct {
	// MinTermLength is the minimum term length to index.
	MinTermLength int

	// Substitutions maps a canonical term to a variant; the variant is
	// indexed and searched as the canonical term.
	Substitutions map[string]string

	// MaximumTerms is the number of unique terms indexed per document.
	// 0 means no limit.
	MaximumTerms int

	// ProximityIndexing enables quoted phrase searches.
	ProximityIndexing bool

	// TermChars are additional characters valid anywhere in a term.
	TermChars string

	// StartTermChars are additional characters valid at the start of a term.
	StartTermChars string

	// EndTermChars are additional characters valid at the end of a term.
	EndTermChars string

	// StopwordLanguage selects a built-in stopword list (ISO 639-1 code).
	StopwordLanguage string

	// Stopwords are extra terms never indexed.
	Stopwords []string
}

// DefaultTextAnalysisProperties returns the default analysis properties.
func DefaultTextAnalysisProperties() TextAnalysisProperties {
	return TextAnalysisProperties{MinTermLength: 1}
}

func (p TextAnalysisProperties) config() analysis.Config {
	return analysis.Config{
		MinTermLength:     p.MinTermLength,
		Substitutions:     p.Substitutions,
		MaximumTerms:      p.MaximumTerms,
		ProximityIndexing: p.ProximityIndexing,
		TermChars:         p.TermChars,
		StartTermChars:    p.StartTermChars,
		EndTermChars:      p.EndTermChars,
		StopwordLanguage:  p.StopwordLanguage,
		Stopwords:         p.Stopwords,
	}
}

func textAnalysisFromConfig(c analysis.Config) TextAnalysisProperties {
	return TextAnalysisProperties{
		MinTermLength:     c.MinTermLength,
		Substitutions:     c.Substitutions,
		MaximumTerms:      c.MaximumTerms,
		ProximityIndexing: c.ProximityIndexing,
		TermChars:         c.TermChars,
		StartTermChars:    c.StartTermChars,
		EndTermChars:      c.EndTermChars,
		StopwordLanguage:  c.StopwordLanguage,
		Stopwords:         c.Stopwords,
	}
}

// AutoflushStrategy decides when the indexer flushes on its own.
type AutoflushStrategy int

const (
	// AutoflushNone never flushes automatically.
	AutoflushNone AutoflushStrategy = iota

	// AutoflushBeforeEachSearch flushes before a search is created.
	AutoflushBeforeEachSearch

	// AutoflushAfterEachUpdate flushes after every successful add or remove.
	AutoflushAfterEachUpdate
)

// FlushBeforeSearch reports whether a flush precedes search creation.
func (s AutoflushStrategy) FlushBeforeSearch() bool {
	return s == AutoflushBeforeEachSearch
}

// FlushAfterUpdate reports whether a flush follows each add or remove.
func (s AutoflushStrategy) FlushAfterUpdate() bool {
	return s == AutoflushAfterEachUpdate
}

func (s AutoflushStrategy) String() string {
	switch s {
	case AutoflushBeforeEachSearch:
		return "before_each_search"
	case AutoflushAfterEachUpdate:
		return "after_each_update"
	default:
		return "none"
	}
}

// ParseAutoflushStrategy parses the String form of a strategy.
func ParseAutoflushStrategy(s string) (AutoflushStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AutoflushNone, nil
	case "before_each_search":
		return AutoflushBeforeEachSearch, nil
	case "after_each_update":
		return AutoflushAfterEachUpdate, nil
	default:
		return AutoflushNone, fmt.Errorf("unknown autoflush strategy: %s (valid options: none, before_each_search, after_each_update)", s)
	}
}

// SearchHit is one matched document.
type SearchHit struct {
	Document DocumentURL
	Score    float32
}

// SearchRequest describes a search.
type SearchRequest struct {
	// Query is the query text, or example text with SearchOptionFindSimilar.
	Query string

	// Options are passed to the engine unchanged.
	Options SearchOptions

	// HitsPerBatch is the maximum number of hits per batch.
	HitsPerBatch int

	// MaxTimePerBatch bounds the time spent producing one batch. A batch
	// always gets its first hit; 0 asks for a prompt return after it.
	MaxTimePerBatch time.Duration
}

// NewSearchRequest returns a request with the default batch bounds.
func NewSearchRequest(query string) SearchRequest {
	return SearchRequest{
		Query:           query,
		HitsPerBatch:    DefaultHitsPerBatch,
		MaxTimePerBatch: DefaultMaxTimePerBatch,
	}
}

// IndexConfig is fixed at index creation.
type IndexConfig struct {
	Type         IndexType
	TextAnalysis TextAnalysisProperties
}

func (c IndexConfig) storeConfig() store.Config {
	t := store.IndexType(c.Type)
	if t == "" {
		t = store.IndexTypeInverted
	}
	return store.Config{IndexType: t, Analysis: c.TextAnalysis.config()}
}

// Info describes an open index.
type Info struct {
	Backend string
	Path    string
	Config  IndexConfig
}
