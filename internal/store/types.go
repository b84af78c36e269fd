// Package store provides the full-text engines behind a document index.
//
// Two interchangeable backends implement Engine: Bleve v2 and SQLite FTS5.
// Engines identify documents by an opaque reference string supplied by the
// caller and allocate a monotonically increasing int64 document ID for every
// indexing operation. IDs are never reused; re-indexing a reference retires
// its old ID.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/serhiybutz/docindexer/internal/analysis"
)

var (
	// ErrClosed is returned by every operation on a closed engine.
	ErrClosed = errors.New("index is closed")

	// ErrDocumentNotFound is returned when a reference is not indexed.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnsupportedSearch is returned when the search options need a
	// capability the index type lacks.
	ErrUnsupportedSearch = errors.New("search not supported by index type")

	// ErrIndexNotFound is returned by Open when no index exists at the path.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned by Create when the path is taken.
	ErrIndexExists = errors.New("index already exists")

	// ErrSearchCancelled is returned by FindMatches after Cancel.
	ErrSearchCancelled = errors.New("search cancelled")
)

// IndexType mirrors the classic inverted/vector index split.
type IndexType string

const (
	IndexTypeUnknown        IndexType = "unknown"
	IndexTypeInverted       IndexType = "inverted"
	IndexTypeVector         IndexType = "vector"
	IndexTypeInvertedVector IndexType = "inverted_vector"
)

// SupportsQuery reports whether term queries are available.
func (t IndexType) SupportsQuery() bool {
	return t != IndexTypeVector
}

// SupportsSimilarity reports whether find-similar searches are available.
func (t IndexType) SupportsSimilarity() bool {
	return t == IndexTypeVector || t == IndexTypeInvertedVector
}

// SearchOption is a bitset of search flags passed through to the engine.
type SearchOption uint32

const (
	SearchDefault           SearchOption = 0
	SearchNoRelevanceScores SearchOption = 1 << 0
	SearchSpaceMeansOr      SearchOption = 1 << 1
	SearchFindSimilar       SearchOption = 1 << 2
)

// Has reports whether all bits of o are set.
func (s SearchOption) Has(o SearchOption) bool {
	return s&o == o
}

// Config is fixed at index creation and persisted with the index.
type Config struct {
	IndexType IndexType       `json:"index_type"`
	Analysis  analysis.Config `json:"analysis"`
}

// DefaultConfig returns the configuration of an inverted index with default
// text analysis.
func DefaultConfig() Config {
	return Config{
		IndexType: IndexTypeInverted,
		Analysis:  analysis.DefaultConfig(),
	}
}

// Info describes an open engine.
type Info struct {
	Backend Backend
	Path    string
	Config  Config
}

// Batch is the result of one bounded FindMatches call.
type Batch struct {
	// IDs are the matched document IDs, best match first.
	IDs []int64

	// Scores are relevance scores aligned with IDs. All zero when relevance
	// scores were suppressed.
	Scores []float32

	// More is true while the search can produce further matches.
	More bool
}

// Engine is a full-text index.
//
// Behavior:
//   - Mutations may be buffered until Flush; a search only sees flushed state.
//   - MaxDocumentID and DocumentCount include buffered mutations.
//   - Engines are safe for concurrent use, but callers serialize mutations.
type Engine interface {
	// AddDocument indexes text under ref, replacing any previous version.
	AddDocument(ctx context.Context, ref string, text string) error

	// RemoveDocument removes ref. Returns ErrDocumentNotFound when absent.
	RemoveDocument(ctx context.Context, ref string) error

	// SetProperties replaces the properties attached to ref.
	SetProperties(ctx context.Context, ref string, props map[string]any) error

	// Properties returns the properties attached to ref, or nil.
	Properties(ctx context.Context, ref string) (map[string]any, error)

	// Flush commits buffered mutations.
	Flush(ctx context.Context) error

	// Compact reclaims space held by removed documents.
	Compact(ctx context.Context) error

	// MaxDocumentID returns the highest document ID ever allocated.
	MaxDocumentID(ctx context.Context) (int64, error)

	// DocumentCount returns the number of live documents.
	DocumentCount(ctx context.Context) (int64, error)

	// NewSearch prepares a search. No matching happens until FindMatches.
	NewSearch(ctx context.Context, query string, opts SearchOption) (Search, error)

	// ResolveDocuments maps IDs to references. The result is aligned with
	// ids; an ID that no longer resolves yields "".
	ResolveDocuments(ctx context.Context, ids []int64) ([]string, error)

	// Info describes the engine.
	Info() Info

	// Close releases the engine. Buffered mutations are flushed first.
	Close() error
}

// Search is an engine search in progress.
type Search interface {
	// FindMatches returns up to maxCount further matches, best first. The
	// first call captures the ranked match set, so documents added or
	// removed later never shift the matches still to come. After the first
	// match the batch stops once maxTime has elapsed; 0 asks for a prompt
	// return. A batch may be empty while More is still true.
	FindMatches(ctx context.Context, maxCount int, maxTime time.Duration) (Batch, error)

	// Cancel stops the search. It is idempotent.
	Cancel()
}
