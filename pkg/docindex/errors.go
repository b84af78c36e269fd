package docindex

import (
	ierrors "github.com/serhiybutz/docindexer/internal/errors"
	"github.com/serhiybutz/docindexer/internal/store"
)

// Error is the coded error returned by Indexer operations.
type Error = ierrors.Error

// Sentinels for errors.Is. They match any Error carrying the same code.
var (
	ErrConstructionFailed = ierrors.Sentinel(ierrors.ErrCodeConstructionFailed, "failed to construct index")
	ErrIndexingFailed     = ierrors.Sentinel(ierrors.ErrCodeIndexingFailed, "failed to index document")
	ErrRemovalFailed      = ierrors.Sentinel(ierrors.ErrCodeRemovalFailed, "failed to remove document")
	ErrFlushFailed        = ierrors.Sentinel(ierrors.ErrCodeFlushFailed, "failed to flush index")
	ErrCompactFailed      = ierrors.Sentinel(ierrors.ErrCodeCompactFailed, "failed to compact index")
	ErrPropertiesFailed   = ierrors.Sentinel(ierrors.ErrCodePropertiesFailed, "failed to access document properties")
	ErrSearchFailed       = ierrors.Sentinel(ierrors.ErrCodeSearchFailed, "search failed")
	ErrInvalidRequest     = ierrors.Sentinel(ierrors.ErrCodeInvalidInput, "invalid request")
)

// Engine-level conditions, reachable through errors.Is on any Error.
var (
	ErrClosed            = store.ErrClosed
	ErrIndexNotFound     = store.ErrIndexNotFound
	ErrIndexExists       = store.ErrIndexExists
	ErrDocumentNotFound  = store.ErrDocumentNotFound
	ErrUnsupportedSearch = store.ErrUnsupportedSearch
)
