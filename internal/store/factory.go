package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend selects the engine implementation.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 (default). Mutations are visible to
	// searches immediately.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses Bleve v2. Mutations become visible on Flush.
	BackendBleve Backend = "bleve"
)

const (
	sqliteExt = ".db"
	bleveExt  = ".bleve"
)

// ParseBackend validates a backend name. Empty selects the default.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case BackendSQLite, "":
		return BackendSQLite, nil
	case BackendBleve:
		return BackendBleve, nil
	default:
		return "", fmt.Errorf("unknown backend: %s (valid options: sqlite, bleve)", s)
	}
}

// Create creates an index with the given backend. An empty path creates an
// in-memory index. A path without extension gets the backend's extension.
func Create(backend Backend, path string, cfg Config) (Engine, error) {
	backend, err := ParseBackend(string(backend))
	if err != nil {
		return nil, err
	}

	path = IndexPath(path, backend)
	if path != "" && exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, path)
	}

	switch backend {
	case BackendBleve:
		return NewBleveEngine(path, cfg)
	default:
		return NewSQLiteEngine(path, cfg)
	}
}

// Open opens an existing index, detecting its backend from the path.
func Open(path string) (Engine, error) {
	backend, resolved := DetectBackend(path)
	switch backend {
	case BackendBleve:
		return OpenBleveEngine(resolved)
	case BackendSQLite:
		return OpenSQLiteEngine(resolved)
	default:
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
}

// DetectBackend finds which backend an existing index uses. It accepts
// either the full path or the base path without extension, and returns the
// resolved path. The backend is empty when no index exists.
func DetectBackend(path string) (Backend, string) {
	switch filepath.Ext(path) {
	case sqliteExt:
		if fileExists(path) {
			return BackendSQLite, path
		}
		return "", path
	case bleveExt:
		if dirExists(path) {
			return BackendBleve, path
		}
		return "", path
	}

	if fileExists(path + sqliteExt) {
		return BackendSQLite, path + sqliteExt
	}
	if dirExists(path + bleveExt) {
		return BackendBleve, path + bleveExt
	}
	if dirExists(path) && fileExists(filepath.Join(path, "index_meta.json")) {
		return BackendBleve, path
	}
	if fileExists(path) {
		return BackendSQLite, path
	}
	return "", path
}

// IndexPath appends the backend extension to a path that has none.
func IndexPath(path string, backend Backend) string {
	if path == "" || filepath.Ext(path) != "" {
		return path
	}
	if backend == BackendBleve {
		return path + bleveExt
	}
	return path + sqliteExt
}

// Exists reports whether an index of any backend exists at path.
func Exists(path string) bool {
	backend, _ := DetectBackend(path)
	return backend != ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
