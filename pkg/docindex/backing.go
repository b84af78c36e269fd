package docindex

import "github.com/serhiybutz/docindexer/internal/store"

// Backing selects where the index of a new Indexer lives. It is one of
// InMemory, CreateOnDisk or OpenOnDisk.
type Backing interface {
	backing()
}

// InMemory creates a transient index that disappears on Close.
type InMemory struct {
	Config IndexConfig
}

// CreateOnDisk creates a new index at Path. It fails if one already exists.
type CreateOnDisk struct {
	Path   string
	Config IndexConfig
}

// OpenOnDisk opens the existing index at Path. The configuration stored with
// the index is used.
type OpenOnDisk struct {
	Path string
}

func (InMemory) backing()     {}
func (CreateOnDisk) backing() {}
func (OpenOnDisk) backing()   {}

// Exists reports whether an index exists at path. The backend extension may
// be omitted.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	backend, _ := store.DetectBackend(path)
	return backend != ""
}

// BackingFor opens the index at path if one exists and creates it with cfg
// otherwise. An empty path selects an in-memory index.
func BackingFor(path string, cfg IndexConfig) Backing {
	switch {
	case path == "":
		return InMemory{Config: cfg}
	case Exists(path):
		return OpenOnDisk{Path: path}
	default:
		return CreateOnDisk{Path: path, Config: cfg}
	}
}
