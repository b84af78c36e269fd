package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away. The new name
	// arrives as a separate OpCreate.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the absolute path of the file or directory.
	Path string

	Operation Operation

	// IsDir is only reliable for creations; removed paths cannot be stat'ed.
	IsDir bool

	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 100
	EventBufferSize int

	// Extensions limits files to these extensions (".md"). Empty accepts all.
	Extensions []string

	// Ignore holds filepath.Match patterns tested against base names.
	Ignore []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// Filter returns the path filter described by the options.
func (o Options) Filter() Filter {
	f := Filter{ignore: o.Ignore}
	if len(o.Extensions) > 0 {
		f.extensions = make(map[string]bool, len(o.Extensions))
		for _, ext := range o.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.extensions[ext] = true
		}
	}
	return f
}

// Filter decides which paths are indexed. Hidden files and directories are
// always skipped.
type Filter struct {
	extensions map[string]bool
	ignore     []string
}

// Dir reports whether the directory at path should be descended into.
func (f Filter) Dir(path string) bool {
	return !f.ignored(filepath.Base(path))
}

// File reports whether the file at path should be indexed.
func (f Filter) File(path string) bool {
	base := filepath.Base(path)
	if f.ignored(base) {
		return false
	}
	if f.extensions == nil {
		return true
	}
	return f.extensions[strings.ToLower(filepath.Ext(base))]
}

func (f Filter) ignored(base string) bool {
	if strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}
	for _, pattern := range f.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
