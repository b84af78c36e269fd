// Package preserver provides durable fragmentation.Preserver implementations:
// a YAML file guarded by a cross-process lock, a SQL table (SQLite or
// PostgreSQL) and a Redis hash.
package preserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

const fileFormatVersion = 1

type fileSnapshot struct {
	Version   int                    `yaml:"version"`
	Snapshot  fragmentation.Snapshot `yaml:"snapshot"`
	UpdatedAt time.Time              `yaml:"updated_at"`
}

// FilePreserver keeps the snapshot in a YAML file. Concurrent processes are
// serialized with a lock file next to it; mu serializes goroutines, which
// share one flock.
type FilePreserver struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ fragmentation.Preserver = (*FilePreserver)(nil)

// NewFilePreserver returns a preserver writing to path. The file and its
// directory are created on the first Preserve.
func NewFilePreserver(path string) *FilePreserver {
	return &FilePreserver{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the snapshot file path.
func (p *FilePreserver) Path() string {
	return p.path
}

// Preserve implements fragmentation.Preserver. The file is replaced
// atomically.
func (p *FilePreserver) Preserve(_ context.Context, s fragmentation.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = p.lock.Unlock() }()

	data, err := yaml.Marshal(fileSnapshot{
		Version:   fileFormatVersion,
		Snapshot:  s,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Restore implements fragmentation.Preserver.
func (p *FilePreserver) Restore(_ context.Context) (fragmentation.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := os.Stat(filepath.Dir(p.path)); err == nil {
		if err := p.lock.RLock(); err != nil {
			return fragmentation.Snapshot{}, fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer func() { _ = p.lock.Unlock() }()
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return fragmentation.Snapshot{}, fragmentation.ErrNoSnapshot
	}
	if err != nil {
		return fragmentation.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var fs fileSnapshot
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return fragmentation.Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", p.path, err)
	}
	if fs.Version != fileFormatVersion {
		return fragmentation.Snapshot{}, fmt.Errorf("unsupported snapshot version %d in %s", fs.Version, p.path)
	}
	return fs.Snapshot, nil
}

// Close implements Store.
func (p *FilePreserver) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lock.Close()
}
