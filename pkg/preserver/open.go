package preserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

// Store is a Preserver holding resources that must be released.
type Store interface {
	fragmentation.Preserver
	Close() error
}

type memoryStore struct {
	*fragmentation.MemoryPreserver
}

func (memoryStore) Close() error { return nil }

// Open builds a Store from a location string:
//
//	memory                          process memory, lost on exit
//	/path/to/snapshot.yaml          YAML file (also file:///path)
//	sqlite:///path/to/state.db      SQLite table
//	postgres://user@host/db         PostgreSQL table
//	redis://host:6379/0             Redis hash
//
// key identifies the index in shared stores (SQL, Redis).
func Open(ctx context.Context, location, key string) (Store, error) {
	if location == "memory" {
		return memoryStore{fragmentation.NewMemoryPreserver()}, nil
	}
	if location == "" {
		return nil, fmt.Errorf("empty preserver location")
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return NewFilePreserver(location), nil
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFilePreserver(u.Path), nil

	case "sqlite":
		db, err := sql.Open("sqlite", u.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		p, err := NewSQLPreserver(ctx, db, DialectSQLite, key)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		p.ownsDB = true
		return p, nil

	case "postgres", "postgresql":
		db, err := sql.Open("postgres", location)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		p, err := NewSQLPreserver(ctx, db, DialectPostgres, key)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		p.ownsDB = true
		return p, nil

	case "redis", "rediss":
		opts, err := redis.ParseURL(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		p, err := NewRedisPreserver(rdb, key)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		p.ownsRDB = true
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported preserver scheme: %s (valid options: memory, file, sqlite, postgres, redis)", u.Scheme)
	}
}
