package preserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/serhiybutz/docindexer/pkg/fragmentation"
)

// Dialect selects the SQL placeholder style.
type Dialect int

const (
	// DialectSQLite uses ? placeholders.
	DialectSQLite Dialect = iota

	// DialectPostgres uses $N placeholders.
	DialectPostgres
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS docindexer_fragmentation (
	index_key       TEXT PRIMARY KEY,
	max_document_id BIGINT NOT NULL,
	document_count  BIGINT NOT NULL,
	updated_at      TIMESTAMP NOT NULL
)`

// SQLPreserver keeps snapshots in a table keyed by index, so several indexes
// can share one database.
type SQLPreserver struct {
	db      *sql.DB
	dialect Dialect
	key     string
	ownsDB  bool
}

var _ fragmentation.Preserver = (*SQLPreserver)(nil)

// NewSQLPreserver creates the snapshot table if needed. key identifies the
// index within the table. The caller keeps ownership of db.
func NewSQLPreserver(ctx context.Context, db *sql.DB, dialect Dialect, key string) (*SQLPreserver, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if key == "" {
		return nil, errors.New("index key is required")
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}
	return &SQLPreserver{db: db, dialect: dialect, key: key}, nil
}

// rebind rewrites ? placeholders for the dialect.
func (p *SQLPreserver) rebind(q string) string {
	if p.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Preserve implements fragmentation.Preserver.
func (p *SQLPreserver) Preserve(ctx context.Context, s fragmentation.Snapshot) error {
	q := p.rebind(`
		INSERT INTO docindexer_fragmentation (index_key, max_document_id, document_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (index_key) DO UPDATE SET
			max_document_id = excluded.max_document_id,
			document_count = excluded.document_count,
			updated_at = excluded.updated_at`)

	if _, err := p.db.ExecContext(ctx, q, p.key, s.MaxDocumentID, s.DocumentCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Restore implements fragmentation.Preserver.
func (p *SQLPreserver) Restore(ctx context.Context) (fragmentation.Snapshot, error) {
	q := p.rebind(`SELECT max_document_id, document_count FROM docindexer_fragmentation WHERE index_key = ?`)

	var s fragmentation.Snapshot
	err := p.db.QueryRowContext(ctx, q, p.key).Scan(&s.MaxDocumentID, &s.DocumentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return fragmentation.Snapshot{}, fragmentation.ErrNoSnapshot
	}
	if err != nil {
		return fragmentation.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return s, nil
}

// Close implements Store. The database is closed only when the preserver
// opened it.
func (p *SQLPreserver) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}
