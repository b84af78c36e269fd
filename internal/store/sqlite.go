package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/serhiybutz/docindexer/internal/analysis"
)

const (
	sqliteSchemaVersion = 1
	refCacheSize        = 4096
	metaKeyConfig       = "config"
)

// SQLiteEngine implements Engine on SQLite FTS5.
//
// Mutations are committed immediately, so Flush only checkpoints the WAL.
// Document IDs come from an AUTOINCREMENT key and are never reused.
type SQLiteEngine struct {
	mu       sync.RWMutex
	db       *sql.DB
	keeper   *sql.Conn
	path     string
	config   Config
	analyzer *analysis.Analyzer
	refs     *lru.Cache[int64, string]
	closed   bool
}

// NewSQLiteEngine creates an index. An empty path creates an in-memory index;
// otherwise path must not exist yet.
func NewSQLiteEngine(path string, cfg Config) (*SQLiteEngine, error) {
	if cfg.IndexType == "" || cfg.IndexType == IndexTypeUnknown {
		cfg.IndexType = IndexTypeInverted
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrIndexExists, path)
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, keeper, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	e, err := newSQLiteEngine(db, keeper, path, cfg)
	if err != nil {
		_ = closeSQLite(db, keeper)
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = closeSQLite(db, keeper)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return e, nil
}

// OpenSQLiteEngine opens an index created by NewSQLiteEngine.
func OpenSQLiteEngine(path string) (*SQLiteEngine, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if err := validateSQLiteIntegrity(path); err != nil {
		return nil, err
	}

	db, _, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	var encoded string
	err = db.QueryRow(`SELECT value FROM index_meta WHERE key = ?`, metaKeyConfig).Scan(&encoded)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read index config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal([]byte(encoded), &cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to decode index config: %w", err)
	}

	e, err := newSQLiteEngine(db, nil, path, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func newSQLiteEngine(db *sql.DB, keeper *sql.Conn, path string, cfg Config) (*SQLiteEngine, error) {
	cache, err := lru.New[int64, string](refCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference cache: %w", err)
	}
	return &SQLiteEngine{
		db:       db,
		keeper:   keeper,
		path:     path,
		config:   cfg,
		analyzer: analysis.New(cfg.Analysis),
		refs:     cache,
	}, nil
}

// sqlitePragmas apply to every pooled connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"cache_size(-65536)",
	"temp_store(MEMORY)",
}

// openSQLite opens the database at path, or a private in-memory database
// when path is empty. The in-memory database is named and shared between
// the pool's connections; the returned keeper connection holds it open, so
// a connection that database/sql discards (a cancelled transaction, say) is
// replaced by one attached to the same data. keeper is nil for files.
func openSQLite(path string) (db *sql.DB, keeper *sql.Conn, err error) {
	params := url.Values{}
	for _, pragma := range sqlitePragmas {
		params.Add("_pragma", pragma)
	}

	var dsn string
	if path == "" {
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		dsn = "file:docindex-" + uuid.NewString() + "?" + params.Encode()
	} else {
		params.Add("_pragma", "journal_mode(WAL)")
		dsn = path + "?" + params.Encode()
	}

	db, err = sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One working connection: SQLite allows one writer anyway. In memory a
	// second slot goes to the keeper.
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if path != "" {
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil, nil
	}

	db.SetMaxOpenConns(2)
	keeper, err = db.Conn(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, keeper, nil
}

// validateSQLiteIntegrity checks that path holds a document index.
func validateSQLiteIntegrity(path string) error {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name IN ('documents', 'fts_content', 'index_meta')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 3 {
		return fmt.Errorf("%s is not a document index", path)
	}
	return nil
}

func (s *SQLiteEngine) initSchema() error {
	encoded, err := json.Marshal(s.config)
	if err != nil {
		return err
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- AUTOINCREMENT keeps ids monotonic across deletes
	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		ref        TEXT NOT NULL UNIQUE,
		properties TEXT
	);

	-- rowid mirrors documents.id; content holds analyzed terms
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		content,
		tokenize=%s
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (%d);
	`, sqlLiteral(ftsTokenizer(s.config.Analysis)), sqliteSchemaVersion)

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO index_meta (key, value) VALUES (?, ?)`, metaKeyConfig, string(encoded))
	return err
}

// ftsTokenizer builds an FTS5 tokenizer spec that keeps the analyzer's extra
// term characters inside tokens.
func ftsTokenizer(cfg analysis.Config) string {
	var chars strings.Builder
	seen := make(map[rune]bool)
	for _, r := range cfg.TermChars + cfg.StartTermChars + cfg.EndTermChars {
		if seen[r] || r == '\'' || r == '"' || r == ' ' {
			continue
		}
		seen[r] = true
		chars.WriteRune(r)
	}

	spec := "unicode61 remove_diacritics 0"
	if chars.Len() > 0 {
		spec += " tokenchars " + sqlLiteral(chars.String())
	}
	return spec
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// AddDocument implements Engine.
func (s *SQLiteEngine) AddDocument(ctx context.Context, ref string, text string) error {
	content := strings.Join(s.analyzer.Terms(text), " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldID int64
	var props sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT id, properties FROM documents WHERE ref = ?`, ref).Scan(&oldID, &props)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to look up document %s: %w", ref, err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE rowid = ?`, oldID); err != nil {
			return fmt.Errorf("failed to retire document %s: %w", ref, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("failed to retire document %s: %w", ref, err)
		}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO documents (ref, properties) VALUES (?, ?)`, ref, props)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", ref, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read document id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO fts_content (rowid, content) VALUES (?, ?)`, id, content); err != nil {
		return fmt.Errorf("failed to index document %s: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if oldID != 0 {
		s.refs.Remove(oldID)
	}
	s.refs.Add(id, ref)
	return nil
}

// RemoveDocument implements Engine.
func (s *SQLiteEngine) RemoveDocument(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE ref = ?`, ref).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("failed to look up document %s: %w", ref, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_content WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", ref, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.refs.Remove(id)
	return nil
}

// SetProperties implements Engine.
func (s *SQLiteEngine) SetProperties(ctx context.Context, ref string, props map[string]any) error {
	var encoded sql.NullString
	if props != nil {
		data, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("failed to encode properties: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `UPDATE documents SET properties = ? WHERE ref = ?`, encoded, ref)
	if err != nil {
		return fmt.Errorf("failed to set properties of %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	return nil
}

// Properties implements Engine.
func (s *SQLiteEngine) Properties(ctx context.Context, ref string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var encoded sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT properties FROM documents WHERE ref = ?`, ref).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !encoded.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", ref, err)
	}

	var props map[string]any
	if err := json.Unmarshal([]byte(encoded.String), &props); err != nil {
		return nil, fmt.Errorf("failed to decode properties of %s: %w", ref, err)
	}
	return props, nil
}

// Flush implements Engine.
func (s *SQLiteEngine) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.path == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return nil
}

// Compact implements Engine. It merges the FTS5 b-trees and rebuilds the
// database file.
func (s *SQLiteEngine) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO fts_content(fts_content) VALUES('optimize')`); err != nil {
		return fmt.Errorf("failed to optimize full-text index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// MaxDocumentID implements Engine.
func (s *SQLiteEngine) MaxDocumentID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM sqlite_sequence WHERE name = 'documents'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read id sequence: %w", err)
	}
	return seq, nil
}

// DocumentCount implements Engine.
func (s *SQLiteEngine) DocumentCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// NewSearch implements Engine.
func (s *SQLiteEngine) NewSearch(_ context.Context, q string, opts SearchOption) (Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if err := checkSearchSupport(s.config.IndexType, opts); err != nil {
		return nil, err
	}

	return &sqliteSearch{
		engine: s,
		match:  ftsMatch(parseQuery(s.analyzer, q, opts)),
		opts:   opts,
	}, nil
}

// ftsMatch renders a plan as an FTS5 MATCH expression; "" matches nothing.
func ftsMatch(p plan) string {
	if p.empty() {
		return ""
	}

	parts := make([]string, 0, len(p.clauses))
	for _, c := range p.clauses {
		quoted := `"` + strings.ReplaceAll(strings.Join(c.terms, " "), `"`, `""`) + `"`
		if c.prefix {
			quoted += "*"
		}
		parts = append(parts, quoted)
	}

	op := " AND "
	if p.any {
		op = " OR "
	}
	return strings.Join(parts, op)
}

// ResolveDocuments implements Engine.
func (s *SQLiteEngine) ResolveDocuments(ctx context.Context, ids []int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	refs := make([]string, len(ids))
	var missing []any
	for i, id := range ids {
		if ref, ok := s.refs.Get(id); ok {
			refs[i] = ref
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return refs, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(missing)), ",")
	rows, err := s.db.QueryContext(ctx, `SELECT id, ref FROM documents WHERE id IN (`+placeholders+`)`, missing...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve documents: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]string, len(missing))
	for rows.Next() {
		var id int64
		var ref string
		if err := rows.Scan(&id, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		found[id] = ref
		s.refs.Add(id, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve documents: %w", err)
	}

	for i, id := range ids {
		if refs[i] == "" {
			refs[i] = found[id]
		}
	}
	return refs, nil
}

// Info implements Engine.
func (s *SQLiteEngine) Info() Info {
	return Info{Backend: BackendSQLite, Path: s.path, Config: s.config}
}

// Close implements Engine.
func (s *SQLiteEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return closeSQLite(s.db, s.keeper)
}

func closeSQLite(db *sql.DB, keeper *sql.Conn) error {
	var err error
	if keeper != nil {
		err = keeper.Close()
	}
	return errors.Join(err, db.Close())
}

// sqliteSearch hands out the matches of one MATCH expression.
type sqliteSearch struct {
	engine    *SQLiteEngine
	match     string
	opts      SearchOption
	matches   *matchSet
	cancelled atomic.Bool
}

// FindMatches implements Search.
func (q *sqliteSearch) FindMatches(ctx context.Context, maxCount int, maxTime time.Duration) (Batch, error) {
	deadline := time.Now().Add(maxTime)
	if q.cancelled.Load() {
		return Batch{}, ErrSearchCancelled
	}
	if q.match == "" {
		return Batch{}, nil
	}
	if q.matches == nil {
		m, err := q.engine.findMatches(ctx, q.match, q.opts)
		if err != nil {
			return Batch{}, err
		}
		q.matches = m
	}
	if maxCount <= 0 {
		return Batch{More: q.matches.pos < len(q.matches.ids)}, nil
	}
	return q.matches.take(maxCount, deadline), nil
}

// Cancel implements Search.
func (q *sqliteSearch) Cancel() {
	q.cancelled.Store(true)
}

// findMatches runs the query to completion. IDs only are kept, so the match
// set stays small next to the documents themselves.
func (s *SQLiteEngine) findMatches(ctx context.Context, match string, opts SearchOption) (*matchSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stmt := `SELECT rowid, -bm25(fts_content) FROM fts_content
	         WHERE fts_content MATCH ? ORDER BY bm25(fts_content), rowid`
	if opts.Has(SearchNoRelevanceScores) {
		stmt = `SELECT rowid, 0.0 FROM fts_content
		        WHERE fts_content MATCH ? ORDER BY rowid`
	}

	rows, err := s.db.QueryContext(ctx, stmt, match)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	m := &matchSet{}
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		m.ids = append(m.ids, id)
		m.scores = append(m.scores, float32(score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return m, nil
}

var (
	_ Engine = (*SQLiteEngine)(nil)
	_ Search = (*sqliteSearch)(nil)
)
