package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	bleveanalysis "github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/index/scorch/mergeplan"
	"github.com/blevesearch/bleve/v2/mapping"
	blevereg "github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/serhiybutz/docindexer/internal/analysis"
)

const (
	// TermsTokenizerName is the registered tokenizer type that runs the
	// document analyzer inside bleve.
	TermsTokenizerName = "docindexer_terms"

	termsTokenizer = "docindexer_index_terms"
	termsAnalyzer  = "docindexer_analyzer"
	contentField   = "content"
)

func init() {
	_ = blevereg.RegisterTokenizer(TermsTokenizerName, termsTokenizerConstructor)
}

// BleveEngine implements Engine on Bleve v2.
//
// Mutations accumulate in a bleve batch that Flush executes together with
// the encoded registry, so the registry on disk always matches the indexed
// documents.
type BleveEngine struct {
	mu       sync.RWMutex
	index    bleve.Index
	path     string
	analyzer *analysis.Analyzer
	reg      *registry
	batch    *bleve.Batch
	dirty    bool
	closed   bool
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveEngine creates an index. An empty path creates an in-memory index;
// otherwise path must not exist yet.
func NewBleveEngine(path string, cfg Config) (*BleveEngine, error) {
	if cfg.IndexType == "" || cfg.IndexType == IndexTypeUnknown {
		cfg.IndexType = IndexTypeInverted
	}

	indexMapping, err := createIndexMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	e := &BleveEngine{
		index:    idx,
		path:     path,
		analyzer: analysis.New(cfg.Analysis),
		reg:      newRegistry(cfg),
		batch:    idx.NewBatch(),
		dirty:    true,
	}
	if err := e.Flush(context.Background()); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return e, nil
}

// OpenBleveEngine opens an index created by NewBleveEngine.
func OpenBleveEngine(path string) (*BleveEngine, error) {
	if err := validateIndexIntegrity(path); err != nil {
		return nil, err
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	blob, err := idx.GetInternal(registryKey)
	if err != nil || len(blob) == 0 {
		_ = idx.Close()
		return nil, fmt.Errorf("index at %s has no document registry: %v", path, err)
	}
	reg, err := decodeRegistry(blob)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	return &BleveEngine{
		index:    idx,
		path:     path,
		analyzer: analysis.New(reg.config.Analysis),
		reg:      reg,
		batch:    idx.NewBatch(),
	}, nil
}

// validateIndexIntegrity checks that path looks like a bleve index before
// handing it to bleve.Open.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// createIndexMapping wires the configured analyzer into the content field.
func createIndexMapping(cfg Config) (*mapping.IndexMappingImpl, error) {
	encoded, err := cfg.Analysis.Encode()
	if err != nil {
		return nil, err
	}

	indexMapping := bleve.NewIndexMapping()

	err = indexMapping.AddCustomTokenizer(termsTokenizer, map[string]interface{}{
		"type":     TermsTokenizerName,
		"analysis": encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom tokenizer: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(termsAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": termsTokenizer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	contentMapping := bleve.NewTextFieldMapping()
	contentMapping.Analyzer = termsAnalyzer
	contentMapping.Store = false
	contentMapping.IncludeTermVectors = cfg.Analysis.ProximityIndexing

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(contentField, contentMapping)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = termsAnalyzer

	return indexMapping, nil
}

func docKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// AddDocument implements Engine.
func (e *BleveEngine) AddDocument(_ context.Context, ref string, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	id, retired, err := e.reg.allocate(ref)
	if err != nil {
		return err
	}
	if retired != 0 {
		e.batch.Delete(docKey(retired))
	}
	if err := e.batch.Index(docKey(id), bleveDocument{Content: text}); err != nil {
		return fmt.Errorf("failed to index document %s: %w", ref, err)
	}
	e.dirty = true
	return nil
}

// RemoveDocument implements Engine.
func (e *BleveEngine) RemoveDocument(_ context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	id, ok := e.reg.remove(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	e.batch.Delete(docKey(id))
	e.dirty = true
	return nil
}

// SetProperties implements Engine.
func (e *BleveEngine) SetProperties(_ context.Context, ref string, props map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if !e.reg.setProps(ref, props) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, ref)
	}
	e.dirty = true
	return nil
}

// Properties implements Engine.
func (e *BleveEngine) Properties(_ context.Context, ref string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	props, _ := e.reg.getProps(ref)
	return props, nil
}

// Flush implements Engine.
func (e *BleveEngine) Flush(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	return e.flushLocked()
}

func (e *BleveEngine) flushLocked() error {
	if !e.dirty {
		return nil
	}

	blob, err := e.reg.encode()
	if err != nil {
		return err
	}
	e.batch.SetInternal(registryKey, blob)

	if err := e.index.Batch(e.batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	e.batch = e.index.NewBatch()
	e.dirty = false
	return nil
}

// forceMerger is implemented by scorch indexes.
type forceMerger interface {
	ForceMerge(ctx context.Context, mo *mergeplan.MergePlanOptions) error
}

// Compact implements Engine. On-disk scorch indexes are merged down to a
// single segment; in-memory indexes hold no tombstoned segments to merge.
func (e *BleveEngine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := e.flushLocked(); err != nil {
		return err
	}

	adv, err := e.index.Advanced()
	if err != nil {
		return fmt.Errorf("failed to access index internals: %w", err)
	}
	fm, ok := adv.(forceMerger)
	if !ok {
		slog.Debug("bleve_compact_skipped", slog.String("path", e.path))
		return nil
	}
	if err := fm.ForceMerge(ctx, nil); err != nil {
		return fmt.Errorf("failed to merge segments: %w", err)
	}
	return nil
}

// MaxDocumentID implements Engine.
func (e *BleveEngine) MaxDocumentID(_ context.Context) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, ErrClosed
	}
	return e.reg.maxID(), nil
}

// DocumentCount implements Engine.
func (e *BleveEngine) DocumentCount(_ context.Context) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, ErrClosed
	}
	return e.reg.count(), nil
}

// NewSearch implements Engine.
func (e *BleveEngine) NewSearch(_ context.Context, q string, opts SearchOption) (Search, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := checkSearchSupport(e.reg.config.IndexType, opts); err != nil {
		return nil, err
	}

	return &bleveSearch{
		engine: e,
		query:  bleveQuery(parseQuery(e.analyzer, q, opts)),
		opts:   opts,
	}, nil
}

func checkSearchSupport(t IndexType, opts SearchOption) error {
	if opts.Has(SearchFindSimilar) {
		if !t.SupportsSimilarity() {
			return fmt.Errorf("%w: find similar on %s index", ErrUnsupportedSearch, t)
		}
		return nil
	}
	if !t.SupportsQuery() {
		return fmt.Errorf("%w: term query on %s index", ErrUnsupportedSearch, t)
	}
	return nil
}

// bleveQuery renders a plan; nil means the query can match nothing.
func bleveQuery(p plan) query.Query {
	if p.empty() {
		return nil
	}

	parts := make([]query.Query, 0, len(p.clauses))
	for _, c := range p.clauses {
		switch {
		case c.phrase():
			parts = append(parts, bleve.NewPhraseQuery(c.terms, contentField))
		case c.prefix:
			pq := bleve.NewPrefixQuery(c.terms[0])
			pq.SetField(contentField)
			parts = append(parts, pq)
		default:
			tq := bleve.NewTermQuery(c.terms[0])
			tq.SetField(contentField)
			parts = append(parts, tq)
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if p.any {
		return bleve.NewDisjunctionQuery(parts...)
	}
	return bleve.NewConjunctionQuery(parts...)
}

// ResolveDocuments implements Engine.
func (e *BleveEngine) ResolveDocuments(_ context.Context, ids []int64) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	refs := make([]string, len(ids))
	for i, id := range ids {
		refs[i] = e.reg.lookup(id)
	}
	return refs, nil
}

// Info implements Engine.
func (e *BleveEngine) Info() Info {
	return Info{Backend: BackendBleve, Path: e.path, Config: e.reg.config}
}

// Close implements Engine.
func (e *BleveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var flushErr error
	if e.path != "" {
		flushErr = e.flushLocked()
	}
	return errors.Join(flushErr, e.index.Close())
}

// bleveSearch hands out the matches of one query.
type bleveSearch struct {
	engine    *BleveEngine
	query     query.Query
	opts      SearchOption
	matches   *matchSet
	cancelled atomic.Bool
}

// FindMatches implements Search.
func (s *bleveSearch) FindMatches(ctx context.Context, maxCount int, maxTime time.Duration) (Batch, error) {
	deadline := time.Now().Add(maxTime)
	if s.cancelled.Load() {
		return Batch{}, ErrSearchCancelled
	}
	if s.query == nil {
		return Batch{}, nil
	}
	if s.matches == nil {
		m, err := s.engine.findMatches(ctx, s.query, s.opts)
		if err != nil {
			return Batch{}, err
		}
		s.matches = m
	}
	if maxCount <= 0 {
		return Batch{More: s.matches.pos < len(s.matches.ids)}, nil
	}
	return s.matches.take(maxCount, deadline), nil
}

// Cancel implements Search.
func (s *bleveSearch) Cancel() {
	s.cancelled.Store(true)
}

// findMatches collects every hit of q in rank order.
func (e *BleveEngine) findMatches(ctx context.Context, q query.Query, opts SearchOption) (*matchSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}

	total, err := e.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	req := bleve.NewSearchRequestOptions(q, max(int(total), 1), 0, false)
	// _id breaks score ties so the order is total.
	if opts.Has(SearchNoRelevanceScores) {
		req.Score = "none"
		req.SortBy([]string{"_id"})
	} else {
		req.SortBy([]string{"-_score", "_id"})
	}

	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	m := &matchSet{
		ids:    make([]int64, 0, len(res.Hits)),
		scores: make([]float32, 0, len(res.Hits)),
	}
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		score := float32(hit.Score)
		if opts.Has(SearchNoRelevanceScores) {
			score = 0
		}
		m.ids = append(m.ids, id)
		m.scores = append(m.scores, score)
	}
	return m, nil
}

// termsTokenizerConstructor builds the analyzer-backed tokenizer from the
// encoded analysis config stored in the index mapping.
func termsTokenizerConstructor(config map[string]interface{}, cache *blevereg.Cache) (bleveanalysis.Tokenizer, error) {
	encoded, _ := config["analysis"].(string)
	cfg, err := analysis.DecodeConfig(encoded)
	if err != nil {
		return nil, err
	}
	return &termsTokenizerImpl{analyzer: analysis.New(cfg)}, nil
}

type termsTokenizerImpl struct {
	analyzer *analysis.Analyzer
}

// Tokenize implements analysis.Tokenizer.
func (t *termsTokenizerImpl) Tokenize(input []byte) bleveanalysis.TokenStream {
	terms := t.analyzer.Terms(string(input))
	stream := make(bleveanalysis.TokenStream, 0, len(terms))
	for i, term := range terms {
		stream = append(stream, &bleveanalysis.Token{
			Term:     []byte(term),
			Position: i + 1,
			Type:     bleveanalysis.AlphaNumeric,
		})
	}
	return stream
}

var (
	_ Engine = (*BleveEngine)(nil)
	_ Search = (*bleveSearch)(nil)
)
