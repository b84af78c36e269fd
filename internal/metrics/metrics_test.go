package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serhiybutz/docindexer/pkg/docindex"
)

func TestMetrics_RecordsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordMutation("index", nil)
	m.RecordMutation("index", nil)
	m.RecordMutation("remove", errors.New("missing"))
	m.RecordFlush("after_update", errors.New("disk full"))
	m.RecordCompaction(nil)
	m.RecordSearchBatch(3, 10*time.Millisecond)
	m.RecordUncompacted(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("index", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("remove", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("after_update", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompactionsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchBatchesTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.UncompactedDocuments))
}

func TestMetrics_FedByIndexer(t *testing.T) {
	// Given an indexer reporting to a fresh registry
	reg := prometheus.NewRegistry()
	m := New(reg)
	ctx := context.Background()
	ix, err := docindex.New(ctx, docindex.InMemory{},
		docindex.WithRecorder(m),
		docindex.WithAutoflush(docindex.AutoflushAfterEachUpdate))
	require.NoError(t, err)
	defer ix.Close()
	require.NoError(t, m.ObserveIndex(ix))

	// When a document is indexed and searched
	require.NoError(t, ix.IndexDocument(ctx, docindex.MustParseDocumentURL("mem://t/a"), "metrics everywhere"))
	require.NoError(t, ix.SearchEach(ctx, docindex.NewSearchRequest("metrics"), func([]docindex.SearchHit, bool) bool { return false }))

	// Then the collectors reflect it
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues("index", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("after_update", "ok")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.SearchBatchesTotal), 1.0)

	expected := `
# HELP docindexer_documents Live documents in the index.
# TYPE docindexer_documents gauge
docindexer_documents 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "docindexer_documents"))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordCompaction(nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `docindexer_compactions_total{status="ok"} 1`)
}
