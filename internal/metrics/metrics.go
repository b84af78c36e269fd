// Package metrics defines the Prometheus collectors of docindexer and
// exposes an HTTP handler for scraping.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serhiybutz/docindexer/pkg/docindex"
)

const namespace = "docindexer"

// Metrics holds the collectors fed by an Indexer. It implements
// docindex.Recorder.
type Metrics struct {
	MutationsTotal       *prometheus.CounterVec
	FlushesTotal         *prometheus.CounterVec
	CompactionsTotal     *prometheus.CounterVec
	SearchBatchesTotal   prometheus.Counter
	SearchBatchHits      prometheus.Histogram
	SearchBatchDuration  prometheus.Histogram
	UncompactedDocuments prometheus.Gauge

	registerer prometheus.Registerer
}

var _ docindex.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Index mutations by operation and status.",
			},
			[]string{"op", "status"},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Index flushes by trigger (explicit, before_search, after_update) and status.",
			},
			[]string{"trigger", "status"},
		),
		CompactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compactions_total",
				Help:      "Index compactions by status.",
			},
			[]string{"status"},
		),
		SearchBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_batches_total",
				Help:      "Search batches produced.",
			},
		),
		SearchBatchHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_batch_hits",
				Help:      "Hits per search batch.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 256, 1000},
			},
		),
		SearchBatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_batch_duration_seconds",
				Help:      "Time spent producing one search batch.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		UncompactedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uncompacted_documents",
				Help:      "Last fragmentation estimate: removed or superseded documents since the last compaction.",
			},
		),
		registerer: reg,
	}

	reg.MustRegister(
		m.MutationsTotal,
		m.FlushesTotal,
		m.CompactionsTotal,
		m.SearchBatchesTotal,
		m.SearchBatchHits,
		m.SearchBatchDuration,
		m.UncompactedDocuments,
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordMutation implements docindex.Recorder.
func (m *Metrics) RecordMutation(op string, err error) {
	m.MutationsTotal.WithLabelValues(op, status(err)).Inc()
}

// RecordFlush implements docindex.Recorder.
func (m *Metrics) RecordFlush(trigger string, err error) {
	m.FlushesTotal.WithLabelValues(trigger, status(err)).Inc()
}

// RecordCompaction implements docindex.Recorder.
func (m *Metrics) RecordCompaction(err error) {
	m.CompactionsTotal.WithLabelValues(status(err)).Inc()
}

// RecordSearchBatch implements docindex.Recorder.
func (m *Metrics) RecordSearchBatch(hits int, elapsed time.Duration) {
	m.SearchBatchesTotal.Inc()
	m.SearchBatchHits.Observe(float64(hits))
	m.SearchBatchDuration.Observe(elapsed.Seconds())
}

// RecordUncompacted implements docindex.Recorder.
func (m *Metrics) RecordUncompacted(n int64) {
	m.UncompactedDocuments.Set(float64(n))
}

// ObserveIndex registers gauges that read the document counters of ix at
// scrape time.
func (m *Metrics) ObserveIndex(ix *docindex.Indexer) error {
	count := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents",
			Help:      "Live documents in the index.",
		},
		func() float64 {
			n, err := ix.DocumentCount(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		},
	)
	maxID := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_document_id",
			Help:      "Highest document ID allocated by the index.",
		},
		func() float64 {
			n, err := ix.MaximumDocumentID(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		},
	)

	if err := m.registerer.Register(count); err != nil {
		return err
	}
	return m.registerer.Register(maxID)
}

// Handler returns the scrape handler for g. A nil g uses the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
