package docindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serhiybutz/docindexer/internal/store"
)

func TestAutoflushStrategy(t *testing.T) {
	tests := []struct {
		strategy     AutoflushStrategy
		name         string
		beforeSearch bool
		afterUpdate  bool
	}{
		{AutoflushNone, "none", false, false},
		{AutoflushBeforeEachSearch, "before_each_search", true, false},
		{AutoflushAfterEachUpdate, "after_each_update", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.strategy.String())
			assert.Equal(t, tt.beforeSearch, tt.strategy.FlushBeforeSearch())
			assert.Equal(t, tt.afterUpdate, tt.strategy.FlushAfterUpdate())

			parsed, err := ParseAutoflushStrategy(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, parsed)
		})
	}

	parsed, err := ParseAutoflushStrategy("")
	require.NoError(t, err)
	assert.Equal(t, AutoflushNone, parsed)

	_, err = ParseAutoflushStrategy("sometimes")
	assert.Error(t, err)
}

func TestNewSearchRequest_Defaults(t *testing.T) {
	req := NewSearchRequest("q")

	assert.Equal(t, DefaultHitsPerBatch, req.HitsPerBatch)
	assert.Equal(t, DefaultMaxTimePerBatch, req.MaxTimePerBatch)
	assert.Equal(t, SearchOptionDefault, req.Options)
}

func TestSearchOptions_PassThrough(t *testing.T) {
	opts := SearchOptionSpaceMeansOr | SearchOptionNoRelevanceScores

	engineOpts := store.SearchOption(opts)

	assert.True(t, engineOpts.Has(store.SearchSpaceMeansOr))
	assert.True(t, engineOpts.Has(store.SearchNoRelevanceScores))
	assert.False(t, engineOpts.Has(store.SearchFindSimilar))
}

func TestIndexConfig_DefaultsToInverted(t *testing.T) {
	cfg := IndexConfig{TextAnalysis: DefaultTextAnalysisProperties()}.storeConfig()

	assert.Equal(t, store.IndexTypeInverted, cfg.IndexType)
	assert.Equal(t, 1, cfg.Analysis.MinTermLength)
}
