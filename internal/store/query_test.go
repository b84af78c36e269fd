package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/serhiybutz/docindexer/internal/analysis"
)

func TestParseQuery(t *testing.T) {
	plain := analysis.New(analysis.DefaultConfig())
	proximity := analysis.New(analysis.Config{MinTermLength: 1, ProximityIndexing: true})

	tests := []struct {
		name     string
		analyzer *analysis.Analyzer
		query    string
		opts     SearchOption
		want     plan
	}{
		{
			name:     "terms",
			analyzer: plain,
			query:    "Go Search",
			want:     plan{clauses: []clause{{terms: []string{"go"}}, {terms: []string{"search"}}}},
		},
		{
			name:     "space means or",
			analyzer: plain,
			query:    "go search",
			opts:     SearchSpaceMeansOr,
			want:     plan{clauses: []clause{{terms: []string{"go"}}, {terms: []string{"search"}}}, any: true},
		},
		{
			name:     "prefix",
			analyzer: plain,
			query:    "sea*",
			want:     plan{clauses: []clause{{terms: []string{"sea"}, prefix: true}}},
		},
		{
			name:     "phrase with proximity",
			analyzer: proximity,
			query:    `find "new york" now`,
			want: plan{clauses: []clause{
				{terms: []string{"find"}},
				{terms: []string{"new", "york"}},
				{terms: []string{"now"}},
			}},
		},
		{
			name:     "phrase without proximity",
			analyzer: plain,
			query:    `"new york"`,
			want:     plan{clauses: []clause{{terms: []string{"new"}}, {terms: []string{"york"}}}},
		},
		{
			name:     "find similar dedupes",
			analyzer: plain,
			query:    `go "go" go* -- x`,
			opts:     SearchFindSimilar,
			want:     plan{clauses: []clause{{terms: []string{"go"}}, {terms: []string{"x"}}}, any: true},
		},
		{
			name:     "empty",
			analyzer: plain,
			query:    "  ",
			want:     plan{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseQuery(tt.analyzer, tt.query, tt.opts))
		})
	}
}

func TestFTSMatch(t *testing.T) {
	assert.Equal(t, "", ftsMatch(plan{}))
	assert.Equal(t, `"go" AND "sea"*`, ftsMatch(plan{clauses: []clause{
		{terms: []string{"go"}},
		{terms: []string{"sea"}, prefix: true},
	}}))
	assert.Equal(t, `"new york" OR "x"`, ftsMatch(plan{any: true, clauses: []clause{
		{terms: []string{"new", "york"}},
		{terms: []string{"x"}},
	}}))
}

func TestFTSTokenizer(t *testing.T) {
	assert.Equal(t, "unicode61 remove_diacritics 0", ftsTokenizer(analysis.Config{}))
	assert.Equal(t, "unicode61 remove_diacritics 0 tokenchars '_-+'",
		ftsTokenizer(analysis.Config{TermChars: "_-", EndTermChars: "+'_"}))
}

func TestBleveQuery_Empty(t *testing.T) {
	assert.Nil(t, bleveQuery(plan{}))
	assert.NotNil(t, bleveQuery(plan{clauses: []clause{{terms: []string{"a"}}}}))
}
