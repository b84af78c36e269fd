package store

import (
	"strings"

	"github.com/serhiybutz/docindexer/internal/analysis"
)

// clause is one unit of a parsed query: a single term, a prefix, or a phrase.
type clause struct {
	terms  []string
	prefix bool
}

func (c clause) phrase() bool {
	return len(c.terms) > 1
}

// plan is a parsed query ready to be rendered by an engine.
type plan struct {
	clauses []clause
	any     bool // OR instead of AND
}

func (p plan) empty() bool {
	return len(p.clauses) == 0
}

// parseQuery analyzes a query with the index analyzer.
//
// Double-quoted text becomes a phrase when the index stores proximity
// information and a conjunction of its terms otherwise. Find-similar
// searches ignore all syntax and match any term of the example text.
func parseQuery(a *analysis.Analyzer, query string, opts SearchOption) plan {
	if opts.Has(SearchFindSimilar) {
		return similarPlan(a, query)
	}

	p := plan{any: opts.Has(SearchSpaceMeansOr)}
	proximity := a.Config().ProximityIndexing

	for i, segment := range strings.Split(query, `"`) {
		quoted := i%2 == 1
		if !quoted {
			for _, qt := range a.QueryTerms(segment) {
				p.clauses = append(p.clauses, clause{terms: []string{qt.Text}, prefix: qt.Prefix})
			}
			continue
		}

		terms := a.Terms(segment)
		if len(terms) == 0 {
			continue
		}
		if proximity {
			p.clauses = append(p.clauses, clause{terms: terms})
			continue
		}
		for _, t := range terms {
			p.clauses = append(p.clauses, clause{terms: []string{t}})
		}
	}

	return p
}

func similarPlan(a *analysis.Analyzer, text string) plan {
	p := plan{any: true}
	seen := make(map[string]struct{})
	for _, t := range a.Terms(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		p.clauses = append(p.clauses, clause{terms: []string{t}})
	}
	return p
}
