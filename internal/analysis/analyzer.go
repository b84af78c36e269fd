// Package analysis turns document text and queries into index terms.
//
// Both storage engines index the output of the same Analyzer, so a query
// analyzed here matches exactly what was indexed regardless of backend.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config holds the text analysis properties of an index. They are fixed when
// the index is created and persisted alongside it.
type Config struct {
	// MinTermLength is the minimum term length (in runes) to index.
	MinTermLength int `json:"min_term_length" yaml:"min_term_length"`

	// Substitutions maps a canonical term to a variant spelling. The variant
	// is replaced by the canonical term before indexing and querying.
	Substitutions map[string]string `json:"substitutions,omitempty" yaml:"substitutions,omitempty"`

	// MaximumTerms is the number of unique terms indexed per document.
	// Indexing of a document stops once the limit is reached. 0 means no limit.
	MaximumTerms int `json:"maximum_terms" yaml:"maximum_terms"`

	// ProximityIndexing stores term positions so phrase queries work.
	ProximityIndexing bool `json:"proximity_indexing" yaml:"proximity_indexing"`

	// TermChars are additional characters valid anywhere in a term.
	TermChars string `json:"term_chars,omitempty" yaml:"term_chars,omitempty"`

	// StartTermChars are additional characters valid at the start of a term.
	StartTermChars string `json:"start_term_chars,omitempty" yaml:"start_term_chars,omitempty"`

	// EndTermChars are additional characters valid at the end of a term.
	EndTermChars string `json:"end_term_chars,omitempty" yaml:"end_term_chars,omitempty"`

	// StopwordLanguage selects a stopword list from the embedded collection
	// by ISO 639-1 code (e.g. "en").
	StopwordLanguage string `json:"stopword_language,omitempty" yaml:"stopword_language,omitempty"`

	// Stopwords are extra terms never indexed.
	Stopwords []string `json:"stopwords,omitempty" yaml:"stopwords,omitempty"`
}

// DefaultConfig returns the analysis properties used when none are given.
func DefaultConfig() Config {
	return Config{MinTermLength: 1}
}

// Encode serializes the config for storage next to an index.
func (c Config) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis config: %w", err)
	}
	return string(data), nil
}

// DecodeConfig is the inverse of Config.Encode. An empty string decodes to
// DefaultConfig.
func DecodeConfig(s string) (Config, error) {
	cfg := DefaultConfig()
	if s == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode analysis config: %w", err)
	}
	return cfg, nil
}

// QueryTerm is one analyzed query term.
type QueryTerm struct {
	Text   string
	Prefix bool
}

// Analyzer applies a Config to text. It is safe for concurrent use.
type Analyzer struct {
	cfg        Config
	variants   map[string]string
	stopwords  map[string]struct{}
	anywhere   map[rune]struct{}
	startChars map[rune]struct{}
	endChars   map[rune]struct{}
}

// New builds an Analyzer. An unknown stopword language is ignored.
func New(cfg Config) *Analyzer {
	if cfg.MinTermLength < 1 {
		cfg.MinTermLength = 1
	}

	a := &Analyzer{
		cfg:        cfg,
		variants:   make(map[string]string, len(cfg.Substitutions)),
		stopwords:  make(map[string]struct{}),
		anywhere:   runeSet(cfg.TermChars),
		startChars: runeSet(cfg.TermChars + cfg.StartTermChars),
		endChars:   runeSet(cfg.TermChars + cfg.EndTermChars),
	}

	for canonical, variant := range cfg.Substitutions {
		a.variants[strings.ToLower(variant)] = strings.ToLower(canonical)
	}

	if cfg.StopwordLanguage != "" {
		words, _ := Stopwords(cfg.StopwordLanguage)
		for _, w := range words {
			a.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
	for _, w := range cfg.Stopwords {
		a.stopwords[strings.ToLower(w)] = struct{}{}
	}

	return a
}

// Config returns the configuration the analyzer was built from.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Terms returns the index terms of text in document order.
func (a *Analyzer) Terms(text string) []string {
	words := a.split(text)
	terms := make([]string, 0, len(words))
	seen := make(map[string]struct{})

	for _, w := range words {
		term, ok := a.normalize(w)
		if !ok || !a.keep(term) {
			continue
		}
		if _, dup := seen[term]; !dup {
			if a.cfg.MaximumTerms > 0 && len(seen) >= a.cfg.MaximumTerms {
				break
			}
			seen[term] = struct{}{}
		}
		terms = append(terms, term)
	}

	return terms
}

// QueryTerms analyzes a query. A trailing '*' on a word requests prefix
// matching; prefix terms skip the length and stopword filters.
func (a *Analyzer) QueryTerms(query string) []QueryTerm {
	var out []QueryTerm
	for _, field := range strings.Fields(query) {
		prefix := strings.HasSuffix(field, "*")
		field = strings.TrimRight(field, "*")
		before := len(out)

		for _, w := range a.split(field) {
			term, ok := a.normalize(w)
			if !ok {
				continue
			}
			if !prefix && !a.keep(term) {
				continue
			}
			out = append(out, QueryTerm{Text: term})
		}
		if prefix && len(out) > before {
			out[len(out)-1].Prefix = true
		}
	}
	return out
}

// IsTermRune reports whether r can appear inside an index term.
func (a *Analyzer) IsTermRune(r rune) bool {
	return isWordRune(r) || a.inSet(a.anywhere, r)
}

func (a *Analyzer) split(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		if isWordRune(r) || a.inSet(a.startChars, r) || a.inSet(a.endChars, r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

func (a *Analyzer) normalize(word string) (string, bool) {
	word = strings.TrimLeftFunc(word, func(r rune) bool {
		return !isWordRune(r) && !a.inSet(a.startChars, r)
	})
	word = strings.TrimRightFunc(word, func(r rune) bool {
		return !isWordRune(r) && !a.inSet(a.endChars, r)
	})
	if word == "" {
		return "", false
	}

	term := strings.ToLower(word)
	if canonical, ok := a.variants[term]; ok {
		term = canonical
	}
	return term, true
}

func (a *Analyzer) keep(term string) bool {
	if utf8.RuneCountInString(term) < a.cfg.MinTermLength {
		return false
	}
	_, stop := a.stopwords[term]
	return !stop
}

func (a *Analyzer) inSet(set map[rune]struct{}, r rune) bool {
	_, ok := set[r]
	return ok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func runeSet(chars string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		set[r] = struct{}{}
	}
	return set
}
