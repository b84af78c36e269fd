package analysis

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

//go:embed stopwords-iso.json
var stopwordsJSON []byte

var (
	stopwordsOnce       sync.Once
	stopwordsByLanguage map[string][]string
)

// loadStopwords parses the embedded collection. It runs at most once per
// process; a decode failure leaves an empty collection behind.
func loadStopwords() {
	stopwordsOnce.Do(func() {
		var raw map[string][]string
		if err := json.Unmarshal(stopwordsJSON, &raw); err != nil {
			slog.Error("stopwords_load_failed", slog.String("error", err.Error()))
			stopwordsByLanguage = map[string][]string{}
			return
		}

		stopwordsByLanguage = make(map[string][]string, len(raw))
		for code, words := range raw {
			if !isISO639Code(code) {
				slog.Info("stopwords_unknown_language", slog.String("code", code))
				continue
			}
			stopwordsByLanguage[code] = words
		}
	})
}

// Stopwords returns the stopword list for an ISO 639-1 language code.
// The second result is false when the language is not in the collection.
func Stopwords(language string) ([]string, bool) {
	loadStopwords()
	words, ok := stopwordsByLanguage[strings.ToLower(language)]
	if !ok {
		return nil, false
	}
	out := make([]string, len(words))
	copy(out, words)
	return out, true
}

// StopwordLanguages lists the language codes available in the collection.
func StopwordLanguages() []string {
	loadStopwords()
	codes := make([]string, 0, len(stopwordsByLanguage))
	for code := range stopwordsByLanguage {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func isISO639Code(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
