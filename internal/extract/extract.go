// Package extract turns file contents into indexable text by MIME type.
package extract

import (
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// MaxFileSize bounds how much of a file is read for indexing.
const MaxFileSize = 16 << 20

// ErrUnsupportedType is returned when no extractor handles a MIME type.
var ErrUnsupportedType = errors.New("unsupported content type")

// Func extracts plain text from r.
type Func func(r io.Reader) (string, error)

var (
	mu         sync.RWMutex
	extractors = make(map[string]Func)
	loadOnce   sync.Once

	repeatedSpaceRegex = regexp.MustCompile(`\s+`)
)

// extraTypes covers extensions missing from many system MIME tables.
var extraTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "text/html",
}

// LoadDefaultExtractors registers the built-in extractors. Only the first
// call has any effect.
func LoadDefaultExtractors() {
	loadOnce.Do(func() {
		Register("text/plain", plainText)
		Register("text/markdown", plainText)
		Register("text/html", newHTMLExtractor())
	})
}

// Register installs fn for a MIME type, replacing any previous extractor.
func Register(mimeType string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	extractors[baseType(mimeType)] = fn
}

// Lookup returns the extractor for a MIME type.
func Lookup(mimeType string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := extractors[baseType(mimeType)]
	return fn, ok
}

// DetectType guesses the MIME type of a file from its extension.
func DetectType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return baseType(t)
	}
	return "text/plain"
}

// File extracts the text of the file at path. mimeHint overrides detection
// when non-empty.
func File(path string, mimeHint string) (string, error) {
	LoadDefaultExtractors()

	mimeType := mimeHint
	if mimeType == "" {
		mimeType = DetectType(path)
	}
	fn, ok := Lookup(mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	text, err := fn(io.LimitReader(f, MaxFileSize))
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return text, nil
}

func baseType(mimeType string) string {
	if t, _, err := mime.ParseMediaType(mimeType); err == nil {
		return t
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func plainText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newHTMLExtractor() Func {
	pool := sync.Pool{
		New: func() interface{} {
			return bluemonday.StrictPolicy()
		},
	}

	return func(r io.Reader) (string, error) {
		policy := pool.Get().(*bluemonday.Policy)
		defer pool.Put(policy)

		text := policy.SanitizeReader(r).String()
		return strings.TrimSpace(html.UnescapeString(repeatedSpaceRegex.ReplaceAllString(text, " "))), nil
	}
}
