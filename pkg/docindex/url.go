package docindex

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// DocumentURL identifies an indexed document. It is a comparable value; two
// DocumentURLs are equal when their string forms are equal.
type DocumentURL struct {
	raw string
}

// ParseDocumentURL parses an absolute URL such as "file:///notes/a.txt" or
// "mem://inbox/42".
func ParseDocumentURL(s string) (DocumentURL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return DocumentURL{}, fmt.Errorf("invalid document url %q: %w", s, err)
	}
	if u.Scheme == "" {
		return DocumentURL{}, fmt.Errorf("invalid document url %q: missing scheme", s)
	}
	return DocumentURL{raw: u.String()}, nil
}

// MustParseDocumentURL is ParseDocumentURL that panics on error.
func MustParseDocumentURL(s string) DocumentURL {
	u, err := ParseDocumentURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// NewChildDocumentURL builds the URL of the document called name under
// parent, using scheme for the result.
func NewChildDocumentURL(scheme string, parent DocumentURL, name string) (DocumentURL, error) {
	if scheme == "" {
		return DocumentURL{}, errors.New("document url scheme is empty")
	}
	if name == "" || strings.Contains(name, "/") {
		return DocumentURL{}, fmt.Errorf("invalid document name %q", name)
	}
	if parent.IsZero() {
		return DocumentURL{}, errors.New("parent document url is empty")
	}

	p := parent.URL()
	child := url.URL{
		Scheme: scheme,
		Host:   p.Host,
		Path:   path.Join("/", p.Path, name),
	}
	return DocumentURL{raw: child.String()}, nil
}

// IsZero reports whether u is the zero DocumentURL.
func (u DocumentURL) IsZero() bool {
	return u.raw == ""
}

// String returns the URL in string form.
func (u DocumentURL) String() string {
	return u.raw
}

// URL returns a parsed copy of the URL.
func (u DocumentURL) URL() *url.URL {
	parsed, err := url.Parse(u.raw)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}

// Scheme returns the URL scheme.
func (u DocumentURL) Scheme() string {
	return u.URL().Scheme
}

// Name returns the last path element.
func (u DocumentURL) Name() string {
	p := u.URL()
	if p.Path == "" || p.Path == "/" {
		return p.Host
	}
	return path.Base(p.Path)
}

// Parent returns the URL one path element up. ok is false at the root.
func (u DocumentURL) Parent() (parent DocumentURL, ok bool) {
	p := u.URL()
	if p.Path == "" || p.Path == "/" {
		return DocumentURL{}, false
	}
	up := *p
	up.Path = path.Dir(strings.TrimSuffix(p.Path, "/"))
	up.RawQuery, up.Fragment = "", ""
	return DocumentURL{raw: up.String()}, true
}

// IsFile reports whether u uses the file scheme.
func (u DocumentURL) IsFile() bool {
	return u.Scheme() == "file"
}

// FileDocumentURL is a DocumentURL restricted to the file scheme.
type FileDocumentURL struct {
	DocumentURL
}

// NewFileDocumentURL returns the file URL of a local path. Relative paths are
// made absolute.
func NewFileDocumentURL(p string) (FileDocumentURL, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return FileDocumentURL{}, fmt.Errorf("invalid path %q: %w", p, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return FileDocumentURL{DocumentURL{raw: u.String()}}, nil
}

// AsFileDocumentURL narrows u. ok is false unless u uses the file scheme.
func AsFileDocumentURL(u DocumentURL) (FileDocumentURL, bool) {
	if !u.IsFile() {
		return FileDocumentURL{}, false
	}
	return FileDocumentURL{u}, true
}

// Path returns the local file path.
func (u FileDocumentURL) Path() string {
	return filepath.FromSlash(u.URL().Path)
}

// Parent returns the containing directory. ok is false at the root.
func (u FileDocumentURL) Parent() (FileDocumentURL, bool) {
	parent, ok := u.DocumentURL.Parent()
	if !ok {
		return FileDocumentURL{}, false
	}
	return FileDocumentURL{parent}, true
}
