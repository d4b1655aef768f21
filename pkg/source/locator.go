package source

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	ErrUnsupportedScheme = errors.New("invalid protocol, use s3, file, http or https")
	ErrNotFound          = errors.New("source not found")
	ErrNoBucket          = errors.New("no bucket configured for s3 sources")
)

var supportedSchemes = []string{SchemeFile, SchemeS3, SchemeHTTP, SchemeHTTPS}

// Locator points at the publication to protect, e.g.
// file:///210/book.pdf or s3://210/book.pdf.
type Locator struct {
	Raw    string
	Scheme string
	// Path is the local file for file locators and the object key for s3
	// locators. s3 keys are host and path joined, so s3://210/book.pdf reads
	// the key 210/book.pdf from the configured bucket.
	Path string
	// URL is nil for plain local paths.
	URL *url.URL
}

// Parse reads a locator. A value without "://" is a local path.
func Parse(raw string) (Locator, error) {
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty source", ErrUnsupportedScheme)
	}
	if !strings.Contains(raw, "://") {
		return Locator{Raw: raw, Scheme: SchemeFile, Path: filepath.Clean(raw)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, errors.Join(ErrUnsupportedScheme, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(supportedSchemes, scheme) {
		return Locator{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, raw)
	}
	loc := Locator{Raw: raw, Scheme: scheme, URL: u}
	switch scheme {
	case SchemeFile:
		loc.Path = u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path.pdf
			loc.Path = u.Host + u.Path
		}
	case SchemeS3:
		loc.Path = strings.TrimPrefix(u.Host+u.Path, "/")
	default:
		loc.Path = u.Path
	}
	if loc.Path == "" {
		return Locator{}, fmt.Errorf("%w: %q has no path", ErrUnsupportedScheme, raw)
	}
	return loc, nil
}

func (l Locator) Remote() bool {
	return l.Scheme != SchemeFile
}

func (l Locator) String() string {
	return l.Raw
}
