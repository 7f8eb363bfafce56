// Package listing scrapes HTML directory-index pages into RemoteFile entries.
package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/logging"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/source"
)

// RemoteFile is a file discovered in a directory listing.
type RemoteFile struct {
	// Subdir is the configured subdirectory the listing came from (e.g. "cu/").
	Subdir string
	// Name is the last path segment of URL, used to derive the object key.
	Name string
	// URL is the absolute source URL.
	URL string
}

// FetchError reports an unreachable listing page or an error status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch listing %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch listing %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads a directory page and extracts suffix-matching links.
type Fetcher struct {
	getter source.Getter
	suffix string
	logger *zap.Logger
}

// NewFetcher builds a Fetcher that keeps links ending in suffix.
func NewFetcher(getter source.Getter, suffix string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		getter: getter,
		suffix: suffix,
		logger: logging.OrNop(logger),
	}
}

// Fetch returns the files listed at dirURL in document order.
// Subdir is left empty; callers tag entries with their configured subdirectory.
func (f *Fetcher) Fetch(ctx context.Context, dirURL string) ([]RemoteFile, error) {
	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, &FetchError{URL: dirURL, Err: fmt.Errorf("parse url: %w", err)}
	}

	resp, err := f.getter.Get(ctx, dirURL)
	if err != nil {
		fe := &FetchError{URL: dirURL, Err: err}
		var statusErr *source.StatusError
		if errors.As(err, &statusErr) {
			fe.StatusCode = statusErr.StatusCode
		}
		return nil, fe
	}

	files, err := ParseListing(base, resp.Body, f.suffix)
	if err != nil {
		return nil, &FetchError{URL: dirURL, Err: err}
	}
	f.logger.Debug("parsed listing",
		zap.String("url", dirURL),
		zap.Int("bytes", len(resp.Body)),
		zap.Int("files", len(files)),
	)
	return files, nil
}

// ParseListing extracts every a[href] target ending in suffix and resolves it
// against base. Order and duplicates follow the document.
func ParseListing(base *url.URL, body []byte, suffix string) ([]RemoteFile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var files []RemoteFile
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !strings.HasSuffix(href, suffix) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		// Directory targets only match when the suffix is empty; they are never files.
		if abs.Path == "" || strings.HasSuffix(abs.Path, "/") {
			return
		}
		name := path.Base(abs.Path)
		files = append(files, RemoteFile{Name: name, URL: abs.String()})
	})
	return files, nil
}

// DirURL joins a configured subdirectory onto the base URL the way a browser
// would, forcing a trailing slash on both so relative links resolve inside it.
func DirURL(baseURL, subdir string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	sub := strings.Trim(subdir, "/")
	if sub == "" {
		return "", fmt.Errorf("empty subdirectory")
	}
	ref, err := url.Parse(sub + "/")
	if err != nil {
		return "", fmt.Errorf("parse subdir %q: %w", subdir, err)
	}
	return base.ResolveReference(ref).String(), nil
}
