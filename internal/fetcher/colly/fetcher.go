// Package collyfetcher implements source.Getter using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/source"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps buffered bodies in bytes; zero means unlimited.
	MaxBodySize int
}

// Fetcher implements source.Getter using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// The same listing page is fetched once per run, but serve mode repeats runs.
	c.AllowURLRevisit = true
	// Every status reaches OnResponse; Get applies source.IsSuccess itself.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(&rawBodyTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET and buffers the whole body.
// A non-2xx status yields a *source.StatusError alongside the partial response.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (source.Response, error) {
	var (
		result   source.Response
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, rawURL, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		if result.StatusCode != 0 && !source.IsSuccess(result.StatusCode) {
			return result, &source.StatusError{URL: rawURL, StatusCode: result.StatusCode}
		}
		return result, err
	}
	if fetchErr != nil {
		return result, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if !source.IsSuccess(result.StatusCode) {
		return result, &source.StatusError{URL: rawURL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	result *source.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = toResponse(rawURL, r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*result = toResponse(rawURL, r)
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

// originalContentType carries the server's Content-Type past colly, which
// re-encodes any body whose declared charset is not UTF-8.
const originalContentType = "X-Mirror-Original-Content-Type"

// rawBodyTransport strips media type parameters from Content-Type so colly
// hands back the body exactly as served.
type rawBodyTransport struct {
	base http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "charset") {
		return resp, nil
	}
	resp.Header.Set(originalContentType, ct)
	mediaType, _, parseErr := mime.ParseMediaType(ct)
	if parseErr != nil {
		mediaType = "application/octet-stream"
	}
	resp.Header.Set("Content-Type", mediaType)
	return resp, nil
}

func toResponse(rawURL string, r *colly.Response) source.Response {
	resp := source.Response{
		URL:        rawURL,
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
	}
	if r.Request != nil && r.Request.URL != nil {
		resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
		if ct := resp.Headers.Get(originalContentType); ct != "" {
			resp.Headers.Set("Content-Type", ct)
			resp.Headers.Del(originalContentType)
		}
	}
	return resp
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
