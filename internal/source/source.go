// Package source defines the HTTP contract shared by the listing fetcher and
// the transfer executor.
package source

import (
	"context"
	"fmt"
	"net/http"
)

// Response is a fully buffered HTTP response body plus metadata.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Getter issues an HTTP GET and buffers the body.
type Getter interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
