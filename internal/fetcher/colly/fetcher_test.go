package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/source"
)

func TestFetcherGetSendsUserAgentAndBuffersBody(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("series_id\tyear\tperiod\tvalue\n", 1000)
	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "Mozilla/5.0 (test)", Timeout: time.Second})
	resp, err := f.Get(context.Background(), srv.URL+"/cu/cu.data.txt")
	require.NoError(t, err)

	assert.Equal(t, "Mozilla/5.0 (test)", <-gotUA)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, string(resp.Body))
	assert.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))
}

func TestFetcherGetRepeatsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})
	for i := 0; i < 2; i++ {
		_, err := f.Get(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcherGetReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Get(context.Background(), srv.URL+"/ap/")
	require.Error(t, err)

	var statusErr *source.StatusError
	require.True(t, errors.As(err, &statusErr), "expected StatusError, got %v", err)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestFetcherGetKeepsBodyBytesForDeclaredCharset(t *testing.T) {
	t.Parallel()

	body := []byte("series_id\tfootnote\ncaf\xe9 cr\xe8me\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=ISO-8859-1")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Get(context.Background(), srv.URL+"/cu/cu.footnote.txt")
	require.NoError(t, err)
	assert.Equal(t, body, resp.Body)
	assert.Equal(t, "text/plain; charset=ISO-8859-1", resp.Headers.Get("Content-Type"))
	assert.Empty(t, resp.Headers.Get(originalContentType))
}

func TestFetcherGetStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    int
		success bool
	}{
		{http.StatusOK, true},
		{http.StatusNonAuthoritativeInfo, true},
		{http.StatusNoContent, true},
		{http.StatusPartialContent, true},
		{http.StatusNotFound, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			resp, err := New(Config{Timeout: time.Second}).Get(context.Background(), srv.URL)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, source.IsSuccess(tt.code), tt.success)
			if tt.success {
				require.NoError(t, err)
				return
			}
			var statusErr *source.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.code, statusErr.StatusCode)
		})
	}
}

func TestFetcherGetTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), addr)
	require.Error(t, err)
	var statusErr *source.StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestFetcherGetHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Get(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result source.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com/cu/", &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/cu/")},
	})
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, nil)
	require.Error(t, fetchErr)
	assert.Equal(t, "unknown colly error", fetchErr.Error())
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
