package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/realtime-cpi-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/hash/sha256"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/source"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/memory"
)

type stubGetter struct {
	responses map[string]source.Response
	errs      map[string]error
	calls     []string
}

func (g *stubGetter) Get(_ context.Context, rawURL string) (source.Response, error) {
	g.calls = append(g.calls, rawURL)
	if err, ok := g.errs[rawURL]; ok {
		return source.Response{}, err
	}
	resp, ok := g.responses[rawURL]
	if !ok {
		return source.Response{}, &source.StatusError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	return resp, nil
}

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestUploadWritesBodyAndMetadata(t *testing.T) {
	t.Parallel()

	file := listing.RemoteFile{Subdir: "cu/", Name: "cu.series", URL: "https://example.test/cu/cu.series"}
	getter := &stubGetter{responses: map[string]source.Response{
		file.URL: {URL: file.URL, StatusCode: http.StatusOK, Body: []byte("hello world")},
	}}
	store := memory.NewStore()
	exec := New(getter, store, sha256.New(), Config{ContentType: "text/plain"}, nil)

	res, err := exec.Upload(context.Background(), file, "bls/cu/cu.series")
	require.NoError(t, err)
	assert.Equal(t, Result{Key: "bls/cu/cu.series", Bytes: 11, Digest: helloDigest}, res)

	obj, ok := store.Get("bls/cu/cu.series")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(obj.Data))
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, file.URL, obj.Metadata[MetaSourceURL])
	assert.Equal(t, helloDigest, obj.Metadata["sha256"])
}

func TestUploadContentTypeFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		headers http.Header
		want    string
	}{
		{"response header", "a.bin", http.Header{"Content-Type": {"text/csv"}}, "text/csv"},
		{"extension", "a.txt", nil, "text/plain; charset=utf-8"},
		{"unknown", "cu.series", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			url := "https://example.test/cu/" + tt.file
			getter := &stubGetter{responses: map[string]source.Response{
				url: {StatusCode: http.StatusOK, Headers: tt.headers, Body: []byte("x")},
			}}
			store := memory.NewStore()
			exec := New(getter, store, nil, Config{}, nil)

			res, err := exec.Upload(context.Background(), listing.RemoteFile{Name: tt.file, URL: url}, "k")
			require.NoError(t, err)
			assert.Empty(t, res.Digest)

			obj, ok := store.Get("k")
			require.True(t, ok)
			assert.Equal(t, tt.want, obj.ContentType)
		})
	}
}

func TestUploadDownloadError(t *testing.T) {
	t.Parallel()

	store := &storage.MockStore{}
	getter := &stubGetter{errs: map[string]error{
		"https://example.test/cu/down.txt": errors.New("connection reset"),
	}}
	exec := New(getter, store, sha256.New(), Config{}, nil)

	_, err := exec.Upload(context.Background(), listing.RemoteFile{URL: "https://example.test/cu/missing.txt"}, "cu/missing.txt")
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusNotFound, dlErr.StatusCode)
	assert.Contains(t, err.Error(), "status 404")

	_, err = exec.Upload(context.Background(), listing.RemoteFile{URL: "https://example.test/cu/down.txt"}, "cu/down.txt")
	require.ErrorAs(t, err, &dlErr)
	assert.Zero(t, dlErr.StatusCode)
	assert.Contains(t, err.Error(), "connection reset")

	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestUploadCanceledContextIsNotDownloadError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	getter := &stubGetter{errs: map[string]error{"https://example.test/a.txt": context.Canceled}}
	exec := New(getter, memory.NewStore(), nil, Config{}, nil)

	_, err := exec.Upload(ctx, listing.RemoteFile{URL: "https://example.test/a.txt"}, "a.txt")
	require.ErrorIs(t, err, context.Canceled)
	var dlErr *DownloadError
	assert.False(t, errors.As(err, &dlErr))
}

func TestUploadWriteError(t *testing.T) {
	t.Parallel()

	url := "https://example.test/cu/a.txt"
	getter := &stubGetter{responses: map[string]source.Response{url: {StatusCode: http.StatusOK, Body: []byte("a")}}}
	store := &storage.MockStore{}
	store.On("Put", mock.Anything, mock.MatchedBy(func(obj storage.Object) bool {
		return obj.Key == "cu/a.txt"
	})).Return(errors.New("access denied"))
	exec := New(getter, store, nil, Config{}, nil)

	_, err := exec.Upload(context.Background(), listing.RemoteFile{Name: "a.txt", URL: url}, "cu/a.txt")
	var writeErr *storage.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, storage.OpPut, writeErr.Op)
	assert.Equal(t, "cu/a.txt", writeErr.Key)
	store.AssertExpectations(t)
}

type failingHasher struct{}

func (failingHasher) Algorithm() string { return "sha256" }

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("digest unavailable") }

func TestUploadHashErrorIsWriteError(t *testing.T) {
	t.Parallel()

	url := "https://example.test/cu/a.txt"
	getter := &stubGetter{responses: map[string]source.Response{url: {StatusCode: http.StatusOK, Body: []byte("a")}}}
	store := &storage.MockStore{}
	exec := New(getter, store, failingHasher{}, Config{}, nil)

	_, err := exec.Upload(context.Background(), listing.RemoteFile{Name: "a.txt", URL: url}, "cu/a.txt")
	var writeErr *storage.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, storage.OpPut, writeErr.Op)
	assert.Equal(t, "cu/a.txt", writeErr.Key)
	assert.Contains(t, err.Error(), "digest unavailable")
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := &storage.MockStore{}
	store.On("Delete", mock.Anything, "cu/old.txt").Return(nil)
	store.On("Delete", mock.Anything, "cu/locked.txt").Return(errors.New("denied"))
	exec := New(nil, store, nil, Config{}, nil)

	require.NoError(t, exec.Delete(context.Background(), "cu/old.txt"))

	err := exec.Delete(context.Background(), "cu/locked.txt")
	var writeErr *storage.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, storage.OpDelete, writeErr.Op)
	store.AssertExpectations(t)
}

func TestDryRunPerformsNoIO(t *testing.T) {
	t.Parallel()

	store := &storage.MockStore{}
	getter := &stubGetter{}
	exec := New(getter, store, sha256.New(), Config{DryRun: true}, nil)

	res, err := exec.Upload(context.Background(), listing.RemoteFile{URL: "https://example.test/a.txt"}, "a.txt")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.NoError(t, exec.Delete(context.Background(), "b.txt"))
	missing, err := exec.Verify(context.Background(), []string{"a.txt"})
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.Empty(t, getter.calls)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	store := &storage.MockStore{}
	store.On("Exists", mock.Anything, "cu/a.txt").Return(true, nil)
	store.On("Exists", mock.Anything, "cu/b.txt").Return(false, nil)
	store.On("Exists", mock.Anything, "cu/c.txt").Return(false, errors.New("timeout"))
	exec := New(nil, store, nil, Config{}, nil)

	missing, err := exec.Verify(context.Background(), []string{"cu/a.txt", "cu/b.txt", "cu/c.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify cu/c.txt")
	assert.Equal(t, []string{"cu/b.txt"}, missing)
}

func TestUploadThroughCollyFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cu/gone.txt" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	store := memory.NewStore()
	exec := New(collyfetcher.New(collyfetcher.Config{}), store, sha256.New(), Config{}, nil)

	res, err := exec.Upload(context.Background(), listing.RemoteFile{Name: "cu.txt", URL: srv.URL + "/cu/cu.txt"}, "cu/cu.txt")
	require.NoError(t, err)
	assert.Equal(t, helloDigest, res.Digest)

	_, err = exec.Upload(context.Background(), listing.RemoteFile{Name: "gone.txt", URL: srv.URL + "/cu/gone.txt"}, "cu/gone.txt")
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusGone, dlErr.StatusCode)

	ok, err := store.Exists(context.Background(), "cu/gone.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadThroughCollyFetcherKeepsSourceBytes(t *testing.T) {
	t.Parallel()

	body := []byte("series_id\tvalue\tcaf\xe9\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	store := memory.NewStore()
	exec := New(collyfetcher.New(collyfetcher.Config{}), store, sha256.New(), Config{}, nil)

	res, err := exec.Upload(context.Background(), listing.RemoteFile{Name: "cu.footnote", URL: srv.URL + "/cu/cu.footnote"}, "cu/cu.footnote")
	require.NoError(t, err)
	assert.Equal(t, len(body), res.Bytes)

	want, err := sha256.New().Hash(body)
	require.NoError(t, err)
	assert.Equal(t, want, res.Digest)

	obj, ok := store.Get("cu/cu.footnote")
	require.True(t, ok)
	assert.Equal(t, body, obj.Data)
	assert.Equal(t, want, obj.Metadata["sha256"])
	assert.Equal(t, "text/plain; charset=iso-8859-1", obj.ContentType)
}
