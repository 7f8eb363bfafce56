package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
)

func TestObserveListing(t *testing.T) {
	rec := NewWithRegistry(prometheus.NewRegistry())

	rec.ObserveListing("cu/", 12, nil)
	rec.ObserveListing("ap/", 0, errors.New("status 500"))

	if val := testutil.ToFloat64(rec.listingFiles.WithLabelValues("cu/")); val != 12 {
		t.Errorf("expected 12 files for cu/, got %f", val)
	}
	if val := testutil.ToFloat64(rec.listingErrorsTotal.WithLabelValues("ap/")); val != 1 {
		t.Errorf("expected 1 listing error for ap/, got %f", val)
	}
}

func TestObserveTransfer(t *testing.T) {
	rec := NewWithRegistry(prometheus.NewRegistry())

	rec.ObserveTransfer(report.OpUpload, 100, nil)
	rec.ObserveTransfer(report.OpUpload, 50, nil)
	rec.ObserveTransfer(report.OpUpload, 70, errors.New("denied"))
	rec.ObserveTransfer(report.OpDelete, 0, nil)

	if val := testutil.ToFloat64(rec.transfersTotal.WithLabelValues("upload", ResultOK)); val != 2 {
		t.Errorf("expected 2 ok uploads, got %f", val)
	}
	if val := testutil.ToFloat64(rec.transfersTotal.WithLabelValues("upload", ResultError)); val != 1 {
		t.Errorf("expected 1 failed upload, got %f", val)
	}
	if val := testutil.ToFloat64(rec.bytesUploadedTotal); val != 150 {
		t.Errorf("expected 150 bytes, got %f", val)
	}
}

func TestObserveRun(t *testing.T) {
	rec := NewWithRegistry(prometheus.NewRegistry())
	start := time.Unix(1700000000, 0).UTC()

	rec.ObserveRun(report.Summary{Status: report.StatusSucceeded, StartedAt: start, FinishedAt: start.Add(30 * time.Second)})
	rec.ObserveRun(report.Summary{Status: report.StatusPartial, StartedAt: start, FinishedAt: start.Add(time.Minute)})

	if val := testutil.ToFloat64(rec.runsTotal.WithLabelValues("succeeded")); val != 1 {
		t.Errorf("expected 1 succeeded run, got %f", val)
	}
	if val := testutil.ToFloat64(rec.lastSuccessSeconds); val != 1700000030 {
		t.Errorf("expected last success at 1700000030, got %f", val)
	}
	if val := testutil.CollectAndCount(rec.runDurationSeconds); val != 1 {
		t.Errorf("expected one duration histogram, got %d", val)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	rec := New()
	rec.ObserveRun(report.Summary{Status: report.StatusFailed})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `mirror_runs_total{status="failed"} 1`) {
		t.Errorf("expected run counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("expected go runtime collectors in exposition")
	}
}

func TestPush(t *testing.T) {
	var hits atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/metrics/job/timeseries_mirror") {
			t.Errorf("unexpected push path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	rec := NewWithRegistry(prometheus.NewRegistry())
	rec.ObserveTransfer(report.OpUpload, 10, nil)

	if err := rec.Push(context.Background(), gateway.URL, "timeseries_mirror"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected one push, got %d", hits.Load())
	}
}

func TestPushError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer gateway.Close()

	rec := NewWithRegistry(prometheus.NewRegistry())
	if err := rec.Push(context.Background(), gateway.URL, "job"); err == nil {
		t.Fatal("expected push error")
	}
}
