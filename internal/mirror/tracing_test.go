package mirror

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/hash/sha256"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/storage/memory"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/transfer"
)

func tracedRunner(t *testing.T, store storage.Store, src *fakeSource, cfg Config) (*Runner, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	runner, err := NewRunner(cfg, Deps{
		Store:      store,
		Lister:     listing.NewFetcher(src, ".txt", nil),
		Transferer: transfer.New(src, store, sha256.New(), transfer.Config{}, nil),
		IDs:        &seqIDs{},
		Tracer:     tp.Tracer("test"),
	})
	require.NoError(t, err)
	return runner, rec
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	return names
}

func attr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRunEmitsPhaseSpans(t *testing.T) {
	src := newFakeSource()
	src.dir("cu/", "cu.series.txt")
	store := memory.NewStore()
	runner, rec := tracedRunner(t, store, src, Config{Subdirs: []string{"cu/"}, Verify: true})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	spans := rec.Ended()
	assert.ElementsMatch(t,
		[]string{"mirror.inventory", "mirror.scrape", "mirror.upload", "mirror.delete", "mirror.verify", "mirror.run"},
		spanNames(spans))

	root := spans[len(spans)-1]
	require.Equal(t, "mirror.run", root.Name())
	status, ok := attr(root, "mirror.status")
	require.True(t, ok)
	assert.Equal(t, "succeeded", status.AsString())
	uploaded, _ := attr(root, "mirror.uploaded")
	assert.Equal(t, int64(1), uploaded.AsInt64())
	for _, s := range spans[:len(spans)-1] {
		assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), "%s is a child of the run", s.Name())
	}
}

func TestRunSpanRecordsInventoryFailure(t *testing.T) {
	store := &storage.MockStore{}
	store.On("List", mock.Anything, "").Return(nil, errors.New("access denied"))
	runner, rec := tracedRunner(t, store, newFakeSource(), Config{Subdirs: []string{"cu/"}})

	_, err := runner.Run(context.Background())
	require.Error(t, err)

	spans := rec.Ended()
	require.Equal(t, []string{"mirror.inventory", "mirror.run"}, spanNames(spans))
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code, s.Name())
	}
}
