package mirror

import (
	"context"
	"time"

	"github.com/JakeFAU/realtime-cpi-mirror/internal/listing"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/report"
	"github.com/JakeFAU/realtime-cpi-mirror/internal/transfer"
)

// Lister scrapes a directory-index page.
type Lister interface {
	Fetch(ctx context.Context, dirURL string) ([]listing.RemoteFile, error)
}

// Transferer applies individual plan items to the store.
type Transferer interface {
	Upload(ctx context.Context, file listing.RemoteFile, key string) (transfer.Result, error)
	Delete(ctx context.Context, key string) error
	Verify(ctx context.Context, keys []string) ([]string, error)
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveListing(subdir string, files int, err error)
	ObserveTransfer(op string, bytes int, err error)
	ObserveRun(summary report.Summary)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveListing(string, int, error)  {}
func (nopRecorder) ObserveTransfer(string, int, error) {}
func (nopRecorder) ObserveRun(report.Summary)          {}
