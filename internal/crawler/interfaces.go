package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a single URL and returns the page or a classified
// *FetchError. Implementations decide the execution style: the colly-based
// fetcher issues requests concurrently, while the polite decorator
// serializes them with a randomized delay.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// RobotsPolicy reports whether a URL may be fetched for the configured
// user agent. Implementations must fail open when robots.txt itself
// cannot be retrieved.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// JobStore persists job records. The worker is the sole writer of status,
// progress, and results; the dashboard is the sole writer of control.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	ListPending(ctx context.Context) ([]Job, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	GetControl(ctx context.Context, jobID string) (JobControl, error)
	SetControl(ctx context.Context, jobID string, control JobControl) error
	DeleteJob(ctx context.Context, jobID string) error
}

// BlobStore writes result artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes one completion event per finished job to Pub/Sub,
// Kafka, or similar.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// SheetSource reads rows from one multi-sheet source artifact.
type SheetSource interface {
	SheetNames() []string
	ReadSheet(ctx context.Context, index int) ([]SourceRow, error)
	Close() error
}

// SourceOpener resolves a job's source reference into a SheetSource.
type SourceOpener interface {
	Open(ctx context.Context, ref string) (SheetSource, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
