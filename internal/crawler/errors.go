package crawler

import (
	"errors"
	"fmt"
)

// Shared sentinel errors returned by stores and sources.
var (
	// ErrJobNotFound is returned when no job exists for the given ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobActive is returned when deleting a job that has not reached a
	// terminal state.
	ErrJobActive = errors.New("job is not in a terminal state")
	// ErrMissingColumns is returned by a SheetSource when a sheet lacks the
	// required Website and Title header columns.
	ErrMissingColumns = errors.New("sheet missing required columns")
	// ErrObjectNotFound is returned by a BlobStore when no object exists at
	// the given path.
	ErrObjectNotFound = errors.New("object not found")
)

// FailureKind classifies why a fetch did not produce a page.
type FailureKind string

// Fetch failure classifications.
const (
	FailureBlockedDomain  FailureKind = "blocked-domain"
	FailureRobotsDisallow FailureKind = "robots-disallowed"
	FailureTimeout        FailureKind = "timeout"
	FailureHTTPStatus     FailureKind = "http-error"
	FailureNetwork        FailureKind = "network-error"
)

// FetchError is the classified failure returned by Fetcher implementations.
// Per-URL failures are non-fatal; sessions skip the URL and move on.
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: %s: status %d", e.URL, e.Kind, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// FailureKindOf extracts the classification from an error chain, or an
// empty kind when the error is not a *FetchError.
func FailureKindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
