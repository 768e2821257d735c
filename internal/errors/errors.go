// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when the remote API signals quota exhaustion.
// The run may abort cleanly and retry after ResetAt.
type RateLimitedError struct {
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s (remaining: %d)",
		e.ResetAt.Format(time.RFC3339), e.Remaining)
}

// SourceUnavailableError is returned when a source fetch failed after the
// retry budget was exhausted. The run should still persist and report
// whatever was already fetched.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// EnrichmentUnavailableError is returned when the summarization service fails
// or returns a malformed response. Non-fatal: callers fall back to rule-based
// classification.
type EnrichmentUnavailableError struct {
	Err error
}

func (e *EnrichmentUnavailableError) Error() string {
	return fmt.Sprintf("enrichment unavailable: %v", e.Err)
}

func (e *EnrichmentUnavailableError) Unwrap() error { return e.Err }

// StorageError wraps a storage-layer failure. Fatal for the run: downstream
// trend correctness depends on a complete write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// IsSourceUnavailable reports whether err is (or wraps) a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailableError
	return errors.As(err, &target)
}

// IsEnrichmentUnavailable reports whether err is (or wraps) an EnrichmentUnavailableError.
func IsEnrichmentUnavailable(err error) bool {
	var target *EnrichmentUnavailableError
	return errors.As(err, &target)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
