package model

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced at component boundaries. Classification is by
// kind via errors.Is, never by string matching.
var (
	// ErrCancelled marks cooperative cancellation. All blocking
	// operations propagate it unchanged so the worker can distinguish
	// a cancelled job from a failed one.
	ErrCancelled = errors.New("cancelled")

	// ErrValidation marks invalid caller input; jobs are never enqueued
	// for it.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing resource (404, ENOENT, unknown job).
	ErrNotFound = errors.New("not found")

	// ErrFetch marks a failed byte retrieval after retries.
	ErrFetch = errors.New("fetch failed")

	// ErrProcessing marks a pipeline or splitter failure.
	ErrProcessing = errors.New("processing failed")

	// ErrStore marks a persistence failure.
	ErrStore = errors.New("store operation failed")
)

// CancelledError wraps err (typically context.Canceled) as ErrCancelled.
func CancelledError(err error) error {
	if err == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}

// IsCancelled reports whether err is a cancellation, either our own
// sentinel or a raw context error that has not been wrapped yet.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// CheckCancelled returns an ErrCancelled-wrapped error when ctx is done,
// nil otherwise. Call it at every checkpoint before side effects.
func CheckCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return CancelledError(ctx.Err())
	default:
		return nil
	}
}
