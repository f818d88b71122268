package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aweris/gallery/internal/remote"
)

var (
	// ErrValidation reports bad input. Nothing was sent to the store.
	ErrValidation = errors.New("gallery: validation failed")

	// ErrServiceNotDeployed reports that the connected service does not
	// expose the storage contract.
	ErrServiceNotDeployed = remote.ErrServiceNotDeployed

	// ErrUnavailable reports a transport or service failure that survived
	// the configured retries.
	ErrUnavailable = remote.ErrUnavailable

	// ErrNotFound reports an unknown blob id.
	ErrNotFound = remote.ErrNotFound

	// ErrDeleteRejected reports that the store answered a delete with false.
	ErrDeleteRejected = errors.New("gallery: delete rejected")

	// ErrPartialFetch tags a refresh that dropped entries it could not fetch.
	ErrPartialFetch = errors.New("gallery: partial fetch")

	// ErrOutOfResources reports that a handle could not be allocated.
	ErrOutOfResources = errors.New("gallery: out of handle resources")

	// ErrReleased reports a read through a released handle.
	ErrReleased = errors.New("gallery: handle released")

	// ErrClosed reports use of a closed cache or gallery.
	ErrClosed = errors.New("gallery: closed")
)

// ValidationError describes which upload input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gallery: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FetchFailure records one entry dropped from a refresh.
type FetchFailure struct {
	ID  string
	Err error
}

// PartialFetchError lists the entries a refresh dropped. It is informational:
// the refresh still installed every entry it could fetch.
type PartialFetchError struct {
	Failures []FetchFailure
}

func (e *PartialFetchError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ID
	}
	return fmt.Sprintf("gallery: %d blob(s) could not be fetched: %s", len(e.Failures), strings.Join(ids, ", "))
}

func (e *PartialFetchError) Unwrap() error { return ErrPartialFetch }

// Transient reports whether err is a transport-class failure worth retrying.
// Validation, rejection and missing-service errors are never transient.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) &&
		!errors.Is(err, ErrServiceNotDeployed) &&
		!errors.Is(err, ErrValidation) &&
		!errors.Is(err, ErrDeleteRejected)
}

// classify maps store errors that carry no gallery sentinel onto
// ErrUnavailable so third-party stores get the same retry treatment.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrServiceNotDeployed),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrOutOfResources):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
