package domain

import "errors"

var (
	// ErrUpstreamUnavailable marks a reasoning or ticket-store call that failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse marks a reasoning reply that does not match the recommendation shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrEmptyKeywordSet marks an insight that cannot be clustered. Never surfaced to callers.
	ErrEmptyKeywordSet = errors.New("empty keyword set")
	// ErrConcurrentRunConflict is returned when a run for the organization is already in flight.
	ErrConcurrentRunConflict = errors.New("concurrent run conflict")
)

// FailureKindOf maps a cluster processing error onto the persisted failure kind.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrMalformedResponse):
		return FailureMalformedResponse
	default:
		return FailureUpstreamUnavailable
	}
}
