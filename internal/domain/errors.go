package domain

import "errors"

var (
	// ErrVenueUnavailable marks a venue that could not be reached; the
	// refresh carries on and flags the venue stale.
	ErrVenueUnavailable = errors.New("venue unavailable")
	// ErrStaleSnapshot marks data too old to act on; re-scan next cycle.
	ErrStaleSnapshot = errors.New("stale snapshot")
	// ErrRiskRejected is the expected outcome of a failed risk check. It is
	// terminal for the signal but not an operational error.
	ErrRiskRejected = errors.New("risk rejected")
	// ErrPlanning indicates a programming or configuration defect in the
	// planning stage and must surface loudly.
	ErrPlanning = errors.New("planning error")
	// ErrSubmissionTransient marks a dispatch failure that is safe to retry
	// under the engine's backoff policy.
	ErrSubmissionTransient = errors.New("transient submission error")
	// ErrSubmissionLogic marks a dispatch failure that retrying cannot fix
	// (invalid commitment, expired deadline, rejected bundle).
	ErrSubmissionLogic = errors.New("submission logic error")
	// ErrConfirmationTimeout marks a leg whose venue acknowledgment did not
	// arrive by the deadline. Terminal for the leg; triggers unwind on
	// multi-leg non-atomic plans.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrUnwindFailure means both the original leg and its compensating
	// action failed. Critical: escalate, never swallow.
	ErrUnwindFailure = errors.New("unwind failure")

	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("duplicate")
	ErrContextDone = errors.New("context cancelled")
)

// Retryable reports whether the error is safe to retry under the execution
// engine's backoff policy.
func Retryable(err error) bool {
	return errors.Is(err, ErrSubmissionTransient) || errors.Is(err, ErrVenueUnavailable)
}
