package domain

import "time"

// LegState is the per-leg execution state machine:
// Pending -> Submitted -> Confirmed | Failed | TimedOut.
type LegState string

const (
	LegPending   LegState = "pending"
	LegSubmitted LegState = "submitted"
	LegConfirmed LegState = "confirmed"
	LegFailed    LegState = "failed"
	LegTimedOut  LegState = "timed_out"
)

// Terminal reports whether the leg reached a final state.
func (s LegState) Terminal() bool {
	return s == LegConfirmed || s == LegFailed || s == LegTimedOut
}

// LegResult is the outcome of one plan leg.
type LegResult struct {
	VenueID    string
	State      LegState
	FilledOut  float64 // output amount actually received, 0 unless confirmed
	VenueRef   string  // venue-assigned identifier for the fill
	FailReason string  // empty unless failed or timed out

	// Unwind bookkeeping for non-atomic plans. UnwindErr is reported
	// alongside the original failure, never merged into FailReason.
	UnwindAttempted bool
	Unwound         bool
	UnwindErr       string
}

// ExecutionResult is the structured outcome of executing one plan. Terminal
// errors surface here rather than as returned errors, so callers always get
// a per-leg account of what happened.
type ExecutionResult struct {
	PlanID            string
	Legs              []LegResult
	RealizedPnL       float64 // realized profit in the entry asset, round trips only
	Duration          time.Duration
	PartialCompletion bool
	UnwindFailed      bool   // a confirmed leg could not be unwound; must be escalated
	Err               string // terminal error summary, empty on success
	CompletedAt       time.Time
}

// Success reports whether every leg confirmed.
func (r ExecutionResult) Success() bool {
	if len(r.Legs) == 0 {
		return false
	}
	for _, leg := range r.Legs {
		if leg.State != LegConfirmed {
			return false
		}
	}
	return true
}

// ConfirmedLegs returns the number of legs that reached Confirmed.
func (r ExecutionResult) ConfirmedLegs() int {
	n := 0
	for _, leg := range r.Legs {
		if leg.State == LegConfirmed {
			n++
		}
	}
	return n
}
