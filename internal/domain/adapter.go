package domain

import (
	"context"
	"time"
)

// AssetPair is a directed swap pair: From is spent, To is received.
type AssetPair struct {
	From string
	To   string
}

// Reversed returns the pair with direction flipped, used to build unwind
// operations.
func (p AssetPair) Reversed() AssetPair {
	return AssetPair{From: p.To, To: p.From}
}

// Quote is a venue's answer to "what do I get for this input amount".
type Quote struct {
	OutputAmount float64
	PriceImpact  float64 // fraction of price moved by the trade, 0..1
}

// Instruction is an opaque, venue-specific operation produced by
// BuildOperation and consumed by Submit. The engine never inspects Payload.
type Instruction struct {
	VenueID string
	Pair    AssetPair
	Amount  float64
	MinOut  float64
	Payload []byte
}

// SubmissionHandle identifies an in-flight submission for confirmation
// polling.
type SubmissionHandle struct {
	ID          string
	VenueID     string
	SubmittedAt time.Time
}

// Outcome is a venue's final word on a submission.
type Outcome struct {
	Confirmed    bool
	FilledAmount float64 // output amount received when confirmed
	VenueRef     string  // venue-assigned fill identifier
	Reason       string  // rejection reason when not confirmed
}

// VenueAdapter is the uniform read/write interface to one external liquidity
// venue. The engine consumes this interface; it never implements the venue
// protocol itself. Every call takes a context and implementations must honor
// its deadline; errors wrap ErrSubmissionTransient, ErrSubmissionLogic, or
// ErrVenueUnavailable so callers can classify them with errors.Is.
type VenueAdapter interface {
	VenueID() string

	// State queries the venue's current pool state for a cache refresh.
	State(ctx context.Context) (Venue, error)

	// GetQuote computes the output for swapping amount of pair.From.
	GetQuote(ctx context.Context, pair AssetPair, amount float64) (Quote, error)

	// BuildOperation constructs a submittable instruction with the given
	// slippage bound.
	BuildOperation(ctx context.Context, pair AssetPair, amount, minOut float64) (Instruction, error)

	// Submit dispatches a previously built instruction.
	Submit(ctx context.Context, ins Instruction) (SubmissionHandle, error)

	// AwaitConfirmation blocks until the venue acknowledges the submission
	// or the deadline passes, whichever comes first.
	AwaitConfirmation(ctx context.Context, h SubmissionHandle, deadline time.Time) (Outcome, error)
}

// BundleSubmitter is optional. Adapters that support all-or-nothing
// submission of several instructions implement it; the engine type-asserts
// when executing atomic-bundle plans and fails the plan as a logic error
// when the venue cannot bundle.
type BundleSubmitter interface {
	SubmitBundle(ctx context.Context, ins []Instruction) (SubmissionHandle, error)
}
