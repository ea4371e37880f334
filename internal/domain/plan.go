package domain

import "time"

// SubmissionStrategy selects how a plan's legs reach the venues.
type SubmissionStrategy string

const (
	StrategyDirect       SubmissionStrategy = "direct"        // single-shot submission
	StrategyMultiHop     SubmissionStrategy = "multi_hop"     // notional split across intermediate assets
	StrategyCommitReveal SubmissionStrategy = "commit_reveal" // delayed reveal behind a commitment hash
	StrategyAtomicBundle SubmissionStrategy = "atomic_bundle" // all-or-nothing bundle
)

// PlanLeg is one executable operation within a plan. MinOut is the per-leg
// slippage bound: expected output scaled down by the configured tolerance.
type PlanLeg struct {
	FromAsset   string
	ToAsset     string
	VenueID     string
	Amount      float64
	ExpectedOut float64
	MinOut      float64
}

// Commitment is the commit-reveal envelope for a plan: a Keccak-256 hash over
// the canonical leg encoding and a random salt. The reveal path recomputes
// the hash and aborts when it does not match or the deadline has passed.
type Commitment struct {
	Hash           [32]byte
	Salt           [32]byte
	RevealAt       time.Time
	RevealDeadline time.Time
}

// ExecutionPlan is an ordered sequence of venue operations built from an
// accepted signal. Plans are immutable once handed to the execution engine.
type ExecutionPlan struct {
	ID             string
	SignalID       string
	Strategy       SubmissionStrategy
	Legs           []PlanLeg
	Deadline       time.Time
	IdempotencyKey string
	Commitment     *Commitment // set only for commit_reveal plans
	CreatedAt      time.Time
}

// Atomic reports whether the plan fails or succeeds as a whole, making
// unwind logic unnecessary by construction.
func (p ExecutionPlan) Atomic() bool {
	return p.Strategy == StrategyAtomicBundle
}
