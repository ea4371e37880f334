// Package venue provides adapter implementations for liquidity venues. Sim
// is a deterministic in-process constant-product venue used by paper mode
// and tests; real venue adapters satisfy the same domain.VenueAdapter
// contract.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venuelab/poolrunner/internal/domain"
)

// Sim is a simulated constant-product venue. Swaps move the pool reserves,
// so prices react to executed volume the way a real pool would. All methods
// are safe for concurrent use. Fault hooks let tests and paper-mode chaos
// runs inject transient, logic, and confirmation failures.
type Sim struct {
	mu       sync.Mutex
	state    domain.Venue
	baseRes  float64 // base-asset reserve
	quoteRes float64 // quote-asset reserve
	pending  map[string]pendingSwap
	seq      uint64
	now      func() time.Time

	// FailSubmits makes the next n Submit calls return a transient error.
	failSubmits int
	// RejectPair makes swaps on the given directed pair fail confirmation.
	rejectPair *domain.AssetPair
}

type pendingSwap struct {
	pair   domain.AssetPair
	amount float64
	minOut float64
	out    float64
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSimNow overrides the clock, used by tests.
func WithSimNow(now func() time.Time) SimOption {
	return func(s *Sim) { s.now = now }
}

// NewSim creates a simulated venue seeded from the given state. Reserves are
// derived from Depth and Price so the marginal price matches state.Price.
func NewSim(state domain.Venue, opts ...SimOption) *Sim {
	s := &Sim{
		state:   state,
		pending: make(map[string]pendingSwap),
		seq:     state.Seq,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.quoteRes = state.Depth
	if state.Price > 0 {
		s.baseRes = state.Depth / state.Price
	}
	return s
}

// FailNextSubmits arms the next n Submit calls to fail with a transient
// error, exercising the retry path.
func (s *Sim) FailNextSubmits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmits = n
}

// RejectPair makes every swap in the given direction fail at confirmation
// time, exercising the unwind path without touching other directions.
func (s *Sim) RejectPair(pair domain.AssetPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectPair = &pair
}

func (s *Sim) VenueID() string { return s.state.ID }

func (s *Sim) State(ctx context.Context) (domain.Venue, error) {
	if err := ctx.Err(); err != nil {
		return domain.Venue{}, fmt.Errorf("venue %s: state: %w", s.state.ID, domain.ErrContextDone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.state
	out.Price = s.priceLocked()
	out.Depth = s.quoteRes
	out.Seq = s.seq
	out.RefreshedAt = s.now()
	return out, nil
}

func (s *Sim) GetQuote(ctx context.Context, pair domain.AssetPair, amount float64) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, fmt.Errorf("venue %s: quote: %w", s.state.ID, domain.ErrContextDone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.swapOutLocked(pair, amount)
	if err != nil {
		return domain.Quote{}, err
	}

	var impact float64
	if _, isPos := s.positionPair(pair); !isPos {
		if pair.From == s.state.Quote && s.quoteRes > 0 {
			impact = amount / (s.quoteRes + amount)
		} else if s.baseRes > 0 {
			impact = amount / (s.baseRes + amount)
		}
	}
	return domain.Quote{OutputAmount: out, PriceImpact: impact}, nil
}

func (s *Sim) BuildOperation(ctx context.Context, pair domain.AssetPair, amount, minOut float64) (domain.Instruction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Instruction{}, fmt.Errorf("venue %s: build: %w", s.state.ID, domain.ErrContextDone)
	}
	if amount <= 0 {
		return domain.Instruction{}, fmt.Errorf("venue %s: non-positive amount %f: %w", s.state.ID, amount, domain.ErrSubmissionLogic)
	}
	if !s.knownAsset(pair.From) || !s.knownAsset(pair.To) {
		return domain.Instruction{}, fmt.Errorf("venue %s: unknown pair %s/%s: %w", s.state.ID, pair.From, pair.To, domain.ErrSubmissionLogic)
	}
	return domain.Instruction{
		VenueID: s.state.ID,
		Pair:    pair,
		Amount:  amount,
		MinOut:  minOut,
	}, nil
}

func (s *Sim) Submit(ctx context.Context, ins domain.Instruction) (domain.SubmissionHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmissionHandle{}, fmt.Errorf("venue %s: submit: %w", s.state.ID, domain.ErrContextDone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSubmits > 0 {
		s.failSubmits--
		return domain.SubmissionHandle{}, fmt.Errorf("venue %s: connection reset: %w", s.state.ID, domain.ErrSubmissionTransient)
	}

	out, err := s.swapOutLocked(ins.Pair, ins.Amount)
	if err != nil {
		return domain.SubmissionHandle{}, err
	}

	h := domain.SubmissionHandle{
		ID:          uuid.New().String(),
		VenueID:     s.state.ID,
		SubmittedAt: s.now(),
	}
	s.pending[h.ID] = pendingSwap{pair: ins.Pair, amount: ins.Amount, minOut: ins.MinOut, out: out}
	return h, nil
}

// SubmitBundle accepts a set of instructions as one all-or-nothing unit.
// Every instruction is validated up front; settlement happens at
// confirmation, so either all legs land or none do.
func (s *Sim) SubmitBundle(ctx context.Context, ins []domain.Instruction) (domain.SubmissionHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmissionHandle{}, fmt.Errorf("venue %s: bundle: %w", s.state.ID, domain.ErrContextDone)
	}
	if len(ins) == 0 {
		return domain.SubmissionHandle{}, fmt.Errorf("venue %s: empty bundle: %w", s.state.ID, domain.ErrSubmissionLogic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSubmits > 0 {
		s.failSubmits--
		return domain.SubmissionHandle{}, fmt.Errorf("venue %s: connection reset: %w", s.state.ID, domain.ErrSubmissionTransient)
	}

	// Validate the whole chain before committing to any of it.
	var total float64
	for i, in := range ins {
		out, err := s.swapOutLocked(in.Pair, in.Amount)
		if err != nil {
			return domain.SubmissionHandle{}, fmt.Errorf("venue %s: bundle leg %d: %w", s.state.ID, i, err)
		}
		total = out
	}

	h := domain.SubmissionHandle{
		ID:          uuid.New().String(),
		VenueID:     s.state.ID,
		SubmittedAt: s.now(),
	}
	last := ins[len(ins)-1]
	s.pending[h.ID] = pendingSwap{pair: last.Pair, amount: ins[0].Amount, minOut: last.MinOut, out: total}
	return h, nil
}

func (s *Sim) AwaitConfirmation(ctx context.Context, h domain.SubmissionHandle, deadline time.Time) (domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, fmt.Errorf("venue %s: await: %w", s.state.ID, domain.ErrContextDone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.pending[h.ID]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("venue %s: unknown submission %s: %w", s.state.ID, h.ID, domain.ErrNotFound)
	}
	delete(s.pending, h.ID)

	if s.now().After(deadline) {
		return domain.Outcome{}, fmt.Errorf("venue %s: submission %s unconfirmed by deadline: %w", s.state.ID, h.ID, domain.ErrConfirmationTimeout)
	}
	if s.rejectPair != nil && *s.rejectPair == sw.pair {
		return domain.Outcome{Confirmed: false, Reason: "venue rejected order"}, nil
	}

	// Re-price against current reserves; prior settlements may have moved
	// the pool past the slippage bound.
	out, err := s.swapOutLocked(sw.pair, sw.amount)
	if err != nil {
		return domain.Outcome{Confirmed: false, Reason: err.Error()}, nil
	}
	if out < sw.minOut {
		return domain.Outcome{Confirmed: false, Reason: fmt.Sprintf("slippage: out %f below min %f", out, sw.minOut)}, nil
	}

	s.settleLocked(sw.pair, sw.amount, out)
	return domain.Outcome{
		Confirmed:    true,
		FilledAmount: out,
		VenueRef:     "sim-" + h.ID[:8],
	}, nil
}

// positionPair classifies a pair as a withdraw (position -> quote) or
// redeposit (quote -> position) of this venue's liquidity position.
func (s *Sim) positionPair(pair domain.AssetPair) (withdraw, ok bool) {
	if s.state.Kind != domain.VenueKindConcentrated || !s.state.HasPosition {
		return false, false
	}
	pos := domain.PositionAsset(s.state.ID)
	switch {
	case pair.From == pos && pair.To == s.state.Quote:
		return true, true
	case pair.From == s.state.Quote && pair.To == pos:
		return false, true
	default:
		return false, false
	}
}

// swapOutLocked prices a swap against current reserves with the x*y=k curve,
// taking the proportional fee on the input side. Position withdraws and
// redeposits settle at par; only trades against the pool pay the curve and
// the fee.
func (s *Sim) swapOutLocked(pair domain.AssetPair, amount float64) (float64, error) {
	if _, ok := s.positionPair(pair); ok {
		return amount, nil
	}
	if s.baseRes <= 0 || s.quoteRes <= 0 {
		return 0, fmt.Errorf("venue %s: no liquidity: %w", s.state.ID, domain.ErrVenueUnavailable)
	}
	in := amount * (1 - s.state.FeeBps/1e4)

	switch {
	case pair.From == s.state.Quote && pair.To == s.state.Base:
		return s.baseRes * in / (s.quoteRes + in), nil
	case pair.From == s.state.Base && pair.To == s.state.Quote:
		return s.quoteRes * in / (s.baseRes + in), nil
	default:
		return 0, fmt.Errorf("venue %s: unknown pair %s/%s: %w", s.state.ID, pair.From, pair.To, domain.ErrSubmissionLogic)
	}
}

func (s *Sim) settleLocked(pair domain.AssetPair, amount, out float64) {
	if _, ok := s.positionPair(pair); ok {
		// Position notional moves in and out of range without touching the
		// active swap reserves.
		s.seq++
		return
	}
	if pair.From == s.state.Quote {
		s.quoteRes += amount
		s.baseRes -= out
	} else {
		s.baseRes += amount
		s.quoteRes -= out
	}
	s.seq++
}

func (s *Sim) priceLocked() float64 {
	if s.baseRes <= 0 {
		return 0
	}
	return s.quoteRes / s.baseRes
}

func (s *Sim) knownAsset(asset string) bool {
	if asset == s.state.Base || asset == s.state.Quote {
		return true
	}
	return s.state.Kind == domain.VenueKindConcentrated && s.state.HasPosition &&
		asset == domain.PositionAsset(s.state.ID)
}

var (
	_ domain.VenueAdapter    = (*Sim)(nil)
	_ domain.BundleSubmitter = (*Sim)(nil)
)
