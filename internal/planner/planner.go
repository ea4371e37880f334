// Package planner turns accepted signals into executable plans. The core
// choice is the submission strategy: how visible the order flow is allowed
// to be, traded off against latency to fill.
package planner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
)

// Planner builds execution plans from risk-accepted signals.
type Planner struct {
	cfg    config.PlannerConfig
	scorer Scorer
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithScorer replaces the default adversarial-risk scorer.
func WithScorer(s Scorer) Option {
	return func(p *Planner) { p.scorer = s }
}

// WithNow overrides the clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner.
func New(cfg config.PlannerConfig, logger *slog.Logger, opts ...Option) *Planner {
	p := &Planner{
		cfg:    cfg,
		scorer: HeuristicScorer{},
		logger: logger.With(slog.String("component", "planner")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan converts an accepted signal into an execution plan. Rejected
// decisions are a caller error and return ErrPlanning; caution decisions
// scale the signal down to the capped amount first. The adversarial score
// picks the strategy: low scores submit directly, medium scores split the
// notional across hops, high scores hide behind a commit-reveal envelope
// when the signal's lifetime allows the delay, or an atomic bundle when
// it does not.
func (p *Planner) Plan(sig domain.Signal, decision domain.RiskDecision, snap domain.MarketSnapshot) (domain.ExecutionPlan, error) {
	if !decision.Accepted() {
		return domain.ExecutionPlan{}, fmt.Errorf("planner: signal %s was rejected: %w", sig.ID, domain.ErrPlanning)
	}
	if len(sig.Legs) == 0 {
		return domain.ExecutionPlan{}, fmt.Errorf("planner: signal %s has no legs: %w", sig.ID, domain.ErrPlanning)
	}
	if decision.Verdict == domain.VerdictCaution && decision.CappedAmount > 0 {
		sig = sig.WithAmount(decision.CappedAmount)
	}

	now := p.now()
	score := p.scorer.Score(sig, decision, snap)
	strategy, latency := p.selectStrategy(sig, score, now)

	legs := p.buildLegs(sig)
	if strategy == domain.StrategyMultiHop {
		legs = p.splitHops(legs, snap)
	}

	plan := domain.ExecutionPlan{
		ID:             uuid.New().String(),
		SignalID:       sig.ID,
		Strategy:       strategy,
		Legs:           legs,
		Deadline:       now.Add(latency),
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
	}

	if strategy == domain.StrategyCommitReveal {
		c, err := newCommitment(legs, now, p.cfg.CommitRevealDelayMin.Duration, p.cfg.CommitRevealDelayMax.Duration, p.cfg.CommitRevealLatency.Duration)
		if err != nil {
			return domain.ExecutionPlan{}, err
		}
		plan.Commitment = c
	}

	p.logger.Debug("plan built",
		slog.String("plan", plan.ID),
		slog.String("signal", sig.ID),
		slog.String("strategy", string(strategy)),
		slog.Float64("adversarial_score", score),
		slog.Int("legs", len(plan.Legs)),
	)
	return plan, nil
}

func (p *Planner) selectStrategy(sig domain.Signal, score float64, now time.Time) (domain.SubmissionStrategy, time.Duration) {
	switch {
	case score < p.cfg.MediumRiskThreshold:
		return domain.StrategyDirect, p.cfg.DirectMaxLatency.Duration
	case score < p.cfg.HighRiskThreshold:
		return domain.StrategyMultiHop, p.cfg.MultiHopMaxLatency.Duration
	default:
		// Commit-reveal slows the fill; fall back to an atomic bundle
		// when the signal would expire before the reveal window closes.
		if sig.ExpiresAt.After(now.Add(p.cfg.CommitRevealLatency.Duration)) {
			return domain.StrategyCommitReveal, p.cfg.CommitRevealLatency.Duration
		}
		return domain.StrategyAtomicBundle, p.cfg.BundleMaxLatency.Duration
	}
}

func (p *Planner) buildLegs(sig domain.Signal) []domain.PlanLeg {
	legs := make([]domain.PlanLeg, len(sig.Legs))
	for i, sl := range sig.Legs {
		legs[i] = domain.PlanLeg{
			FromAsset:   sl.FromAsset,
			ToAsset:     sl.ToAsset,
			VenueID:     sl.VenueID,
			Amount:      sl.Amount,
			ExpectedOut: sl.ExpectedOut,
			MinOut:      sl.ExpectedOut * (1 - p.cfg.SlippageTolerance),
		}
	}
	return legs
}

// splitHops obfuscates single-hop flow by routing part of the notional
// through an intermediate asset when venues for both half-routes exist in
// the snapshot, leaving the rest on the original venue. Multi-leg routes
// are already fragmented and pass through unchanged, as does any signal
// with no viable hop.
func (p *Planner) splitHops(legs []domain.PlanLeg, snap domain.MarketSnapshot) []domain.PlanLeg {
	if len(legs) != 1 {
		return legs
	}
	leg := legs[0]

	for _, hop := range p.cfg.HopAssets {
		if hop == leg.FromAsset || hop == leg.ToAsset {
			continue
		}
		first, ok := findVenue(snap, leg.FromAsset, hop)
		if !ok {
			continue
		}
		second, ok := findVenue(snap, hop, leg.ToAsset)
		if !ok {
			continue
		}

		half := leg.Amount / 2
		mid := estimateOut(first, leg.FromAsset, half)
		out := estimateOut(second, hop, mid)

		direct := leg
		direct.Amount = leg.Amount - half
		direct.ExpectedOut = leg.ExpectedOut * (direct.Amount / leg.Amount)
		direct.MinOut = direct.ExpectedOut * (1 - p.cfg.SlippageTolerance)

		return []domain.PlanLeg{
			direct,
			{
				FromAsset:   leg.FromAsset,
				ToAsset:     hop,
				VenueID:     first.ID,
				Amount:      half,
				ExpectedOut: mid,
				MinOut:      mid * (1 - p.cfg.SlippageTolerance),
			},
			{
				FromAsset:   hop,
				ToAsset:     leg.ToAsset,
				VenueID:     second.ID,
				Amount:      mid,
				ExpectedOut: out,
				MinOut:      out * (1 - p.cfg.SlippageTolerance),
			},
		}
	}
	return legs
}

func findVenue(snap domain.MarketSnapshot, from, to string) (domain.Venue, bool) {
	for _, v := range snap.Venues {
		if snap.IsStale(v.ID) || v.Depth <= 0 || v.Price <= 0 {
			continue
		}
		if (v.Base == from && v.Quote == to) || (v.Base == to && v.Quote == from) {
			return v, true
		}
	}
	return domain.Venue{}, false
}

// estimateOut is a mid-price conversion net of the venue fee, adequate for
// sizing hop legs; the engine's MinOut bounds protect against the model
// being optimistic.
func estimateOut(v domain.Venue, from string, amount float64) float64 {
	fee := 1 - float64(v.FeeBps)/1e4
	if v.Base == from {
		return amount * v.Price * fee
	}
	if v.Price == 0 {
		return 0
	}
	return amount / v.Price * fee
}
