package planner

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
)

type fixedScorer struct{ score float64 }

func (f fixedScorer) Score(domain.Signal, domain.RiskDecision, domain.MarketSnapshot) float64 {
	return f.score
}

var planTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testPlanner(t *testing.T, score float64) *Planner {
	t.Helper()
	cfg := config.Defaults().Planner
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithScorer(fixedScorer{score}),
		WithNow(func() time.Time { return planTime }),
	)
}

func arbSignal() domain.Signal {
	return domain.Signal{
		ID:   "sig-1",
		Kind: domain.SignalKindDirectArb,
		Legs: []domain.SignalLeg{
			{FromAsset: "USDC", ToAsset: "WETH", VenueID: "pool-a", Amount: 200, ExpectedOut: 2},
			{FromAsset: "WETH", ToAsset: "USDC", VenueID: "pool-b", Amount: 2, ExpectedOut: 206},
		},
		EstProfit:  6,
		EstFee:     1,
		Confidence: 0.9,
		CreatedAt:  planTime,
		ExpiresAt:  planTime.Add(2 * time.Minute),
	}
}

func accept() domain.RiskDecision {
	return domain.RiskDecision{Verdict: domain.VerdictAccept, RiskScore: 0.1}
}

func TestPlanRejectedDecision(t *testing.T) {
	p := testPlanner(t, 0.1)
	_, err := p.Plan(arbSignal(), domain.RiskDecision{Verdict: domain.VerdictReject}, domain.MarketSnapshot{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPlanning)
}

func TestPlanDirectStrategy(t *testing.T) {
	p := testPlanner(t, 0.1)
	plan, err := p.Plan(arbSignal(), accept(), domain.MarketSnapshot{})
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyDirect, plan.Strategy)
	assert.Equal(t, "sig-1", plan.SignalID)
	assert.NotEmpty(t, plan.ID)
	assert.NotEmpty(t, plan.IdempotencyKey)
	assert.Nil(t, plan.Commitment)
	assert.Equal(t, planTime.Add(10*time.Second), plan.Deadline)

	require.Len(t, plan.Legs, 2)
	assert.InDelta(t, 2*(1-0.005), plan.Legs[0].MinOut, 1e-9)
	assert.InDelta(t, 206*(1-0.005), plan.Legs[1].MinOut, 1e-9)
}

func TestPlanCautionCapsAmount(t *testing.T) {
	p := testPlanner(t, 0.1)
	decision := domain.RiskDecision{Verdict: domain.VerdictCaution, CappedAmount: 100}

	plan, err := p.Plan(arbSignal(), decision, domain.MarketSnapshot{})
	require.NoError(t, err)
	require.Len(t, plan.Legs, 2)
	assert.InDelta(t, 100, plan.Legs[0].Amount, 1e-9)
	assert.InDelta(t, 1, plan.Legs[0].ExpectedOut, 1e-9)
	assert.InDelta(t, 1, plan.Legs[1].Amount, 1e-9)
}

func TestPlanMultiHopPassesMultiLegThrough(t *testing.T) {
	p := testPlanner(t, 0.5)
	plan, err := p.Plan(arbSignal(), accept(), domain.MarketSnapshot{})
	require.NoError(t, err)

	// Two-leg routes are already fragmented; no further splitting.
	assert.Equal(t, domain.StrategyMultiHop, plan.Strategy)
	assert.Len(t, plan.Legs, 2)
}

func TestPlanMultiHopSplitsSingleLeg(t *testing.T) {
	p := testPlanner(t, 0.5)
	sig := domain.Signal{
		ID:   "sig-2",
		Kind: domain.SignalKindCrossVenue,
		Legs: []domain.SignalLeg{
			{FromAsset: "WBTC", ToAsset: "DAI", VenueID: "pool-x", Amount: 1, ExpectedOut: 60_000},
		},
		EstProfit:  100,
		EstFee:     10,
		Confidence: 0.9,
		ExpiresAt:  planTime.Add(2 * time.Minute),
	}
	snap := domain.NewMarketSnapshot(1, planTime, []domain.Venue{
		{ID: "hop-1", Base: "WBTC", Quote: "USDC", Price: 60_000, Depth: 1_000_000},
		{ID: "hop-2", Base: "DAI", Quote: "USDC", Price: 1, Depth: 1_000_000},
	}, nil)

	plan, err := p.Plan(sig, accept(), snap)
	require.NoError(t, err)
	require.Len(t, plan.Legs, 3)

	direct := plan.Legs[0]
	assert.Equal(t, "pool-x", direct.VenueID)
	assert.InDelta(t, 0.5, direct.Amount, 1e-9)

	assert.Equal(t, "WBTC", plan.Legs[1].FromAsset)
	assert.Equal(t, "USDC", plan.Legs[1].ToAsset)
	assert.Equal(t, "hop-1", plan.Legs[1].VenueID)
	assert.InDelta(t, 0.5, plan.Legs[1].Amount, 1e-9)

	assert.Equal(t, "USDC", plan.Legs[2].FromAsset)
	assert.Equal(t, "DAI", plan.Legs[2].ToAsset)
	assert.Equal(t, "hop-2", plan.Legs[2].VenueID)
	assert.InDelta(t, plan.Legs[1].ExpectedOut, plan.Legs[2].Amount, 1e-9)
}

func TestPlanMultiHopNoViableHopKeepsLeg(t *testing.T) {
	p := testPlanner(t, 0.5)
	sig := domain.Signal{
		ID:        "sig-3",
		Legs:      []domain.SignalLeg{{FromAsset: "WBTC", ToAsset: "DAI", VenueID: "pool-x", Amount: 1, ExpectedOut: 60_000}},
		ExpiresAt: planTime.Add(2 * time.Minute),
	}
	plan, err := p.Plan(sig, accept(), domain.MarketSnapshot{})
	require.NoError(t, err)
	assert.Len(t, plan.Legs, 1)
}

func TestPlanCommitRevealWhenLifetimeAllows(t *testing.T) {
	p := testPlanner(t, 0.9)
	plan, err := p.Plan(arbSignal(), accept(), domain.MarketSnapshot{})
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyCommitReveal, plan.Strategy)
	require.NotNil(t, plan.Commitment)
	assert.True(t, VerifyCommitment(plan))

	c := plan.Commitment
	assert.False(t, c.RevealAt.Before(planTime.Add(2*time.Second)))
	assert.False(t, c.RevealAt.After(planTime.Add(8*time.Second)))
	assert.Equal(t, planTime.Add(45*time.Second), c.RevealDeadline)
}

func TestPlanBundleWhenSignalExpiresTooSoon(t *testing.T) {
	p := testPlanner(t, 0.9)
	sig := arbSignal()
	sig.ExpiresAt = planTime.Add(5 * time.Second) // reveal window would outlive it

	plan, err := p.Plan(sig, accept(), domain.MarketSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyAtomicBundle, plan.Strategy)
	assert.Nil(t, plan.Commitment)
	assert.True(t, plan.Atomic())
}
