package venue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelab/poolrunner/internal/domain"
)

func testSim() *Sim {
	return NewSim(domain.Venue{
		ID:    "sim-a",
		Kind:  domain.VenueKindPool,
		Base:  "WETH",
		Quote: "USDC",
		Price: 100,
		Depth: 100_000,
	})
}

func TestSimStateMatchesSeed(t *testing.T) {
	s := testSim()
	state, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sim-a", state.ID)
	assert.InDelta(t, 100, state.Price, 1e-9)
	assert.InDelta(t, 100_000, state.Depth, 1e-9)
}

func TestSimSwapRoundTrip(t *testing.T) {
	s := testSim()
	ctx := context.Background()
	pair := domain.AssetPair{From: "USDC", To: "WETH"}

	quote, err := s.GetQuote(ctx, pair, 100)
	require.NoError(t, err)
	assert.Greater(t, quote.OutputAmount, 0.0)
	assert.Greater(t, quote.PriceImpact, 0.0)

	ins, err := s.BuildOperation(ctx, pair, 100, 0)
	require.NoError(t, err)
	h, err := s.Submit(ctx, ins)
	require.NoError(t, err)

	outcome, err := s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, outcome.Confirmed)
	assert.InDelta(t, quote.OutputAmount, outcome.FilledAmount, 1e-9)
	assert.NotEmpty(t, outcome.VenueRef)

	// Buying base moves the price up.
	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Greater(t, state.Price, 100.0)
	assert.Greater(t, state.Seq, uint64(0))
}

func TestSimBuildOperationValidation(t *testing.T) {
	s := testSim()
	ctx := context.Background()

	_, err := s.BuildOperation(ctx, domain.AssetPair{From: "USDC", To: "WETH"}, -1, 0)
	assert.ErrorIs(t, err, domain.ErrSubmissionLogic)

	_, err = s.BuildOperation(ctx, domain.AssetPair{From: "DOGE", To: "WETH"}, 1, 0)
	assert.ErrorIs(t, err, domain.ErrSubmissionLogic)
}

func TestSimSlippageRejection(t *testing.T) {
	s := testSim()
	ctx := context.Background()
	pair := domain.AssetPair{From: "USDC", To: "WETH"}

	// Demand more output than the pool can possibly give.
	ins, err := s.BuildOperation(ctx, pair, 100, 10)
	require.NoError(t, err)
	h, err := s.Submit(ctx, ins)
	require.NoError(t, err)

	outcome, err := s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, outcome.Confirmed)
	assert.Contains(t, outcome.Reason, "slippage")
}

func TestSimConfirmationDeadline(t *testing.T) {
	s := testSim()
	ctx := context.Background()

	ins, err := s.BuildOperation(ctx, domain.AssetPair{From: "USDC", To: "WETH"}, 100, 0)
	require.NoError(t, err)
	h, err := s.Submit(ctx, ins)
	require.NoError(t, err)

	_, err = s.AwaitConfirmation(ctx, h, time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)

	// The handle is consumed either way.
	_, err = s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimTransientFailureHook(t *testing.T) {
	s := testSim()
	ctx := context.Background()
	s.FailNextSubmits(1)

	ins, err := s.BuildOperation(ctx, domain.AssetPair{From: "USDC", To: "WETH"}, 100, 0)
	require.NoError(t, err)

	_, err = s.Submit(ctx, ins)
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))

	_, err = s.Submit(ctx, ins)
	assert.NoError(t, err)
}

func TestSimRejectPairHook(t *testing.T) {
	s := testSim()
	ctx := context.Background()
	s.RejectPair(domain.AssetPair{From: "USDC", To: "WETH"})

	ins, err := s.BuildOperation(ctx, domain.AssetPair{From: "USDC", To: "WETH"}, 100, 0)
	require.NoError(t, err)
	h, err := s.Submit(ctx, ins)
	require.NoError(t, err)

	outcome, err := s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, outcome.Confirmed)

	// The opposite direction is unaffected.
	ins, err = s.BuildOperation(ctx, domain.AssetPair{From: "WETH", To: "USDC"}, 1, 0)
	require.NoError(t, err)
	h, err = s.Submit(ctx, ins)
	require.NoError(t, err)
	outcome, err = s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, outcome.Confirmed)
}

func TestSimBundleSettlesAtConfirmation(t *testing.T) {
	s := testSim()
	ctx := context.Background()

	ins := []domain.Instruction{
		{VenueID: "sim-a", Pair: domain.AssetPair{From: "USDC", To: "WETH"}, Amount: 100},
		{VenueID: "sim-a", Pair: domain.AssetPair{From: "WETH", To: "USDC"}, Amount: 1},
	}
	h, err := s.SubmitBundle(ctx, ins)
	require.NoError(t, err)

	// Nothing has settled yet.
	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100, state.Price, 1e-9)

	outcome, err := s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, outcome.Confirmed)
	assert.Greater(t, outcome.FilledAmount, 0.0)
}

func testConcSim() *Sim {
	return NewSim(domain.Venue{
		ID:          "clp-1",
		Kind:        domain.VenueKindConcentrated,
		Base:        "WETH",
		Quote:       "USDC",
		Price:       120,
		Depth:       10_000,
		HasPosition: true,
		RangeLower:  80,
		RangeUpper:  100,
	})
}

func TestSimPositionWithdrawAndRedeposit(t *testing.T) {
	s := testConcSim()
	ctx := context.Background()
	pos := domain.PositionAsset("clp-1")

	before, err := s.State(ctx)
	require.NoError(t, err)

	for _, pair := range []domain.AssetPair{
		{From: pos, To: "USDC"},
		{From: "USDC", To: pos},
	} {
		quote, err := s.GetQuote(ctx, pair, 100)
		require.NoError(t, err)
		assert.InDelta(t, 100.0, quote.OutputAmount, 1e-9, "%s/%s fills at par", pair.From, pair.To)
		assert.Zero(t, quote.PriceImpact)

		ins, err := s.BuildOperation(ctx, pair, 100, 99)
		require.NoError(t, err)
		h, err := s.Submit(ctx, ins)
		require.NoError(t, err)
		outcome, err := s.AwaitConfirmation(ctx, h, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.True(t, outcome.Confirmed)
		assert.InDelta(t, 100.0, outcome.FilledAmount, 1e-9)
	}

	// Position moves bump the sequence but leave the swap reserves alone.
	after, err := s.State(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.Seq, before.Seq)
	assert.InDelta(t, before.Price, after.Price, 1e-9)
	assert.InDelta(t, before.Depth, after.Depth, 1e-9)
}

func TestSimPositionAssetRejectedWithoutPosition(t *testing.T) {
	s := testSim()
	pair := domain.AssetPair{From: domain.PositionAsset("sim-a"), To: "USDC"}

	_, err := s.BuildOperation(context.Background(), pair, 100, 0)
	require.ErrorIs(t, err, domain.ErrSubmissionLogic)
}
