package risk

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

func testManager() *Manager {
	cfg := config.RiskConfig{
		MaxDailyLoss:       100,
		MaxPositionSize:    500,
		MaxConcentration:   0.25,
		MinConfidence:      0.3,
		MaxFeeProfitRatio:  0.5,
		MaxTradesPerWindow: 20,
		MinPortfolioValue:  1000,
	}
	return NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func goodSignal(amount float64) domain.Signal {
	return domain.Signal{
		ID:   "sig-1",
		Kind: domain.SignalKindDirectArb,
		Legs: []domain.SignalLeg{
			{FromAsset: "USDC", ToAsset: "WETH", VenueID: "pool-a", Amount: amount, ExpectedOut: amount / 100},
			{FromAsset: "WETH", ToAsset: "USDC", VenueID: "pool-b", Amount: amount / 100, ExpectedOut: amount * 1.02},
		},
		EstProfit:  amount * 0.02,
		EstFee:     amount * 0.005,
		Confidence: 0.9,
	}
}

func emptyView() domain.LedgerView {
	return domain.LedgerView{
		Entries:  map[string]domain.ExposureEntry{},
		Reserved: map[string]float64{},
		AsOf:     time.Now(),
	}
}

func TestEvaluateAccept(t *testing.T) {
	m := testManager()
	d := m.Evaluate(goodSignal(100), emptyView())
	assert.Equal(t, domain.VerdictAccept, d.Verdict)
	assert.True(t, d.Accepted())
	assert.Empty(t, d.Reasons)
	assert.GreaterOrEqual(t, d.RiskScore, 0.0)
	assert.LessOrEqual(t, d.RiskScore, 1.0)
}

func TestEvaluateDailyLossLimit(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.DailyRealizedPnL = -150

	d := m.Evaluate(goodSignal(100), view)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.False(t, d.Accepted())
	assert.True(t, d.Has(domain.ReasonDailyLossLimit))
	assert.Zero(t, d.CappedAmount)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.DailyRealizedPnL = -150
	sig := goodSignal(100)

	first := m.Evaluate(sig, view)
	second := m.Evaluate(sig, view)
	assert.Equal(t, first, second)
}

func TestEvaluatePositionSizeCaution(t *testing.T) {
	m := testManager()
	// A large portfolio keeps concentration slack (limit 2500); only the
	// per-trade size cap of 500 binds, and the reason must say so.
	view := emptyView()
	view.PortfolioValue = 10_000

	d := m.Evaluate(goodSignal(600), view)
	assert.Equal(t, domain.VerdictCaution, d.Verdict)
	assert.InDelta(t, 500, d.CappedAmount, 1e-9)
	assert.True(t, d.Has(domain.ReasonPositionSizeLimit))
	assert.False(t, d.Has(domain.ReasonConcentrationLimit))
}

func TestEvaluateConcentrationCaution(t *testing.T) {
	m := testManager()
	// Empty book: portfolio floors at 1000, limit = 250. A 400 notional
	// does not fit whole, but the headroom does.
	d := m.Evaluate(goodSignal(400), emptyView())
	assert.Equal(t, domain.VerdictCaution, d.Verdict)
	assert.True(t, d.Accepted())
	assert.True(t, d.Has(domain.ReasonConcentrationLimit))
	assert.InDelta(t, 250, d.CappedAmount, 1e-9)
}

func TestEvaluateConcentrationReject(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.Entries["WETH"] = domain.ExposureEntry{Asset: "WETH", UnrealizedValue: 300}

	// Existing exposure already exceeds the limit; no headroom remains.
	d := m.Evaluate(goodSignal(100), view)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonConcentrationLimit))
	assert.Zero(t, d.CappedAmount)
}

func TestEvaluateReservedCountsTowardExposure(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.Reserved["WETH"] = 300
	view.PortfolioValue = 300

	d := m.Evaluate(goodSignal(100), view)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonConcentrationLimit))
}

func TestEvaluateLowConfidence(t *testing.T) {
	m := testManager()
	sig := goodSignal(100)
	sig.Confidence = 0.1

	d := m.Evaluate(sig, emptyView())
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonLowConfidence))
}

func TestEvaluateFeeProfitRatio(t *testing.T) {
	m := testManager()
	sig := goodSignal(100)
	sig.EstProfit = 1
	sig.EstFee = 0.9

	d := m.Evaluate(sig, emptyView())
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonFeeProfitRatio))
}

func TestEvaluateTradeFrequency(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.TradesInWindow = 20

	d := m.Evaluate(goodSignal(100), view)
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonTradeFrequency))
}

func TestEvaluateRecordsAllTriggeredReasons(t *testing.T) {
	m := testManager()
	view := emptyView()
	view.DailyRealizedPnL = -150
	sig := goodSignal(100)
	sig.Confidence = 0.1

	d := m.Evaluate(sig, view)
	require.Equal(t, domain.VerdictReject, d.Verdict)
	assert.True(t, d.Has(domain.ReasonDailyLossLimit))
	assert.True(t, d.Has(domain.ReasonLowConfidence))
	assert.Len(t, d.Reasons, 2)
}

func TestHardFailureOverridesCaution(t *testing.T) {
	m := testManager()
	// Over the concentration limit (caution territory) but also below the
	// confidence floor: the verdict must land on reject with no cap.
	sig := goodSignal(400)
	sig.Confidence = 0.1

	d := m.Evaluate(sig, emptyView())
	assert.Equal(t, domain.VerdictReject, d.Verdict)
	assert.Zero(t, d.CappedAmount)
}

func TestDispatchCheck(t *testing.T) {
	m := testManager()
	check := m.DispatchCheck()

	view := emptyView()
	require.NoError(t, check(view, "WETH", 100))

	view.DailyRealizedPnL = -150
	err := check(view, "WETH", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)

	view = emptyView()
	view.Reserved["WETH"] = 200
	view.PortfolioValue = 200
	err = check(view, "WETH", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
}
