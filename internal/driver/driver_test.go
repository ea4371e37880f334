package driver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
	"github.com/venuelab/poolrunner/internal/engine"
	"github.com/venuelab/poolrunner/internal/ledger"
	"github.com/venuelab/poolrunner/internal/market"
	"github.com/venuelab/poolrunner/internal/planner"
	"github.com/venuelab/poolrunner/internal/risk"
	"github.com/venuelab/poolrunner/internal/scanner"
	"github.com/venuelab/poolrunner/internal/store/memory"
	"github.com/venuelab/poolrunner/internal/venue"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pipeline struct {
	driver *Driver
	ledger *ledger.Ledger
	execs  *memory.ExecutionStore
	audit  *memory.AuditStore
}

// buildPipeline wires a full in-process pipeline over simulated venues.
func buildPipeline(t *testing.T, riskCfg config.RiskConfig, sims ...*venue.Sim) pipeline {
	t.Helper()
	cfg := config.Defaults()
	cfg.Risk = riskCfg

	adapters := make([]domain.VenueAdapter, 0, len(sims))
	byID := make(map[string]domain.VenueAdapter, len(sims))
	for _, s := range sims {
		adapters = append(adapters, s)
		byID[s.VenueID()] = s
	}

	cache := market.NewCache(adapters, cfg.Driver.RefreshTimeout.Duration, discard())
	led := ledger.New(cfg.Risk.TradeWindow.Duration, discard())
	sc := scanner.New(scanner.Config{
		MinProfitBps:  cfg.Scanner.MinProfitBps,
		ProbeSize:     cfg.Scanner.ProbeSize,
		MaxAmount:     cfg.Scanner.MaxAmount,
		DepthFraction: cfg.Scanner.DepthFraction,
		GasEstimate:   cfg.Scanner.GasEstimate,
		SignalTTL:     cfg.Scanner.SignalTTL.Duration,
	})
	execs := memory.NewExecutionStore()
	audit := memory.NewAuditStore()

	d := New(cfg.Driver, Deps{
		Cache:     cache,
		Scanner:   sc,
		Risk:      risk.NewManager(cfg.Risk, discard()),
		Planner:   planner.New(cfg.Planner, discard()),
		Engine:    engine.New(cfg.Engine, byID, discard()),
		Ledger:    led,
		ExecStore: execs,
		Audit:     audit,
	}, discard())

	return pipeline{driver: d, ledger: led, execs: execs, audit: audit}
}

func poolSim(id string, price float64) *venue.Sim {
	return venue.NewSim(domain.Venue{
		ID:     id,
		Kind:   domain.VenueKindPool,
		Base:   "WETH",
		Quote:  "USDC",
		Price:  price,
		FeeBps: 30,
		Depth:  100_000,
	})
}

func auditEvents(t *testing.T, audit *memory.AuditStore) []string {
	t.Helper()
	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	events := make([]string, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	return events
}

func TestCycleDetectsAndExecutesArbitrage(t *testing.T) {
	p := buildPipeline(t, config.Defaults().Risk,
		poolSim("sim-a", 100),
		poolSim("sim-b", 103),
	)

	p.driver.Cycle(context.Background())

	recent, err := p.execs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	rec := recent[0]
	assert.Equal(t, domain.SignalKindDirectArb, rec.Signal.Kind)
	assert.Equal(t, domain.VerdictAccept, rec.Decision.Verdict)
	assert.True(t, rec.Result.Success(), "result: %+v", rec.Result)
	assert.Greater(t, rec.Result.RealizedPnL, 0.0)

	assert.Contains(t, auditEvents(t, p.audit), "plan_filled")

	view := p.ledger.View()
	assert.Greater(t, view.DailyRealizedPnL, 0.0)
	assert.Equal(t, 1, view.TradesInWindow)
	assert.Empty(t, view.Reserved, "settlement must release the reservation")
}

func TestCycleRejectedSignalIsAuditedNotExecuted(t *testing.T) {
	riskCfg := config.Defaults().Risk
	riskCfg.MinConfidence = 0.99 // nothing clears this bar
	p := buildPipeline(t, riskCfg,
		poolSim("sim-a", 100),
		poolSim("sim-b", 103),
	)

	p.driver.Cycle(context.Background())

	recent, err := p.execs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Contains(t, auditEvents(t, p.audit), "signal_rejected")
	assert.Zero(t, p.ledger.View().DailyRealizedPnL)
}

func TestCycleNoVenueStateSkips(t *testing.T) {
	p := buildPipeline(t, config.Defaults().Risk)
	p.driver.Cycle(context.Background())

	recent, err := p.execs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Empty(t, auditEvents(t, p.audit))
}

func TestCycleQuietMarketProducesNoTrades(t *testing.T) {
	p := buildPipeline(t, config.Defaults().Risk,
		poolSim("sim-a", 100),
		poolSim("sim-b", 100.2), // spread below the profit floor
	)

	p.driver.Cycle(context.Background())

	recent, err := p.execs.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	p := buildPipeline(t, config.Defaults().Risk, poolSim("sim-a", 100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.driver.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop on cancel")
	}
}
