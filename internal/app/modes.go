package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venuelab/poolrunner/internal/domain"
	"github.com/venuelab/poolrunner/internal/driver"
	"github.com/venuelab/poolrunner/internal/engine"
	"github.com/venuelab/poolrunner/internal/feed"
	"github.com/venuelab/poolrunner/internal/ledger"
	"github.com/venuelab/poolrunner/internal/market"
	"github.com/venuelab/poolrunner/internal/planner"
	"github.com/venuelab/poolrunner/internal/risk"
	"github.com/venuelab/poolrunner/internal/scanner"
)

// executionStream is the bus stream receiving execution results.
const executionStream = "executions"

// pipeline bundles the wired detection/execution components for one run.
type pipeline struct {
	cache   *market.Cache
	ledger  *ledger.Ledger
	scanner *scanner.Scanner
	driver  *driver.Driver
}

// buildPipeline assembles the market cache, ledger, scanner, risk manager,
// planner, engine, and driver from config and the wired dependencies.
func (a *App) buildPipeline(deps *Dependencies) *pipeline {
	adapters := make([]domain.VenueAdapter, 0, len(deps.Adapters))
	for _, ad := range deps.Adapters {
		adapters = append(adapters, ad)
	}

	var cacheOpts []market.Option
	if deps.VenueCache != nil {
		cacheOpts = append(cacheOpts, market.WithRemote(deps.VenueCache))
	}
	cache := market.NewCache(adapters, a.cfg.Driver.RefreshTimeout.Duration, a.logger, cacheOpts...)

	led := ledger.New(a.cfg.Risk.TradeWindow.Duration, a.logger, ledger.WithStore(deps.ExposureStore))
	scan := a.buildScanner()

	riskMgr := risk.NewManager(a.cfg.Risk, a.logger)
	plan := planner.New(a.cfg.Planner, a.logger)
	eng := engine.New(a.cfg.Engine, deps.Adapters, a.logger)

	drv := driver.New(a.cfg.Driver, driver.Deps{
		Cache:     cache,
		Scanner:   scan,
		Risk:      riskMgr,
		Planner:   plan,
		Engine:    eng,
		Ledger:    led,
		ExecStore: deps.ExecutionStore,
		Audit:     deps.AuditStore,
		Notifier:  deps.Notifier,
		Bus:       deps.Bus,
		Stream:    executionStream,
	}, a.logger)

	return &pipeline{cache: cache, ledger: led, scanner: scan, driver: drv}
}

func (a *App) buildScanner() *scanner.Scanner {
	cycles := make([][3]string, 0, len(a.cfg.Scanner.Cycles))
	for _, c := range a.cfg.Scanner.Cycles {
		if len(c) == 3 {
			cycles = append(cycles, [3]string{c[0], c[1], c[2]})
		}
	}
	return scanner.New(scanner.Config{
		MinProfitBps:  a.cfg.Scanner.MinProfitBps,
		ProbeSize:     a.cfg.Scanner.ProbeSize,
		MaxAmount:     a.cfg.Scanner.MaxAmount,
		DepthFraction: a.cfg.Scanner.DepthFraction,
		GasEstimate:   a.cfg.Scanner.GasEstimate,
		SignalTTL:     a.cfg.Scanner.SignalTTL.Duration,
		Cycles:        cycles,
		Epsilon:       a.cfg.Scanner.Epsilon,
	})
}

// TradeMode runs the full pipeline against the configured venues with
// postgres persistence, the shared venue cache, and optional feed and
// archiver goroutines.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runPipeline(ctx, deps)
}

// PaperMode runs the identical pipeline against simulated venues with
// in-memory stores. No external service is touched; fills and PnL come from
// the simulator's constant-product model.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode, fills are simulated")
	return a.runPipeline(ctx, deps)
}

func (a *App) runPipeline(ctx context.Context, deps *Dependencies) error {
	p := a.buildPipeline(deps)

	if err := p.ledger.Seed(ctx); err != nil {
		a.logger.WarnContext(ctx, "seeding ledger from store failed, starting flat",
			slog.String("error", err.Error()),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.driver.Run(ctx)
	})

	a.startFeeds(ctx, g, deps, p.cache)

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	return g.Wait()
}

// startFeeds launches the push-update paths: the WebSocket feed when
// configured, otherwise the bus feed when a channel is set, so an instance
// either produces updates for siblings or follows them.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, cache *market.Cache) {
	if !a.cfg.Feed.Enabled {
		return
	}

	apply := func(u domain.VenueUpdate) bool {
		return cache.ApplyUpdate(u)
	}

	switch {
	case a.cfg.Feed.WSURL != "":
		wsFeed := feed.NewVenueWSFeed(a.cfg.Feed.WSURL, apply, deps.Bus, a.cfg.Feed.BusChannel, a.logger)
		g.Go(func() error {
			return wsFeed.Run(ctx)
		})
	case a.cfg.Feed.BusChannel != "" && deps.Bus != nil:
		busFeed := feed.NewBusFeed(deps.Bus, a.cfg.Feed.BusChannel, apply, a.logger)
		g.Go(func() error {
			return busFeed.Run(ctx)
		})
	}
}

// MonitorMode refreshes and scans without executing anything: every cycle's
// signals are logged and recorded in the audit trail. Useful for validating
// venue configuration and scanner thresholds before risking funds.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode, execution disabled")

	p := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps, p.cache)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Driver.Interval.Duration)
		defer ticker.Stop()

		for {
			snap, err := p.cache.Refresh(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "market refresh failed",
					slog.String("error", err.Error()),
				)
				snap = p.cache.Latest()
			}

			for _, sig := range p.scanner.Scan(snap) {
				a.logger.InfoContext(ctx, "signal observed",
					slog.String("signal", sig.ID),
					slog.String("kind", string(sig.Kind)),
					slog.Float64("est_profit", sig.EstProfit),
					slog.Float64("est_fee", sig.EstFee),
					slog.Float64("confidence", sig.Confidence),
				)
				if deps.AuditStore != nil {
					_ = deps.AuditStore.Log(ctx, "signal_observed", "info", map[string]any{
						"signal":     sig.ID,
						"kind":       string(sig.Kind),
						"est_profit": sig.EstProfit,
						"snapshot":   sig.SnapshotVersion,
					})
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}
