// Package driver runs the detection-to-execution control loop: refresh the
// market cache, scan for signals, then evaluate, plan, and execute each
// accepted signal in parallel, settling results into the ledger and the
// audit trail.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
	"github.com/venuelab/poolrunner/internal/engine"
	"github.com/venuelab/poolrunner/internal/ledger"
	"github.com/venuelab/poolrunner/internal/market"
	"github.com/venuelab/poolrunner/internal/notify"
	"github.com/venuelab/poolrunner/internal/planner"
	"github.com/venuelab/poolrunner/internal/risk"
	"github.com/venuelab/poolrunner/internal/scanner"
)

// Driver owns one detection/execution pipeline and cycles it on a fixed
// cadence until its context is cancelled.
type Driver struct {
	cfg     config.DriverConfig
	cache   *market.Cache
	scanner *scanner.Scanner
	risk    *risk.Manager
	planner *planner.Planner
	engine  *engine.Engine
	ledger  *ledger.Ledger

	execStore domain.ExecutionStore
	audit     domain.AuditStore
	notifier  *notify.Notifier
	bus       domain.UpdateBus
	stream    string

	logger *slog.Logger
}

// Deps carries the pipeline components the driver wires together. Notifier,
// bus, and the stores may be nil; the driver degrades to log-only behavior
// for whichever is absent.
type Deps struct {
	Cache     *market.Cache
	Scanner   *scanner.Scanner
	Risk      *risk.Manager
	Planner   *planner.Planner
	Engine    *engine.Engine
	Ledger    *ledger.Ledger
	ExecStore domain.ExecutionStore
	Audit     domain.AuditStore
	Notifier  *notify.Notifier
	Bus       domain.UpdateBus
	Stream    string
}

// New creates a Driver.
func New(cfg config.DriverConfig, deps Deps, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		cache:     deps.Cache,
		scanner:   deps.Scanner,
		risk:      deps.Risk,
		planner:   deps.Planner,
		engine:    deps.Engine,
		ledger:    deps.Ledger,
		execStore: deps.ExecStore,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		bus:       deps.Bus,
		stream:    deps.Stream,
		logger:    logger.With(slog.String("component", "driver")),
	}
}

// Run cycles until ctx is cancelled. The first cycle starts immediately.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval.Duration)
	defer ticker.Stop()

	d.logger.Info("driver started",
		slog.Duration("interval", d.cfg.Interval.Duration),
		slog.Int("max_parallel_signals", d.cfg.MaxParallelSignals),
	)

	for {
		d.Cycle(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("driver stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one refresh-scan-execute pass. A failed refresh falls back to
// the last known snapshot rather than skipping the cycle; the stale flags
// inside the snapshot tell downstream consumers what to distrust.
func (d *Driver) Cycle(ctx context.Context) {
	start := time.Now()

	snap, err := d.cache.Refresh(ctx)
	if err != nil {
		d.logger.Warn("market refresh failed, using last snapshot",
			slog.String("error", err.Error()),
		)
		snap = d.cache.Latest()
	}
	if len(snap.Venues) == 0 {
		d.logger.Warn("no venue state available, skipping cycle")
		return
	}

	d.ledger.MarkToMarket(snap)

	signals := d.scanner.Scan(snap)
	if len(signals) == 0 {
		d.logger.Debug("no signals this cycle",
			slog.Uint64("snapshot", snap.Version),
			slog.Duration("elapsed", time.Since(start)),
		)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxParallelSignals)
	for _, sig := range signals {
		g.Go(func() error {
			d.processSignal(gctx, sig, snap)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("cycle complete",
		slog.Uint64("snapshot", snap.Version),
		slog.Int("signals", len(signals)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// processSignal takes one signal through evaluate, plan, reserve, execute,
// and settle. Failures short of execution release the reservation; executed
// plans settle through ledger.Apply, which releases it as part of
// settlement.
func (d *Driver) processSignal(ctx context.Context, sig domain.Signal, snap domain.MarketSnapshot) {
	decision := d.risk.Evaluate(sig, d.ledger.View())
	if !decision.Accepted() {
		d.auditLog(ctx, "signal_rejected", notify.SeverityInfo, map[string]any{
			"signal":  sig.ID,
			"kind":    string(sig.Kind),
			"reasons": decision.Reasons,
		})
		return
	}

	effective := sig
	if decision.Verdict == domain.VerdictCaution && decision.CappedAmount > 0 {
		effective = sig.WithAmount(decision.CappedAmount)
	}

	plan, err := d.planner.Plan(sig, decision, snap)
	if err != nil {
		d.logger.Warn("planning failed",
			slog.String("signal", sig.ID),
			slog.String("error", err.Error()),
		)
		d.auditLog(ctx, "planning_failed", notify.SeverityWarn, map[string]any{
			"signal": sig.ID,
			"error":  err.Error(),
		})
		return
	}

	if err := d.ledger.TryReserve(effective.Asset(), effective.Notional(), d.risk.DispatchCheck()); err != nil {
		d.auditLog(ctx, "dispatch_blocked", notify.SeverityInfo, map[string]any{
			"signal": sig.ID,
			"plan":   plan.ID,
			"error":  err.Error(),
		})
		return
	}

	res, err := d.engine.Execute(ctx, plan)
	if err != nil {
		d.ledger.Release(effective.Asset(), effective.Notional())
		d.logger.Warn("plan not executed",
			slog.String("plan", plan.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	d.ledger.Apply(ctx, plan, effective, res)
	d.record(ctx, sig, decision, plan, res)
	d.escalate(ctx, plan, res)
	d.streamResult(ctx, res)
}

// record persists the full decision trail so any accepted signal can be
// reconstructed afterwards.
func (d *Driver) record(ctx context.Context, sig domain.Signal, decision domain.RiskDecision, plan domain.ExecutionPlan, res domain.ExecutionResult) {
	if d.execStore == nil {
		return
	}
	rec := domain.ExecutionRecord{
		Signal:     sig,
		Decision:   decision,
		Plan:       plan,
		Result:     res,
		RecordedAt: time.Now(),
	}
	if err := d.execStore.Create(ctx, rec); err != nil {
		d.logger.Error("recording execution failed",
			slog.String("plan", plan.ID),
			slog.String("error", err.Error()),
		)
	}
}

// escalate routes the result into the audit log and, for unwind failures,
// to the operator channels at the highest severity.
func (d *Driver) escalate(ctx context.Context, plan domain.ExecutionPlan, res domain.ExecutionResult) {
	switch {
	case res.UnwindFailed:
		d.logger.Error("unwind failure, manual intervention required",
			slog.String("plan", plan.ID),
			slog.String("error", res.Err),
		)
		d.auditLog(ctx, "unwind_failure", notify.SeverityCritical, map[string]any{
			"plan":  plan.ID,
			"error": res.Err,
			"legs":  res.Legs,
		})
		if d.notifier != nil {
			msg := fmt.Sprintf("plan %s: %s\nconfirmed legs could not be reversed, book is unbalanced", plan.ID, res.Err)
			if err := d.notifier.Notify(ctx, notify.SeverityCritical, "unwind failure", msg); err != nil {
				d.logger.Error("escalation delivery failed",
					slog.String("plan", plan.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	case res.PartialCompletion:
		d.auditLog(ctx, "partial_completion", notify.SeverityWarn, map[string]any{
			"plan":  plan.ID,
			"error": res.Err,
		})
	case res.Success():
		d.auditLog(ctx, "plan_filled", notify.SeverityInfo, map[string]any{
			"plan":     plan.ID,
			"pnl":      res.RealizedPnL,
			"duration": res.Duration.String(),
		})
	default:
		d.auditLog(ctx, "plan_failed", notify.SeverityInfo, map[string]any{
			"plan":  plan.ID,
			"error": res.Err,
		})
	}
}

func (d *Driver) auditLog(ctx context.Context, event, severity string, detail map[string]any) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Log(ctx, event, severity, detail); err != nil {
		d.logger.Error("audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// streamResult appends the result to the durable event stream for sibling
// processes and offline analysis.
func (d *Driver) streamResult(ctx context.Context, res domain.ExecutionResult) {
	if d.bus == nil || d.stream == "" {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := d.bus.StreamAppend(ctx, d.stream, payload); err != nil {
		d.logger.Warn("stream append failed",
			slog.String("plan", res.PlanID),
			slog.String("error", err.Error()),
		)
	}
}
