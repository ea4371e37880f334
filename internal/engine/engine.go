// Package engine executes plans against venue adapters. It owns the per-leg
// state machine, retry policy, concurrency cap, and the unwind path for
// partially completed non-atomic plans.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
	"github.com/venuelab/poolrunner/internal/planner"
)

// Engine executes plans concurrently up to a configured cap. Terminal
// failures are reported inside the ExecutionResult; Execute only returns an
// error for dispatch-level problems such as a duplicate plan or a context
// cancelled before the first submission.
type Engine struct {
	cfg      config.EngineConfig
	adapters map[string]domain.VenueAdapter
	sem      *semaphore.Weighted
	dedup    *dedup
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given venue adapters, keyed by venue ID.
func New(cfg config.EngineConfig, adapters map[string]domain.VenueAdapter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		adapters: adapters,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentPlans)),
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dedup = newDedup(cfg.IdempotencyTTL.Duration, e.now)
	return e
}

// Execute runs one plan to a terminal result. The plan is cancellable via
// ctx until its first submission; after that, cancellation degrades to the
// unwind path rather than abandoning in-flight legs.
func (e *Engine) Execute(ctx context.Context, plan domain.ExecutionPlan) (domain.ExecutionResult, error) {
	if e.dedup.isDuplicate(plan.IdempotencyKey) {
		return domain.ExecutionResult{}, fmt.Errorf("engine: plan %s already dispatched: %w", plan.ID, domain.ErrDuplicate)
	}
	defer e.dedup.cleanup()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Nothing was submitted, so the key must not burn its TTL.
		e.dedup.forget(plan.IdempotencyKey)
		return domain.ExecutionResult{}, fmt.Errorf("engine: acquiring execution slot: %w", domain.ErrContextDone)
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithDeadline(ctx, plan.Deadline)
	defer cancel()

	start := e.now()
	res := domain.ExecutionResult{
		PlanID: plan.ID,
		Legs:   make([]domain.LegResult, len(plan.Legs)),
	}
	for i, leg := range plan.Legs {
		res.Legs[i] = domain.LegResult{VenueID: leg.VenueID, State: domain.LegPending}
	}

	switch plan.Strategy {
	case domain.StrategyAtomicBundle:
		e.executeBundle(ctx, plan, &res)
	case domain.StrategyCommitReveal:
		if err := e.awaitReveal(ctx, plan); err != nil {
			res.Err = err.Error()
			break
		}
		e.executeSequential(ctx, plan, &res)
	default:
		e.executeSequential(ctx, plan, &res)
	}

	res.Duration = e.now().Sub(start)
	res.CompletedAt = e.now()
	if res.Success() && roundTrip(plan) {
		res.RealizedPnL = res.Legs[len(res.Legs)-1].FilledOut - plan.Legs[0].Amount
	}

	e.logger.Info("plan executed",
		slog.String("plan", plan.ID),
		slog.String("strategy", string(plan.Strategy)),
		slog.Bool("success", res.Success()),
		slog.Bool("partial", res.PartialCompletion),
		slog.Bool("unwind_failed", res.UnwindFailed),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// awaitReveal holds the plan back until its scheduled reveal time, then
// re-validates the commitment. A commitment past its deadline or failing
// hash verification aborts before anything is submitted.
func (e *Engine) awaitReveal(ctx context.Context, plan domain.ExecutionPlan) error {
	c := plan.Commitment
	if c == nil {
		return fmt.Errorf("engine: commit-reveal plan %s has no commitment: %w", plan.ID, domain.ErrSubmissionLogic)
	}

	if wait := c.RevealAt.Sub(e.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: cancelled awaiting reveal of plan %s: %w", plan.ID, domain.ErrContextDone)
		case <-timer.C:
		}
	}

	if e.now().After(c.RevealDeadline) {
		return fmt.Errorf("engine: expired commitment on plan %s: %w", plan.ID, domain.ErrConfirmationTimeout)
	}
	if !planner.VerifyCommitment(plan) {
		return fmt.Errorf("engine: commitment mismatch on plan %s: %w", plan.ID, domain.ErrSubmissionLogic)
	}
	return nil
}

// executeSequential runs legs in order. When a leg's input asset is the
// previous leg's output, the actual fill flows into the next leg, scaled by
// the fraction of the prior output the plan meant this leg to consume, so a
// leg taking half the prior output keeps taking half of the actual fill. On
// the first non-confirmed leg the remainder stays pending and any confirmed
// legs are unwound.
func (e *Engine) executeSequential(ctx context.Context, plan domain.ExecutionPlan, res *domain.ExecutionResult) {
	for i, leg := range plan.Legs {
		amount := leg.Amount
		if i > 0 && leg.FromAsset == plan.Legs[i-1].ToAsset && res.Legs[i-1].State == domain.LegConfirmed {
			if prev := plan.Legs[i-1].ExpectedOut; prev > 0 {
				amount = res.Legs[i-1].FilledOut * (leg.Amount / prev)
			} else {
				amount = res.Legs[i-1].FilledOut
			}
		}

		res.Legs[i] = e.runLeg(ctx, plan, leg, amount)
		if res.Legs[i].State != domain.LegConfirmed {
			if res.Err == "" {
				res.Err = fmt.Sprintf("leg %d on %s: %s", i, leg.VenueID, res.Legs[i].FailReason)
			}
			if res.ConfirmedLegs() > 0 {
				res.PartialCompletion = true
				e.unwind(ctx, plan, res, i)
			}
			return
		}
	}
}

// runLeg drives one leg through Pending -> Submitted -> terminal. Transient
// dispatch errors are retried with capped exponential backoff; logic errors
// and deadline overruns are terminal immediately.
func (e *Engine) runLeg(ctx context.Context, plan domain.ExecutionPlan, leg domain.PlanLeg, amount float64) domain.LegResult {
	out := domain.LegResult{VenueID: leg.VenueID, State: domain.LegPending}

	adapter, ok := e.adapters[leg.VenueID]
	if !ok {
		out.State = domain.LegFailed
		out.FailReason = fmt.Sprintf("no adapter for venue %s", leg.VenueID)
		return out
	}
	pair := domain.AssetPair{From: leg.FromAsset, To: leg.ToAsset}

	var handle domain.SubmissionHandle
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			out.State = domain.LegTimedOut
			out.FailReason = "deadline reached before submission"
			return out
		}

		ins, err := adapter.BuildOperation(ctx, pair, amount, leg.MinOut)
		if err == nil {
			handle, err = adapter.Submit(ctx, ins)
		}
		if err == nil {
			break
		}

		if !domain.Retryable(err) || attempt >= e.cfg.MaxRetries {
			out.State = domain.LegFailed
			out.FailReason = err.Error()
			return out
		}

		e.logger.Debug("retrying leg dispatch",
			slog.String("plan", plan.ID),
			slog.String("venue", leg.VenueID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		if !e.sleep(ctx, backoff(attempt, e.cfg.BackoffBase.Duration, e.cfg.BackoffMax.Duration)) {
			out.State = domain.LegTimedOut
			out.FailReason = "deadline reached during retry backoff"
			return out
		}
	}

	out.State = domain.LegSubmitted

	deadline := e.now().Add(e.cfg.ConfirmationTimeout.Duration)
	if plan.Deadline.Before(deadline) {
		deadline = plan.Deadline
	}
	outcome, err := adapter.AwaitConfirmation(ctx, handle, deadline)
	switch {
	case err != nil && (errors.Is(err, domain.ErrConfirmationTimeout) || errors.Is(err, context.DeadlineExceeded)):
		out.State = domain.LegTimedOut
		out.FailReason = err.Error()
	case err != nil:
		out.State = domain.LegFailed
		out.FailReason = err.Error()
	case !outcome.Confirmed:
		out.State = domain.LegFailed
		out.FailReason = outcome.Reason
		out.VenueRef = outcome.VenueRef
	default:
		out.State = domain.LegConfirmed
		out.FilledOut = outcome.FilledAmount
		out.VenueRef = outcome.VenueRef
	}
	return out
}

// unwind reverses every confirmed leg before failedIdx, newest first, by
// submitting the opposite trade for the filled amount. Unwind is best
// effort: a leg that cannot be reversed is recorded and surfaced through
// UnwindFailed, never silently dropped. Unwind runs on a fresh timeout
// detached from the plan context, which may already be past its deadline.
func (e *Engine) unwind(ctx context.Context, plan domain.ExecutionPlan, res *domain.ExecutionResult, failedIdx int) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ConfirmationTimeout.Duration)
	defer cancel()

	for i := failedIdx - 1; i >= 0; i-- {
		if res.Legs[i].State != domain.LegConfirmed {
			continue
		}
		leg := plan.Legs[i]
		res.Legs[i].UnwindAttempted = true

		if err := e.unwindLeg(uctx, leg, res.Legs[i].FilledOut); err != nil {
			res.Legs[i].UnwindErr = err.Error()
			res.UnwindFailed = true
			e.logger.Error("unwind failed",
				slog.String("plan", plan.ID),
				slog.String("venue", leg.VenueID),
				slog.Int("leg", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Legs[i].Unwound = true
	}
}

func (e *Engine) unwindLeg(ctx context.Context, leg domain.PlanLeg, filled float64) error {
	adapter, ok := e.adapters[leg.VenueID]
	if !ok {
		return fmt.Errorf("engine: no adapter for venue %s: %w", leg.VenueID, domain.ErrUnwindFailure)
	}
	pair := domain.AssetPair{From: leg.FromAsset, To: leg.ToAsset}.Reversed()

	// MinOut zero: getting out matters more than the exit price.
	ins, err := adapter.BuildOperation(ctx, pair, filled, 0)
	if err != nil {
		return fmt.Errorf("engine: building unwind on %s: %w", leg.VenueID, errors.Join(err, domain.ErrUnwindFailure))
	}
	handle, err := adapter.Submit(ctx, ins)
	if err != nil {
		return fmt.Errorf("engine: submitting unwind on %s: %w", leg.VenueID, errors.Join(err, domain.ErrUnwindFailure))
	}
	outcome, err := adapter.AwaitConfirmation(ctx, handle, e.now().Add(e.cfg.ConfirmationTimeout.Duration))
	if err != nil {
		return fmt.Errorf("engine: confirming unwind on %s: %w", leg.VenueID, errors.Join(err, domain.ErrUnwindFailure))
	}
	if !outcome.Confirmed {
		return fmt.Errorf("engine: unwind rejected on %s: %s: %w", leg.VenueID, outcome.Reason, domain.ErrUnwindFailure)
	}
	return nil
}

// executeBundle submits every leg as one all-or-nothing bundle through the
// first venue's adapter. Venues that cannot bundle fail the plan as a logic
// error; there is no unwind path because nothing partial can land.
func (e *Engine) executeBundle(ctx context.Context, plan domain.ExecutionPlan, res *domain.ExecutionResult) {
	failAll := func(reason string) {
		for i := range res.Legs {
			res.Legs[i].State = domain.LegFailed
			res.Legs[i].FailReason = reason
		}
		res.Err = reason
	}

	adapter, ok := e.adapters[plan.Legs[0].VenueID]
	if !ok {
		failAll(fmt.Sprintf("no adapter for venue %s", plan.Legs[0].VenueID))
		return
	}
	bundler, ok := adapter.(domain.BundleSubmitter)
	if !ok {
		failAll(fmt.Sprintf("venue %s does not support bundles: %s", plan.Legs[0].VenueID, domain.ErrSubmissionLogic))
		return
	}

	ins := make([]domain.Instruction, len(plan.Legs))
	for i, leg := range plan.Legs {
		legAdapter, ok := e.adapters[leg.VenueID]
		if !ok {
			failAll(fmt.Sprintf("no adapter for venue %s", leg.VenueID))
			return
		}
		built, err := legAdapter.BuildOperation(ctx, domain.AssetPair{From: leg.FromAsset, To: leg.ToAsset}, leg.Amount, leg.MinOut)
		if err != nil {
			failAll(fmt.Sprintf("building bundle leg %d: %s", i, err))
			return
		}
		ins[i] = built
	}

	handle, err := bundler.SubmitBundle(ctx, ins)
	if err != nil {
		failAll(fmt.Sprintf("bundle submission: %s", err))
		return
	}
	for i := range res.Legs {
		res.Legs[i].State = domain.LegSubmitted
	}

	deadline := e.now().Add(e.cfg.ConfirmationTimeout.Duration)
	if plan.Deadline.Before(deadline) {
		deadline = plan.Deadline
	}
	outcome, err := adapter.AwaitConfirmation(ctx, handle, deadline)
	if err != nil || !outcome.Confirmed {
		reason := "bundle not confirmed"
		if err != nil {
			reason = err.Error()
		} else if outcome.Reason != "" {
			reason = outcome.Reason
		}
		state := domain.LegFailed
		if err != nil && (errors.Is(err, domain.ErrConfirmationTimeout) || errors.Is(err, context.DeadlineExceeded)) {
			state = domain.LegTimedOut
		}
		for i := range res.Legs {
			res.Legs[i].State = state
			res.Legs[i].FailReason = reason
		}
		res.Err = reason
		return
	}

	for i, leg := range plan.Legs {
		res.Legs[i].State = domain.LegConfirmed
		res.Legs[i].FilledOut = leg.ExpectedOut
		res.Legs[i].VenueRef = outcome.VenueRef
	}
	if n := len(res.Legs); n > 0 && outcome.FilledAmount > 0 {
		res.Legs[n-1].FilledOut = outcome.FilledAmount
	}
}

// sleep blocks for d or until ctx is done, reporting whether the full
// duration elapsed.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func roundTrip(plan domain.ExecutionPlan) bool {
	if len(plan.Legs) < 2 {
		return false
	}
	first := plan.Legs[0].FromAsset
	if domain.IsPositionAsset(first) {
		// A withdraw / redeposit cycle returns to the position asset without
		// the difference being realized profit.
		return false
	}
	return first == plan.Legs[len(plan.Legs)-1].ToAsset
}
