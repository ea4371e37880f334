// Package ledger is the single serialization point for exposure state. All
// exposure reads for risk evaluation and all post-trade writes go through
// one lock, so concurrently executing plans cannot race each other into a
// lost update. Entries are created on first exposure to an asset and never
// deleted.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/venuelab/poolrunner/internal/domain"
)

// DispatchCheck validates a pending reservation against the view that
// already includes every other in-flight reservation. It is supplied by the
// risk manager so limit policy stays out of this package.
type DispatchCheck func(view domain.LedgerView, asset string, amount float64) error

// Ledger tracks per-asset exposure, realized PnL, and the trailing trade
// window. The in-memory state is authoritative within a run; an optional
// ExposureStore receives write-behind updates for restarts and audit.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*domain.ExposureEntry
	reserved map[string]float64
	trades   []time.Time
	window   time.Duration

	dailyRealized float64
	day           time.Time // UTC midnight of the day dailyRealized covers

	store  domain.ExposureStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore enables write-behind persistence of exposure entries.
func WithStore(store domain.ExposureStore) Option {
	return func(l *Ledger) { l.store = store }
}

// WithNow overrides the clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty Ledger. window is the trailing period used for the
// trade-frequency count.
func New(window time.Duration, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		entries:  make(map[string]*domain.ExposureEntry),
		reserved: make(map[string]float64),
		window:   window,
		logger:   logger.With(slog.String("component", "ledger")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.day = midnightUTC(l.now())
	return l
}

// Seed loads persisted exposure entries, typically once at startup before
// the driver runs.
func (l *Ledger) Seed(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.List(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		e := e
		l.entries[e.Asset] = &e
	}
	return nil
}

// View returns a consistent snapshot of the ledger for risk evaluation.
func (l *Ledger) View() domain.LedgerView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

func (l *Ledger) viewLocked() domain.LedgerView {
	now := l.now()
	l.rollDayLocked(now)

	entries := make(map[string]domain.ExposureEntry, len(l.entries))
	var portfolio float64
	for asset, e := range l.entries {
		entries[asset] = *e
		v := e.UnrealizedValue
		if v < 0 {
			v = -v
		}
		portfolio += v
	}
	reserved := make(map[string]float64, len(l.reserved))
	for asset, amt := range l.reserved {
		reserved[asset] = amt
		portfolio += amt
	}

	return domain.LedgerView{
		Entries:          entries,
		Reserved:         reserved,
		PortfolioValue:   portfolio,
		DailyRealizedPnL: l.dailyRealized,
		TradesInWindow:   l.tradesInWindowLocked(now),
		AsOf:             now,
	}
}

// TryReserve re-checks exposure immediately before dispatch and, when the
// check passes, records the reservation under the same lock. This closes
// the race window between risk evaluation and execution for signals from
// the same cycle touching the same asset.
func (l *Ledger) TryReserve(asset string, amount float64, check DispatchCheck) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if check != nil {
		if err := check(l.viewLocked(), asset, amount); err != nil {
			return err
		}
	}
	l.reserved[asset] += amount
	return nil
}

// Release drops a reservation without settling it, used when a plan fails
// before any leg confirms.
func (l *Ledger) Release(asset string, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(asset, amount)
}

func (l *Ledger) releaseLocked(asset string, amount float64) {
	rem := l.reserved[asset] - amount
	if rem <= 0 {
		delete(l.reserved, asset)
		return
	}
	l.reserved[asset] = rem
}

// Apply settles a terminal execution result: confirmed legs move net
// positions, realized PnL accrues to the day's total, and the plan's
// reservation is released. Write-behind persistence failures are logged,
// never propagated.
func (l *Ledger) Apply(ctx context.Context, plan domain.ExecutionPlan, sig domain.Signal, res domain.ExecutionResult) {
	l.mu.Lock()
	now := l.now()
	l.rollDayLocked(now)

	touched := make(map[string]bool)
	for i, leg := range res.Legs {
		if leg.State != domain.LegConfirmed || i >= len(plan.Legs) {
			continue
		}
		pl := plan.Legs[i]
		out := leg.FilledOut

		from := l.entryLocked(pl.FromAsset, now)
		from.NetPosition -= pl.Amount
		from.UpdatedAt = now
		touched[pl.FromAsset] = true

		to := l.entryLocked(pl.ToAsset, now)
		to.NetPosition += out
		to.UpdatedAt = now
		touched[pl.ToAsset] = true

		// A confirmed unwind reverses the leg's position effect.
		if leg.Unwound {
			from.NetPosition += pl.Amount
			to.NetPosition -= out
		}
	}

	if res.RealizedPnL != 0 {
		l.dailyRealized += res.RealizedPnL
		entry := l.entryLocked(sig.Asset(), now)
		entry.RealizedPnL += res.RealizedPnL
		entry.UpdatedAt = now
		touched[sig.Asset()] = true
	}

	if res.ConfirmedLegs() > 0 {
		l.trades = append(l.trades, now)
		l.pruneTradesLocked(now)
	}

	l.releaseLocked(sig.Asset(), sig.Notional())

	persist := make([]domain.ExposureEntry, 0, len(touched))
	for asset := range touched {
		persist = append(persist, *l.entries[asset])
	}
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	for _, e := range persist {
		if err := l.store.Upsert(ctx, e); err != nil {
			l.logger.Warn("exposure write-behind failed",
				slog.String("asset", e.Asset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// MarkToMarket refreshes unrealized values from the latest snapshot prices.
// Assets are valued at the first venue quoting them as base; quote-side
// assets are assumed to be the portfolio numeraire and valued at par.
func (l *Ledger) MarkToMarket(snap domain.MarketSnapshot) {
	prices := make(map[string]float64)
	for _, v := range snap.Venues {
		if _, ok := prices[v.Base]; !ok && v.Price > 0 {
			prices[v.Base] = v.Price
		}
		if _, ok := prices[v.Quote]; !ok {
			prices[v.Quote] = 1
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for asset, e := range l.entries {
		price, ok := prices[asset]
		if !ok {
			continue
		}
		e.UnrealizedValue = e.NetPosition * price
		e.UpdatedAt = now
	}
}

// DailyRealized returns the realized PnL accrued since UTC midnight.
func (l *Ledger) DailyRealized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.now())
	return l.dailyRealized
}

func (l *Ledger) entryLocked(asset string, now time.Time) *domain.ExposureEntry {
	e, ok := l.entries[asset]
	if !ok {
		e = &domain.ExposureEntry{Asset: asset, UpdatedAt: now}
		l.entries[asset] = e
	}
	return e
}

func (l *Ledger) tradesInWindowLocked(now time.Time) int {
	l.pruneTradesLocked(now)
	return len(l.trades)
}

func (l *Ledger) pruneTradesLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.trades) && l.trades[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.trades = append([]time.Time(nil), l.trades[i:]...)
	}
}

// rollDayLocked resets the daily realized counter when the UTC day changes.
func (l *Ledger) rollDayLocked(now time.Time) {
	day := midnightUTC(now)
	if day.After(l.day) {
		l.day = day
		l.dailyRealized = 0
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
