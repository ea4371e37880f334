// Package risk gates signals between detection and planning. Evaluation is
// deterministic and read-only over a ledger view; the same signal against
// the same view always yields the same decision.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
)

// Manager applies the configured limit policy to candidate signals.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
	}
}

// Evaluate runs the limit checks against a signal in order: daily realized
// loss, post-trade concentration, confidence, fee/profit ratio, trade
// frequency. Every triggered check is recorded in Reasons; the first hard
// failure fixes the verdict at reject. The size and concentration caps alone
// downgrade to caution with a capped amount instead of rejecting, when a
// smaller size still fits under the limit.
func (m *Manager) Evaluate(sig domain.Signal, view domain.LedgerView) domain.RiskDecision {
	d := domain.RiskDecision{Verdict: domain.VerdictAccept}

	if view.DailyRealizedPnL <= -m.cfg.MaxDailyLoss {
		d.Verdict = domain.VerdictReject
		d.Reasons = append(d.Reasons, domain.ReasonDailyLossLimit)
	}

	if capped, reason, ok := m.checkConcentration(sig, view); !ok {
		d.Reasons = append(d.Reasons, reason)
		if capped > 0 && d.Verdict != domain.VerdictReject {
			d.Verdict = domain.VerdictCaution
			d.CappedAmount = capped
		} else {
			d.Verdict = domain.VerdictReject
			d.CappedAmount = 0
		}
	}

	if sig.Confidence < m.cfg.MinConfidence {
		d.Verdict = domain.VerdictReject
		d.CappedAmount = 0
		d.Reasons = append(d.Reasons, domain.ReasonLowConfidence)
	}

	if sig.EstProfit <= 0 || sig.EstFee/sig.EstProfit > m.cfg.MaxFeeProfitRatio {
		d.Verdict = domain.VerdictReject
		d.CappedAmount = 0
		d.Reasons = append(d.Reasons, domain.ReasonFeeProfitRatio)
	}

	if view.TradesInWindow >= m.cfg.MaxTradesPerWindow {
		d.Verdict = domain.VerdictReject
		d.CappedAmount = 0
		d.Reasons = append(d.Reasons, domain.ReasonTradeFrequency)
	}

	d.RiskScore = m.score(sig, view)

	if d.Verdict != domain.VerdictAccept {
		m.logger.Debug("signal gated",
			slog.String("signal", sig.ID),
			slog.String("verdict", string(d.Verdict)),
			slog.Any("reasons", d.Reasons),
		)
	}
	return d
}

// checkConcentration reports whether the signal's post-trade exposure in its
// target asset stays under the per-trade size and concentration limits. When
// it does not, capped is the largest input amount that would fit, or 0 when
// even that is gone, and reason names the binding limit.
func (m *Manager) checkConcentration(sig domain.Signal, view domain.LedgerView) (capped float64, reason domain.RiskReason, ok bool) {
	amount := sig.Notional()
	if amount > m.cfg.MaxPositionSize {
		amount = m.cfg.MaxPositionSize
	}

	portfolio := view.PortfolioValue
	if portfolio < m.cfg.MinPortfolioValue {
		portfolio = m.cfg.MinPortfolioValue
	}
	limit := m.cfg.MaxConcentration * portfolio

	existing := view.Exposure(sig.Asset())
	if existing+amount <= limit {
		if amount < sig.Notional() {
			// The per-trade size cap alone lands on caution.
			return amount, domain.ReasonPositionSizeLimit, false
		}
		return 0, "", true
	}

	headroom := limit - existing
	if headroom <= 0 {
		return 0, domain.ReasonConcentrationLimit, false
	}
	return headroom, domain.ReasonConcentrationLimit, false
}

// score folds the triggered margins into a composite 0..1 riskiness used for
// audit and by the planner's default scorer.
func (m *Manager) score(sig domain.Signal, view domain.LedgerView) float64 {
	s := 1 - sig.Confidence

	if sig.EstProfit > 0 {
		ratio := sig.EstFee / sig.EstProfit
		if ratio > 1 {
			ratio = 1
		}
		s += 0.5 * ratio
	} else {
		s += 0.5
	}

	if m.cfg.MaxDailyLoss > 0 && view.DailyRealizedPnL < 0 {
		drawdown := -view.DailyRealizedPnL / m.cfg.MaxDailyLoss
		if drawdown > 1 {
			drawdown = 1
		}
		s += 0.5 * drawdown
	}

	s /= 2
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// DispatchCheck returns the re-check run under the ledger lock immediately
// before dispatch. It guards against several same-cycle signals on one asset
// jointly blowing through the concentration or daily-loss limits after each
// passed Evaluate individually.
func (m *Manager) DispatchCheck() func(view domain.LedgerView, asset string, amount float64) error {
	return func(view domain.LedgerView, asset string, amount float64) error {
		if view.DailyRealizedPnL <= -m.cfg.MaxDailyLoss {
			return fmt.Errorf("risk: dispatch check: daily loss limit reached: %w", domain.ErrRiskRejected)
		}
		portfolio := view.PortfolioValue
		if portfolio < m.cfg.MinPortfolioValue {
			portfolio = m.cfg.MinPortfolioValue
		}
		limit := m.cfg.MaxConcentration * portfolio
		if view.Exposure(asset)+amount > limit {
			return fmt.Errorf("risk: dispatch check: %s exposure %.2f would exceed limit %.2f: %w",
				asset, view.Exposure(asset)+amount, limit, domain.ErrRiskRejected)
		}
		return nil
	}
}
