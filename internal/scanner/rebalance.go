package scanner

import (
	"math"

	"github.com/venuelab/poolrunner/internal/domain"
)

// rebalance emits a withdraw / recenter / redeposit signal for every
// concentrated-liquidity position whose price has left its configured range.
// The signal's profit estimate models the fee income recaptured by putting
// the position back in range.
func (s *Scanner) rebalance(snap domain.MarketSnapshot, venues []domain.Venue) []domain.Signal {
	var signals []domain.Signal
	for _, v := range venues {
		if v.Kind != domain.VenueKindConcentrated || !v.HasPosition || v.InRange() {
			continue
		}

		size := math.Min(s.cfg.MaxAmount, s.cfg.DepthFraction*v.Depth)
		if size <= 0 {
			continue
		}

		positionAsset := domain.PositionAsset(v.ID)
		half := size / 2
		recentered, ok := convert(v, v.Quote, half)
		if !ok || recentered <= 0 {
			continue
		}

		legs := []domain.SignalLeg{
			{FromAsset: positionAsset, ToAsset: v.Quote, VenueID: v.ID, Amount: size, ExpectedOut: size},
			{FromAsset: v.Quote, ToAsset: v.Base, VenueID: v.ID, Amount: half, ExpectedOut: recentered},
			{FromAsset: v.Quote, ToAsset: positionAsset, VenueID: v.ID, Amount: half, ExpectedOut: half},
		}

		// Out-of-range positions earn no fees; recapture is the modeled
		// upside, net of the swap fee and gas for three operations.
		recapture := size * v.FeeBps / 10_000
		cost := half*v.FeeBps/10_000 + 3*s.cfg.GasEstimate
		profit := recapture - cost
		if profit <= s.cfg.Epsilon {
			continue
		}

		conf := s.confidence(snap, size, []domain.Venue{v})
		signals = append(signals, s.newSignal(domain.SignalKindRebalance, snap, legs, profit, cost, conf))
	}
	return signals
}
