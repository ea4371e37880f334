package scanner

import (
	"math"

	"github.com/venuelab/poolrunner/internal/domain"
)

// triangular chains quotes around each configured 3-asset cycle and emits a
// three-leg signal when the compounded output beats the input after the
// modeled fee and gas deduction.
func (s *Scanner) triangular(snap domain.MarketSnapshot, venues []domain.Venue) []domain.Signal {
	var signals []domain.Signal
	for _, cycle := range s.cfg.Cycles {
		if sig, ok := s.cycleSignal(snap, venues, cycle); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

func (s *Scanner) cycleSignal(snap domain.MarketSnapshot, venues []domain.Venue, cycle [3]string) (domain.Signal, bool) {
	hops := [3][2]string{
		{cycle[0], cycle[1]},
		{cycle[1], cycle[2]},
		{cycle[2], cycle[0]},
	}

	// Probe the cycle at probe size to find the best venue per hop.
	chosen := make([]domain.Venue, 0, 3)
	amount := s.cfg.ProbeSize
	for _, hop := range hops {
		v, out, ok := bestHop(venues, hop[0], hop[1], amount)
		if !ok || out <= 0 {
			return domain.Signal{}, false
		}
		chosen = append(chosen, v)
		amount = out
	}
	if amount <= s.cfg.ProbeSize+3*s.cfg.GasEstimate+s.cfg.Epsilon {
		return domain.Signal{}, false
	}

	// Size the real signal off the shallowest chosen venue, then re-chain
	// the conversions at that size.
	minDepth := math.Inf(1)
	for _, v := range chosen {
		if v.Depth < minDepth {
			minDepth = v.Depth
		}
	}
	size := math.Min(s.cfg.MaxAmount, s.cfg.DepthFraction*minDepth)
	if size <= 0 {
		return domain.Signal{}, false
	}

	legs := make([]domain.SignalLeg, 0, 3)
	amt := size
	for i, hop := range hops {
		out, ok := convert(chosen[i], hop[0], amt)
		if !ok || out <= 0 {
			return domain.Signal{}, false
		}
		legs = append(legs, domain.SignalLeg{
			FromAsset:   hop[0],
			ToAsset:     hop[1],
			VenueID:     chosen[i].ID,
			Amount:      amt,
			ExpectedOut: out,
		})
		amt = out
	}

	profit := amt - size - 3*s.cfg.GasEstimate
	if profit <= s.cfg.Epsilon {
		return domain.Signal{}, false
	}

	var fee float64
	for i, leg := range legs {
		fee += leg.Amount * chosen[i].FeeBps / 10_000
		fee += chosen[i].FixedFee
	}
	fee += 3 * s.cfg.GasEstimate

	conf := s.confidence(snap, size, chosen)
	return s.newSignal(domain.SignalKindTriangular, snap, legs, profit, fee, conf), true
}

// bestHop picks the venue giving the best output for swapping amount of
// `from` into `to`. Venues are scanned in snapshot order (sorted by ID) and
// strict improvement is required, so ties resolve to the lexicographically
// first venue.
func bestHop(venues []domain.Venue, from, to string, amount float64) (domain.Venue, float64, bool) {
	var (
		best    domain.Venue
		bestOut float64
		found   bool
	)
	for _, v := range venues {
		if !quotesPair(v, from, to) {
			continue
		}
		out, ok := convert(v, from, amount)
		if !ok {
			continue
		}
		if !found || out > bestOut {
			best = v
			bestOut = out
			found = true
		}
	}
	return best, bestOut, found
}

func quotesPair(v domain.Venue, from, to string) bool {
	return (v.Base == from && v.Quote == to) || (v.Base == to && v.Quote == from)
}
