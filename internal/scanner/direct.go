package scanner

import (
	"math"

	"github.com/venuelab/poolrunner/internal/domain"
)

// pairArbitrage scans every unordered pair of venues quoting the same asset
// pair. Homogeneous pairs produce direct-arbitrage signals; pairs spanning
// heterogeneous venue kinds produce cross-venue signals, whose asymmetric
// fee models (proportional vs. flat) the shared quote model already prices.
func (s *Scanner) pairArbitrage(snap domain.MarketSnapshot, venues []domain.Venue) []domain.Signal {
	// Group by exact pair orientation; adapters report pairs canonically.
	byPair := make(map[string][]domain.Venue)
	var keys []string
	for _, v := range venues {
		k := v.Base + "/" + v.Quote
		if _, ok := byPair[k]; !ok {
			keys = append(keys, k)
		}
		byPair[k] = append(byPair[k], v)
	}
	// venues comes from the snapshot sorted by ID, so byPair groups and
	// keys retain a deterministic order.

	var signals []domain.Signal
	for _, k := range keys {
		group := byPair[k]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if sig, ok := s.pairSignal(snap, group[i], group[j]); ok {
					signals = append(signals, sig)
				}
			}
		}
	}
	return signals
}

// pairSignal prices a two-sided probe on both venues and emits a buy-low /
// sell-high signal when the spread clears the configured threshold.
func (s *Scanner) pairSignal(snap domain.MarketSnapshot, a, b domain.Venue) (domain.Signal, bool) {
	probe := s.cfg.ProbeSize
	midA := (effBuyPrice(a, probe) + effSellPrice(a, probe)) / 2
	midB := (effBuyPrice(b, probe) + effSellPrice(b, probe)) / 2
	avg := (midA + midB) / 2
	if avg <= 0 {
		return domain.Signal{}, false
	}

	spreadBps := math.Abs(midA-midB) / avg * 10_000
	if spreadBps+s.cfg.Epsilon < s.cfg.MinProfitBps {
		return domain.Signal{}, false
	}

	low, high := a, b
	if midB < midA {
		low, high = b, a
	}

	shallower := math.Min(low.Depth, high.Depth)
	size := math.Min(s.cfg.MaxAmount, s.cfg.DepthFraction*shallower)
	if size <= 0 {
		return domain.Signal{}, false
	}

	// Leg 1: spend quote at the cheap venue for base.
	baseOut, ok := convert(low, low.Quote, size)
	if !ok || baseOut <= 0 {
		return domain.Signal{}, false
	}
	// Leg 2: sell that base at the expensive venue for quote.
	quoteOut, ok := convert(high, high.Base, baseOut)
	if !ok {
		return domain.Signal{}, false
	}

	profit := quoteOut - size - 2*s.cfg.GasEstimate
	if profit <= s.cfg.Epsilon {
		return domain.Signal{}, false
	}

	fee := size*low.FeeBps/10_000 + quoteOut*high.FeeBps/10_000 +
		low.FixedFee + high.FixedFee + 2*s.cfg.GasEstimate

	legs := []domain.SignalLeg{
		{FromAsset: low.Quote, ToAsset: low.Base, VenueID: low.ID, Amount: size, ExpectedOut: baseOut},
		{FromAsset: high.Base, ToAsset: high.Quote, VenueID: high.ID, Amount: baseOut, ExpectedOut: quoteOut},
	}

	kind := domain.SignalKindDirectArb
	if a.Kind != b.Kind {
		kind = domain.SignalKindCrossVenue
	}

	conf := s.confidence(snap, size, []domain.Venue{low, high})
	return s.newSignal(kind, snap, legs, profit, fee, conf), true
}

// confidence is a deterministic heuristic: start high, penalize stale venue
// data and trade size relative to depth.
func (s *Scanner) confidence(snap domain.MarketSnapshot, size float64, venues []domain.Venue) float64 {
	conf := 0.95
	minDepth := math.Inf(1)
	for _, v := range venues {
		if snap.IsStale(v.ID) {
			conf -= 0.25
		}
		if v.Depth < minDepth {
			minDepth = v.Depth
		}
	}
	if minDepth > 0 && !math.IsInf(minDepth, 1) {
		conf -= math.Min(0.3, size/minDepth*2)
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
