// Package scanner derives candidate trading signals from immutable market
// snapshots. Scan is pure and deterministic: the same snapshot always yields
// the same signal set, in the same order. All state the scanner needs lives
// in its Config and in the snapshot itself.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/venuelab/poolrunner/internal/domain"
)

// Config holds the scanner's tunable parameters.
type Config struct {
	MinProfitBps  float64
	ProbeSize     float64 // probe amount, quote units, for two-sided quotes
	MaxAmount     float64 // hard cap on signal input size, quote units
	DepthFraction float64 // sizing fraction of the shallower venue's depth
	GasEstimate   float64 // modeled per-leg gas cost, quote units
	SignalTTL     time.Duration
	Cycles        [][3]string // triangular 3-asset cycles
	Epsilon       float64     // float comparison tolerance
}

// Scanner runs all sub-algorithms over one snapshot.
type Scanner struct {
	cfg Config
}

// New creates a Scanner. A zero Epsilon falls back to 1e-9.
func New(cfg Config) *Scanner {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-9
	}
	return &Scanner{cfg: cfg}
}

// Scan emits every candidate signal found in the snapshot. Signals whose
// modeled net profit is non-positive are dropped before emission, and
// zero-liquidity venues are never considered. Results are ordered by
// estimated profit descending, combined venue depth descending, then signal
// ID, which doubles as the equal-profit tie-break preferring deeper venue
// pairs.
func (s *Scanner) Scan(snap domain.MarketSnapshot) []domain.Signal {
	usable := usableVenues(snap)

	var signals []domain.Signal
	signals = append(signals, s.pairArbitrage(snap, usable)...)
	signals = append(signals, s.triangular(snap, usable)...)
	signals = append(signals, s.rebalance(snap, usable)...)

	sort.Slice(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if diff := a.EstProfit - b.EstProfit; diff > s.cfg.Epsilon || diff < -s.cfg.Epsilon {
			return a.EstProfit > b.EstProfit
		}
		da := combinedDepth(snap, a)
		db := combinedDepth(snap, b)
		if da != db {
			return da > db
		}
		return a.ID < b.ID
	})
	return signals
}

// usableVenues filters out zero-liquidity and unpriced venues.
func usableVenues(snap domain.MarketSnapshot) []domain.Venue {
	out := make([]domain.Venue, 0, len(snap.Venues))
	for _, v := range snap.Venues {
		if v.Depth <= 0 || v.Price <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

func combinedDepth(snap domain.MarketSnapshot, sig domain.Signal) float64 {
	var total float64
	for _, leg := range sig.Legs {
		if v, ok := snap.Venue(leg.VenueID); ok {
			total += v.Depth
		}
	}
	return total
}

// signalID derives a stable identifier from the snapshot version and route,
// so rescanning the same snapshot reproduces the same IDs.
func signalID(kind domain.SignalKind, version uint64, legs []domain.SignalLeg) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", kind, version)
	for _, leg := range legs {
		fmt.Fprintf(h, "|%s>%s@%s", leg.FromAsset, leg.ToAsset, leg.VenueID)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// newSignal stamps creation and expiry from the snapshot time, keeping the
// signal fully determined by the snapshot.
func (s *Scanner) newSignal(kind domain.SignalKind, snap domain.MarketSnapshot, legs []domain.SignalLeg, profit, fee, confidence float64) domain.Signal {
	return domain.Signal{
		ID:              signalID(kind, snap.Version, legs),
		Kind:            kind,
		Legs:            legs,
		SnapshotVersion: snap.Version,
		EstProfit:       profit,
		EstFee:          fee,
		Confidence:      confidence,
		CreatedAt:       snap.TakenAt,
		ExpiresAt:       snap.TakenAt.Add(s.cfg.SignalTTL),
	}
}

// ---------------------------------------------------------------------------
// Quote model. All sub-algorithms price trades the same way: proportional
// fee in bps, linear depth impact, plus a flat per-trade fee for venues that
// charge one (aggregators).
// ---------------------------------------------------------------------------

// impact approximates price impact as the traded quote notional over depth.
func impact(v domain.Venue, quoteNotional float64) float64 {
	return quoteNotional / v.Depth
}

// effBuyPrice is the effective quote-per-base price paid when buying base
// with quoteNotional quote units.
func effBuyPrice(v domain.Venue, quoteNotional float64) float64 {
	return v.Price * (1 + v.FeeBps/10_000 + impact(v, quoteNotional))
}

// effSellPrice is the effective quote-per-base price received when selling
// base worth quoteNotional quote units.
func effSellPrice(v domain.Venue, quoteNotional float64) float64 {
	return v.Price * (1 - v.FeeBps/10_000 - impact(v, quoteNotional))
}

// convert models swapping amount of `from` on venue v and returns the output
// amount. It handles both orientations of the venue's pair; a second return
// of false means the venue does not quote the asset.
func convert(v domain.Venue, from string, amount float64) (float64, bool) {
	switch from {
	case v.Quote:
		// Buying base with quote.
		in := amount - v.FixedFee
		if in <= 0 {
			return 0, true
		}
		return in / effBuyPrice(v, amount), true
	case v.Base:
		// Selling base for quote.
		quoteNotional := amount * v.Price
		out := amount*effSellPrice(v, quoteNotional) - v.FixedFee
		if out < 0 {
			out = 0
		}
		return out, true
	default:
		return 0, false
	}
}
