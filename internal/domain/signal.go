package domain

import "time"

// SignalKind classifies the opportunity a scanner detected.
type SignalKind string

const (
	SignalKindDirectArb  SignalKind = "direct_arbitrage"
	SignalKindTriangular SignalKind = "triangular"
	SignalKindCrossVenue SignalKind = "cross_venue"
	SignalKindRebalance  SignalKind = "rebalance"
)

// SignalLeg is one asset-to-asset hop within a candidate opportunity.
type SignalLeg struct {
	FromAsset   string
	ToAsset     string
	VenueID     string
	Amount      float64 // input amount in FromAsset units
	ExpectedOut float64 // modeled output in ToAsset units
}

// Signal is a candidate opportunity emitted by the scanner, prior to risk
// filtering. Signals are never mutated after creation; adjustments produce a
// copy (see WithAmount). IDs are derived from snapshot version and route so
// the same snapshot always yields the same signal set.
type Signal struct {
	ID              string
	Kind            SignalKind
	Legs            []SignalLeg
	SnapshotVersion uint64

	EstProfit  float64 // modeled net profit in quote units, after fees
	EstFee     float64 // modeled total fees in quote units
	Confidence float64 // 0..1

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Notional returns the input size of the signal, i.e. the first leg's amount.
func (s Signal) Notional() float64 {
	if len(s.Legs) == 0 {
		return 0
	}
	return s.Legs[0].Amount
}

// Asset returns the asset whose exposure this signal primarily moves: the
// output asset of the first leg.
func (s Signal) Asset() string {
	if len(s.Legs) == 0 {
		return ""
	}
	return s.Legs[0].ToAsset
}

// RoundTrip reports whether the signal ends in the asset it started from,
// which makes its profit fully realized on completion.
func (s Signal) RoundTrip() bool {
	if len(s.Legs) < 2 {
		return false
	}
	return s.Legs[0].FromAsset == s.Legs[len(s.Legs)-1].ToAsset
}

// WithAmount returns a copy of the signal scaled to the given input amount.
// Leg amounts, expected outputs, profit, and fees scale proportionally.
func (s Signal) WithAmount(amount float64) Signal {
	orig := s.Notional()
	if orig <= 0 || amount == orig {
		return s
	}
	ratio := amount / orig
	out := s
	out.Legs = make([]SignalLeg, len(s.Legs))
	for i, leg := range s.Legs {
		leg.Amount *= ratio
		leg.ExpectedOut *= ratio
		out.Legs[i] = leg
	}
	out.EstProfit *= ratio
	out.EstFee *= ratio
	return out
}
