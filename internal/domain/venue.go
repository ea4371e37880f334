package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionAsset returns the synthetic asset identifier for the liquidity
// position held on a venue. Adapters for venues carrying a position accept it
// as a leg asset: position -> quote withdraws notional, quote -> position
// redeposits it, both at par.
func PositionAsset(venueID string) string {
	return "LP:" + venueID
}

// IsPositionAsset reports whether the asset identifies a venue position
// rather than a tradable token.
func IsPositionAsset(asset string) bool {
	return strings.HasPrefix(asset, "LP:")
}

// VenueKind classifies the liquidity source behind a venue.
type VenueKind string

const (
	VenueKindPool         VenueKind = "pool"         // constant-product AMM pool
	VenueKindAggregator   VenueKind = "aggregator"   // routing aggregator, asymmetric fee model
	VenueKindConcentrated VenueKind = "concentrated" // concentrated-liquidity position
)

// Venue is the latest known state of one monitored liquidity venue. Venue
// records are owned by the market cache; once embedded in a MarketSnapshot
// they are immutable.
type Venue struct {
	ID      string
	Kind    VenueKind
	Address common.Address // on-chain pool or router address
	Base    string         // base asset identifier
	Quote   string         // quote asset identifier

	Price    float64 // quote units per base unit
	FeeBps   float64 // proportional fee in basis points
	FixedFee float64 // flat per-trade fee in quote units (aggregators)
	Depth    float64 // liquidity depth in quote units

	// Concentrated-liquidity position bounds. HasPosition is false for
	// venues where we hold no range position.
	HasPosition bool
	RangeLower  float64
	RangeUpper  float64

	Seq         uint64 // sequence number of the last applied update
	RefreshedAt time.Time
}

// PairKey returns a canonical identifier for the venue's asset pair so venues
// quoting the same pair can be grouped regardless of base/quote orientation.
func (v Venue) PairKey() string {
	if v.Base < v.Quote {
		return v.Base + "/" + v.Quote
	}
	return v.Quote + "/" + v.Base
}

// InRange reports whether the current price sits inside the configured
// position bounds. Venues without a position are always in range.
func (v Venue) InRange() bool {
	if !v.HasPosition {
		return true
	}
	return v.Price >= v.RangeLower && v.Price <= v.RangeUpper
}

// VenueUpdate is a push-based update for a single venue, delivered between
// scheduled refreshes. Seq must increase monotonically per venue; stale
// updates are dropped by the cache.
type VenueUpdate struct {
	VenueID string    `json:"venue_id"`
	Price   float64   `json:"price"`
	Depth   float64   `json:"depth"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
}
