package domain

import (
	"sort"
	"time"
)

// MarketSnapshot is an immutable, versioned view of every monitored venue
// taken at one instant. All signals produced within one scan cycle derive
// from a single snapshot version; consumers must never mix versions.
type MarketSnapshot struct {
	Version uint64
	TakenAt time.Time
	Venues  []Venue  // sorted by venue ID
	Stale   []string // venue IDs whose last refresh failed
}

// NewMarketSnapshot builds a snapshot from the given venues, sorting them by
// ID so downstream iteration is deterministic.
func NewMarketSnapshot(version uint64, takenAt time.Time, venues []Venue, stale []string) MarketSnapshot {
	sorted := make([]Venue, len(venues))
	copy(sorted, venues)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	staleCopy := make([]string, len(stale))
	copy(staleCopy, stale)
	sort.Strings(staleCopy)

	return MarketSnapshot{
		Version: version,
		TakenAt: takenAt,
		Venues:  sorted,
		Stale:   staleCopy,
	}
}

// Venue returns the venue with the given ID, if present.
func (s MarketSnapshot) Venue(id string) (Venue, bool) {
	i := sort.Search(len(s.Venues), func(i int) bool { return s.Venues[i].ID >= id })
	if i < len(s.Venues) && s.Venues[i].ID == id {
		return s.Venues[i], true
	}
	return Venue{}, false
}

// IsStale reports whether the venue's last refresh failed, meaning its entry
// carries data from an earlier refresh.
func (s MarketSnapshot) IsStale(id string) bool {
	i := sort.SearchStrings(s.Stale, id)
	return i < len(s.Stale) && s.Stale[i] == id
}

// Price returns the quote-per-base price for a venue, or 0 when unknown.
func (s MarketSnapshot) Price(venueID string) float64 {
	v, ok := s.Venue(venueID)
	if !ok {
		return 0
	}
	return v.Price
}
