package planner

import "github.com/venuelab/poolrunner/internal/domain"

// Scorer estimates how attractive a plan is to adversarial order-flow
// observers, 0 (invisible) to 1 (certain to be reordered against). The
// planner picks a submission strategy from this score.
type Scorer interface {
	Score(sig domain.Signal, decision domain.RiskDecision, snap domain.MarketSnapshot) float64
}

// HeuristicScorer is the default Scorer. Large size relative to venue depth
// makes an order easy to spot and profitable to front-run; low confidence
// means the edge is already thin and any adverse reordering kills it. The
// risk manager's composite score is blended in as a tiebreaker.
type HeuristicScorer struct{}

func (HeuristicScorer) Score(sig domain.Signal, decision domain.RiskDecision, snap domain.MarketSnapshot) float64 {
	var sizeRatio float64
	for _, leg := range sig.Legs {
		v, ok := snap.Venue(leg.VenueID)
		if !ok || v.Depth <= 0 {
			sizeRatio = 1
			break
		}
		r := leg.Amount / v.Depth
		if r > sizeRatio {
			sizeRatio = r
		}
	}
	if sizeRatio > 1 {
		sizeRatio = 1
	}

	s := 0.6*sizeRatio + 0.25*(1-sig.Confidence) + 0.15*decision.RiskScore
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

var _ Scorer = HeuristicScorer{}
