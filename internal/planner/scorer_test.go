package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/venuelab/poolrunner/internal/domain"
)

func TestHeuristicScorerSizeDominates(t *testing.T) {
	snap := domain.NewMarketSnapshot(1, time.Now(), []domain.Venue{
		{ID: "pool-a", Base: "WETH", Quote: "USDC", Price: 100, Depth: 1000},
	}, nil)

	small := domain.Signal{
		Confidence: 0.9,
		Legs:       []domain.SignalLeg{{VenueID: "pool-a", Amount: 10}},
	}
	large := domain.Signal{
		Confidence: 0.9,
		Legs:       []domain.SignalLeg{{VenueID: "pool-a", Amount: 900}},
	}

	s := HeuristicScorer{}
	assert.Less(t, s.Score(small, domain.RiskDecision{}, snap), s.Score(large, domain.RiskDecision{}, snap))
}

func TestHeuristicScorerUnknownVenueMaxesSizeRatio(t *testing.T) {
	sig := domain.Signal{
		Confidence: 1,
		Legs:       []domain.SignalLeg{{VenueID: "ghost", Amount: 1}},
	}
	score := HeuristicScorer{}.Score(sig, domain.RiskDecision{}, domain.MarketSnapshot{})
	assert.InDelta(t, 0.6, score, 1e-9)
}

func TestHeuristicScorerBounds(t *testing.T) {
	sig := domain.Signal{
		Confidence: 0,
		Legs:       []domain.SignalLeg{{VenueID: "ghost", Amount: 1}},
	}
	score := HeuristicScorer{}.Score(sig, domain.RiskDecision{RiskScore: 1}, domain.MarketSnapshot{})
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}
