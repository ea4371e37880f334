package planner

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/venuelab/poolrunner/internal/domain"
)

// newCommitment builds the commit-reveal envelope for a plan's legs: a
// Keccak-256 hash over the canonical leg encoding plus a fresh random salt.
// revealAt is drawn uniformly from the configured delay range so observers
// cannot time the reveal; the deadline bounds how stale a commitment may get.
func newCommitment(legs []domain.PlanLeg, now time.Time, delayMin, delayMax, maxLatency time.Duration) (*domain.Commitment, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("planner: commitment salt: %w", err)
	}

	delay := delayMin
	if delayMax > delayMin {
		span := int64(delayMax - delayMin)
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("planner: commitment delay: %w", err)
		}
		delay += time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(span)))
	}

	return &domain.Commitment{
		Hash:           CommitmentHash(legs, salt),
		Salt:           salt,
		RevealAt:       now.Add(delay),
		RevealDeadline: now.Add(maxLatency),
	}, nil
}

// CommitmentHash computes the Keccak-256 commitment over the canonical
// encoding of the legs and the salt. The engine recomputes it at reveal
// time; any drift in the legs makes the hashes diverge and the reveal abort.
func CommitmentHash(legs []domain.PlanLeg, salt [32]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	for _, leg := range legs {
		h.Write([]byte(leg.FromAsset))
		h.Write([]byte{0})
		h.Write([]byte(leg.ToAsset))
		h.Write([]byte{0})
		h.Write([]byte(leg.VenueID))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(leg.Amount))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(leg.MinOut))
		h.Write(buf[:])
	}
	h.Write(salt[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// VerifyCommitment recomputes the hash from the plan's legs and salt and
// reports whether it matches the committed hash.
func VerifyCommitment(plan domain.ExecutionPlan) bool {
	if plan.Commitment == nil {
		return false
	}
	return CommitmentHash(plan.Legs, plan.Commitment.Salt) == plan.Commitment.Hash
}
