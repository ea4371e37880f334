package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelab/poolrunner/internal/domain"
)

func record(planID string, recordedAt time.Time) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		Signal:     domain.Signal{ID: "sig-" + planID},
		Plan:       domain.ExecutionPlan{ID: planID},
		RecordedAt: recordedAt,
	}
}

func TestExecutionStoreCreateAndGet(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, record("plan-1", now)))

	got, err := s.GetByPlanID(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "sig-plan-1", got.Signal.ID)

	_, err = s.GetByPlanID(ctx, "plan-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.Create(ctx, record("plan-1", now))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestExecutionStoreListRecent(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, record(fmt.Sprintf("plan-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "plan-4", recent[0].Plan.ID)
	assert.Equal(t, "plan-3", recent[1].Plan.ID)

	all, err := s.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestExecutionStoreArchiveCycle(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, record(fmt.Sprintf("plan-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	cutoff := base.Add(3 * time.Hour)
	old, err := s.ListBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "plan-0", old[0].Plan.ID)

	removed, err := s.DeleteBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	// Surviving records are still reachable by plan ID after the index rebuild.
	_, err = s.GetByPlanID(ctx, "plan-0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := s.GetByPlanID(ctx, "plan-4")
	require.NoError(t, err)
	assert.Equal(t, "plan-4", got.Plan.ID)
}

func TestExposureStoreUpsert(t *testing.T) {
	s := NewExposureStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, domain.ExposureEntry{Asset: "WETH", NetPosition: 1}))
	require.NoError(t, s.Upsert(ctx, domain.ExposureEntry{Asset: "USDC", NetPosition: -100}))
	require.NoError(t, s.Upsert(ctx, domain.ExposureEntry{Asset: "WETH", NetPosition: 2}))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "USDC", entries[0].Asset)
	assert.Equal(t, "WETH", entries[1].Asset)
	assert.InDelta(t, 2, entries[1].NetPosition, 1e-9)
}

func TestAuditStoreLogAndList(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "plan_filled", "info", map[string]any{"plan": "plan-1"}))
	require.NoError(t, s.Log(ctx, "unwind_failure", "critical", nil))

	entries, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "plan_filled", entries[0].Event)
	assert.Equal(t, "critical", entries[1].Severity)

	limited, err := s.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "unwind_failure", limited[0].Event)
}
