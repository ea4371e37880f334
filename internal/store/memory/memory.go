// Package memory provides in-process store implementations backing paper
// mode and tests. They satisfy the same interfaces as the postgres stores
// and keep everything in maps under a mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/venuelab/poolrunner/internal/domain"
)

// ExposureStore is an in-memory domain.ExposureStore.
type ExposureStore struct {
	mu      sync.Mutex
	entries map[string]domain.ExposureEntry
}

func NewExposureStore() *ExposureStore {
	return &ExposureStore{entries: make(map[string]domain.ExposureEntry)}
}

func (s *ExposureStore) Upsert(ctx context.Context, entry domain.ExposureEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Asset] = entry
	return nil
}

func (s *ExposureStore) List(ctx context.Context) ([]domain.ExposureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExposureEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// ExecutionStore is an in-memory domain.ExecutionStore. Records are held in
// insertion order.
type ExecutionStore struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
	byPlan  map[string]int
}

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{byPlan: make(map[string]int)}
}

func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPlan[rec.Plan.ID]; ok {
		return fmt.Errorf("memory: execution record for plan %s: %w", rec.Plan.ID, domain.ErrDuplicate)
	}
	s.byPlan[rec.Plan.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

func (s *ExecutionStore) GetByPlanID(ctx context.Context, planID string) (domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byPlan[planID]
	if !ok {
		return domain.ExecutionRecord{}, fmt.Errorf("memory: execution record for plan %s: %w", planID, domain.ErrNotFound)
	}
	return s.records[idx], nil
}

func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.ExecutionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, rec := range s.records {
		if !rec.RecordedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rec.RecordedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	s.byPlan = make(map[string]int, len(kept))
	for i, rec := range kept {
		s.byPlan[rec.Plan.ID] = i
	}
	return removed, nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
	now     func() time.Time
}

func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1, now: time.Now}
}

func (s *AuditStore) Log(ctx context.Context, event, severity string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Severity:  severity,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	s.nextID++
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	skipped := 0
	for _, e := range s.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.ExposureStore  = (*ExposureStore)(nil)
	_ domain.ExecutionStore = (*ExecutionStore)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
)
