package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuelab/poolrunner/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. The
// signal, decision, plan, and result are each stored as JSONB so the full
// trail survives schema drift in the Go types.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts one execution record.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	signal, err := json.Marshal(rec.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal: %w", err)
	}
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision: %w", err)
	}
	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("postgres: marshal result: %w", err)
	}

	const query = `
		INSERT INTO executions (plan_id, signal_id, signal, decision, plan, result, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		rec.Plan.ID, rec.Signal.ID, signal, decision, plan, result, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", rec.Plan.ID, err)
	}
	return nil
}

// GetByPlanID returns the execution record for one plan. It returns
// domain.ErrNotFound when the plan is unknown.
func (s *ExecutionStore) GetByPlanID(ctx context.Context, planID string) (domain.ExecutionRecord, error) {
	const query = `
		SELECT signal, decision, plan, result, recorded_at
		FROM executions WHERE plan_id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, planID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", planID, err)
	}
	return rec, nil
}

// ListRecent returns the newest records first, up to limit.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT signal, decision, plan, result, recorded_at
		FROM executions ORDER BY recorded_at DESC LIMIT $1`
	return s.list(ctx, query, limit)
}

// ListBefore returns records older than cutoff in recording order, up to
// limit, for the cold-storage archiver.
func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT signal, decision, plan, result, recorded_at
		FROM executions WHERE recorded_at < $1 ORDER BY recorded_at LIMIT $2`
	return s.list(ctx, query, cutoff, limit)
}

// DeleteBefore removes records older than cutoff, returning the count.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var records []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var signal, decision, plan, result []byte

	if err := row.Scan(&signal, &decision, &plan, &result, &rec.RecordedAt); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if err := json.Unmarshal(signal, &rec.Signal); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	if err := json.Unmarshal(decision, &rec.Decision); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	if err := json.Unmarshal(plan, &rec.Plan); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
