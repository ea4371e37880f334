package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuelab/poolrunner/internal/domain"
)

// ExposureStore implements domain.ExposureStore using PostgreSQL.
type ExposureStore struct {
	pool *pgxpool.Pool
}

// NewExposureStore creates a new ExposureStore backed by the given pool.
func NewExposureStore(pool *pgxpool.Pool) *ExposureStore {
	return &ExposureStore{pool: pool}
}

// Upsert writes one asset's exposure entry, overwriting any existing row.
func (s *ExposureStore) Upsert(ctx context.Context, entry domain.ExposureEntry) error {
	const query = `
		INSERT INTO exposure (asset, net_position, unrealized_value, realized_pnl, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset) DO UPDATE SET
			net_position = EXCLUDED.net_position,
			unrealized_value = EXCLUDED.unrealized_value,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		entry.Asset, entry.NetPosition, entry.UnrealizedValue, entry.RealizedPnL, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert exposure %s: %w", entry.Asset, err)
	}
	return nil
}

// List returns all exposure entries ordered by asset.
func (s *ExposureStore) List(ctx context.Context) ([]domain.ExposureEntry, error) {
	const query = `
		SELECT asset, net_position, unrealized_value, realized_pnl, updated_at
		FROM exposure ORDER BY asset`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exposure: %w", err)
	}
	defer rows.Close()

	var entries []domain.ExposureEntry
	for rows.Next() {
		var e domain.ExposureEntry
		if err := rows.Scan(&e.Asset, &e.NetPosition, &e.UnrealizedValue, &e.RealizedPnL, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan exposure: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list exposure rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.ExposureStore = (*ExposureStore)(nil)
