package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExposureStore persists exposure ledger entries. The in-memory ledger is
// authoritative within a run; the store is a write-behind used for restarts
// and audit.
type ExposureStore interface {
	Upsert(ctx context.Context, entry ExposureEntry) error
	List(ctx context.Context) ([]ExposureEntry, error)
}

// ExecutionRecord is the full decision trail for one accepted signal:
// Signal -> RiskDecision -> Plan -> Result. Every accepted signal must be
// reconstructable from it for post-hoc analysis.
type ExecutionRecord struct {
	Signal     Signal
	Decision   RiskDecision
	Plan       ExecutionPlan
	Result     ExecutionResult
	RecordedAt time.Time
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	GetByPlanID(ctx context.Context, planID string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	// ListBefore and DeleteBefore support the cold-storage archiver.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ExecutionRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	ID        int64
	Event     string
	Severity  string // "info", "warn", "critical"
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, severity string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// VenueStateCache shares the latest venue state across instances. Sequence
// numbers let readers compute staleness precisely.
type VenueStateCache interface {
	SetVenue(ctx context.Context, v Venue) error
	GetVenue(ctx context.Context, id string) (Venue, error)
	GetVenues(ctx context.Context, ids []string) (map[string]Venue, error)
}

// UpdateBus carries push-based venue updates between processes and appends
// durable execution events to a stream.
type UpdateBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
