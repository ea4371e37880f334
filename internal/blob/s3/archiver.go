package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
)

// archiveBatch caps how many execution records are moved per archive pass so
// a long backlog drains in bounded chunks.
const archiveBatch = 1000

// Archiver moves aged execution records out of the primary store into
// S3-backed cold storage as JSONL objects, partitioned by year-month.
// Deletion only happens after the upload succeeds, so a failed pass leaves
// the primary store intact and the next pass retries the same records.
type Archiver struct {
	cfg    config.ArchiveConfig
	writer domain.BlobWriter
	execs  domain.ExecutionStore
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg config.ArchiveConfig, writer domain.BlobWriter, execs domain.ExecutionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		execs:  execs,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run archives on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ArchiveExecutions(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveExecutions moves every execution record older than the retention
// window into cold storage and returns the number of records archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context) (int64, error) {
	cutoff := a.now().AddDate(0, 0, -a.cfg.RetentionDays)

	var total int64
	for {
		records, err := a.execs.ListBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions query: %w", err)
		}
		if len(records) == 0 {
			break
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions marshal: %w", err)
		}

		path := archivePath(records[0].RecordedAt, records[len(records)-1].RecordedAt)
		if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive executions upload: %w", err)
		}

		// Delete only what was uploaded. The batch is the oldest slice of
		// the table, so deleting before the batch's last timestamp plus a
		// nanosecond removes exactly the uploaded records.
		delCutoff := records[len(records)-1].RecordedAt.Add(time.Nanosecond)
		removed, err := a.execs.DeleteBefore(ctx, delCutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive executions delete: %w", err)
		}
		total += removed

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.executions", "info", map[string]any{
				"path":   path,
				"count":  removed,
				"before": cutoff.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive executions audit log: %w", err)
			}
		}

		if len(records) < archiveBatch {
			break
		}
	}

	if total > 0 {
		a.logger.Info("executions archived",
			slog.Int64("count", total),
			slog.String("cutoff", cutoff.Format(time.RFC3339)),
		)
	}
	return total, nil
}

// archivePath builds the S3 key for an archive object, partitioned by the
// year-month of the oldest record with a range suffix for uniqueness:
//
//	archive/executions/2025-01/20250102T150405-20250131T235959.jsonl
func archivePath(oldest, newest time.Time) string {
	const stamp = "20060102T150405"
	return fmt.Sprintf("archive/executions/%s/%s-%s.jsonl",
		oldest.Format("2006-01"), oldest.Format(stamp), newest.Format(stamp))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
