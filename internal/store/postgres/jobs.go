package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sellwatch/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code raised when an insert
// hits uq_jobs_running.
const uniqueViolation = "23505"

// StartJob atomically registers a running job for (tenantID, kind).
//
// The insert is guarded three ways. A tenant-scoped advisory lock
// serializes concurrent starts for the same tenant: under READ
// COMMITTED, two cross-kind starts each take their snapshot before
// the other commits, so without the lock both NOT EXISTS checks could
// pass. Inside that lock, a NOT EXISTS over the whole conflict set
// rejects conflicting kinds, and the partial unique index on
// (tenant_id, kind) WHERE status = 'running' backstops same-kind
// duplicates; a unique violation means lost-the-race, not failure.
// The lock is released at commit or rollback.
func (s *Store) StartJob(ctx context.Context, tenantID int64, kind store.JobKind, conflictSet []store.JobKind, correlationID *string) (bool, error) {
	kinds := make([]string, 0, len(conflictSet)+1)
	kinds = append(kinds, string(kind))
	for _, k := range conflictSet {
		if k != kind {
			kinds = append(kinds, string(k))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin job start for tenant %d: %w", tenantID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", tenantID); err != nil {
		return false, fmt.Errorf("failed to lock tenant %d for job start: %w", tenantID, err)
	}

	query := `
		INSERT INTO jobs (id, tenant_id, kind, status, correlation_id, created_at)
		SELECT $1, $2, $3, $4, $5, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs
			WHERE tenant_id = $2 AND kind = ANY($6) AND status = $4
		)
	`

	res, err := tx.ExecContext(ctx, query,
		uuid.New(),
		tenantID,
		string(kind),
		string(store.JobStatusRunning),
		correlationID,
		pq.Array(kinds),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Lost the race to a concurrent start of the same kind.
			return false, nil
		}
		return false, fmt.Errorf("failed to start job %s for tenant %d: %w", kind, tenantID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read start result for tenant %d: %w", tenantID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit job start for tenant %d: %w", tenantID, err)
	}

	return n == 1, nil
}

// CompleteJob transitions the most recent running job for
// (tenantID, kind) to its terminal state. A missing running job is
// reported as false so idempotent completion retries stay safe.
func (s *Store) CompleteJob(ctx context.Context, tenantID int64, kind store.JobKind, success bool, errorMessage *string) (bool, error) {
	status := store.JobStatusCompleted
	if !success {
		status = store.JobStatusFailed
	}

	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), error_message = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE tenant_id = $3 AND kind = $4 AND status = $5
			ORDER BY created_at DESC
			LIMIT 1
		)
	`

	res, err := s.db.ExecContext(ctx, query,
		string(status),
		errorMessage,
		tenantID,
		string(kind),
		string(store.JobStatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s for tenant %d: %w", kind, tenantID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// RunningTenants returns the distinct tenant ids with a running job
// of any of the given kinds.
func (s *Store) RunningTenants(ctx context.Context, kinds []store.JobKind) ([]int64, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	query := `
		SELECT DISTINCT tenant_id FROM jobs
		WHERE kind = ANY($1) AND status = $2
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(names), string(store.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running tenants: %w", err)
	}
	defer rows.Close()

	var tenantIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenantIDs = append(tenantIDs, id)
	}

	return tenantIDs, rows.Err()
}

// RecoverOrphans fails every running job. A running row found at boot
// is stale: the worker process that owned it is presumed dead.
func (s *Store) RecoverOrphans(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), error_message = $2
		WHERE status = $3
	`

	res, err := s.db.ExecContext(ctx, query,
		string(store.JobStatusFailed),
		reason,
		string(store.JobStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}

	return res.RowsAffected()
}

// FailStale fails running jobs older than maxAge. Hung jobs would
// otherwise block their (tenant, kind) slot forever.
func (s *Store) FailStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1, completed_at = NOW(), error_message = 'job exceeded maximum runtime'
		WHERE status = $2 AND created_at < NOW() - ($3 * INTERVAL '1 second')
	`

	res, err := s.db.ExecContext(ctx, query,
		string(store.JobStatusFailed),
		string(store.JobStatusRunning),
		maxAge.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}

	return res.RowsAffected()
}

// DeleteTerminatedBefore removes terminal job rows older than cutoff.
func (s *Store) DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status <> $1 AND completed_at < $2
	`

	res, err := s.db.ExecContext(ctx, query, string(store.JobStatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	return res.RowsAffected()
}

// ActiveJobs lists the running jobs of one tenant, newest first.
func (s *Store) ActiveJobs(ctx context.Context, tenantID int64) ([]store.Job, error) {
	query := `
		SELECT id, tenant_id, kind, status, correlation_id, error_message, created_at, completed_at
		FROM jobs
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, string(store.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query active jobs for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		var j store.Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.CorrelationID, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}
