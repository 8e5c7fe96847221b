package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active
// transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobRegistry owns the job rows that back the mutual-exclusion model.
// StartJob is the single race-free entry point: two concurrent calls
// for the same (tenant, kind) must result in exactly one success.
type JobRegistry interface {
	// StartJob atomically inserts a running job for (tenantID, kind)
	// if no job in the conflict set is currently running. Returns
	// false, nil when the start is blocked by a running job; any
	// other error is a storage failure the caller must treat as fatal.
	StartJob(ctx context.Context, tenantID int64, kind JobKind, conflictSet []JobKind, correlationID *string) (bool, error)

	// CompleteJob transitions the most recent running job for
	// (tenantID, kind) to completed or failed. Returns false when no
	// running job exists, which is a logged no-op, not an error.
	CompleteJob(ctx context.Context, tenantID int64, kind JobKind, success bool, errorMessage *string) (bool, error)

	// RunningTenants returns the tenant ids that have a running job
	// of any of the given kinds.
	RunningTenants(ctx context.Context, kinds []JobKind) ([]int64, error)

	// RecoverOrphans marks every running job as failed. Run once at
	// startup, before any new job is accepted.
	RecoverOrphans(ctx context.Context, reason string) (int64, error)

	// FailStale marks running jobs older than maxAge as failed.
	FailStale(ctx context.Context, maxAge time.Duration) (int64, error)

	// DeleteTerminatedBefore removes completed/failed job rows older
	// than the cutoff. Returns rows deleted.
	DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ActiveJobs lists the running jobs of one tenant.
	ActiveJobs(ctx context.Context, tenantID int64) ([]Job, error)
}

// OrderStore owns the ingested order rows and the derived statistics
// the notification formatter needs.
type OrderStore interface {
	// BulkUpsertOrders inserts the orders whose natural key is not
	// already present and returns only the newly inserted rows, in no
	// guaranteed order. Duplicates are skipped silently.
	BulkUpsertOrders(ctx context.Context, orders []Order) ([]Order, error)

	// CountAndAmountBefore returns the number of non-cancelled orders
	// for the tenant on the given day with id < orderID, and their
	// discounted total rounded to whole currency units. Ordering is
	// by storage id, not order time, so the counter stays monotonic
	// under concurrent inserts.
	CountAndAmountBefore(ctx context.Context, tenantID, orderID int64, day time.Time) (int64, int64, error)

	// VariantTotalsToday returns count and discounted sum of today's
	// non-cancelled orders for one variant up to and including
	// orderID, merging runningTotal for the row being processed.
	VariantTotalsToday(ctx context.Context, tenantID, orderID, variantID int64, day time.Time, runningTotal int64) (int64, int64, error)

	// VariantTotalsForDay returns count and discounted sum for one
	// variant on an arbitrary day, purely from storage.
	VariantTotalsForDay(ctx context.Context, tenantID, variantID int64, day time.Time) (int64, int64, error)
}

// StockStore owns the ingested stock rows.
type StockStore interface {
	BulkUpsertStocks(ctx context.Context, stocks []Stock) (int64, error)

	// StockSummary returns per-warehouse remaining quantities for one
	// variant, formatted for the notification text.
	StockSummary(ctx context.Context, tenantID, variantID int64) ([]WarehouseQuantity, error)
}

// WarehouseQuantity is one line of a variant stock summary.
type WarehouseQuantity struct {
	Warehouse string
	Quantity  int
}

// TenantStore is the read accessor over tenants, credentials and
// delegated staff. Credential encryption is handled outside the core.
type TenantStore interface {
	ActiveCredentials(ctx context.Context) ([]Credential, error)
	ActiveCredential(ctx context.Context, tenantID int64) (*Credential, error)

	// DisableCredential deactivates the tenant's credential after the
	// marketplace rejected it.
	DisableCredential(ctx context.Context, tenantID int64) error

	// MarkUnreachable records that the primary contact refused
	// delivery (revoked the chat).
	MarkUnreachable(ctx context.Context, contactAddress int64) error

	ActiveStaff(ctx context.Context, tenantID int64) ([]Staff, error)
}

// Queue defines the durable work queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type Queue interface {
	// Enqueue adds a named task with a JSON payload. visibleAfter in
	// the past (or zero) makes it immediately claimable.
	Enqueue(ctx context.Context, tx DBTransaction, task Task) (int64, error)

	// DequeueBatch claims up to limit visible tasks atomically.
	// Returns a nil slice if the queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]Task, error)

	// Complete removes a finished task from the queue.
	Complete(ctx context.Context, taskID int64) error

	// Fail reschedules the task with backoff, or drops it with the
	// error message once attempts are exhausted.
	Fail(ctx context.Context, taskID int64, errMsg string) error

	// SetVisibleAfter extends the visibility timeout (heartbeat).
	SetVisibleAfter(ctx context.Context, taskID int64, visibleAfter time.Time) error

	// Count tracks count of items in queue.
	Count(ctx context.Context) (int64, error)
}

// Task is one unit of work on the durable queue.
type Task struct {
	ID            int64
	Name          string
	CorrelationID uuid.UUID
	Payload       []byte
	Attempt       int
	MaxAttempts   int
	VisibleAfter  time.Time
	CreatedAt     time.Time
}
