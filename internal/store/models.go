// Package store contains the database layer for sellwatch.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a marketplace seller account.
// All pipeline operations are scoped by TenantID.
type Tenant struct {
	ID             int64
	Name           string
	ContactAddress int64 // chat address of the primary contact
	IsActive       bool
	IsUnreachable  bool
	CreatedAt      time.Time
}

// Credential is the decrypted marketplace API token of a tenant.
// Decryption happens outside this core; the store only hands back
// tokens that are currently active.
type Credential struct {
	ID             int64
	TenantID       int64
	Token          string
	ContactAddress int64
	IsActive       bool
	CreatedAt      time.Time
}

// Staff is a delegated employee of a tenant that also receives
// order notifications.
type Staff struct {
	ID             int64
	TenantID       int64
	ContactAddress int64
	FullName       string
	IsActive       bool
}

// JobKind is the enumerated type of a registry job.
type JobKind string

const (
	JobKindPreload    JobKind = "preload"
	JobKindNotify     JobKind = "notify_pipeline"
	JobKindLoadStocks JobKind = "load_stocks"
)

// JobStatus represents the state of a registry job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents one attempt to run a pipeline stage for one tenant.
// At most one Job per (TenantID, Kind) may be running at any time;
// the registry enforces this with a partial unique index.
type Job struct {
	ID            uuid.UUID
	TenantID      int64
	Kind          JobKind
	Status        JobStatus
	CorrelationID *string // id issued by the work queue, if any
	ErrorMessage  *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Order is one order line pulled from the marketplace statistics API.
// The natural key (OccurredAt, TenantID, ExternalLineID, VariantID,
// Cancelled, Size) is unique; re-ingesting the same tuple is a no-op.
type Order struct {
	ID              int64
	TenantID        int64
	OccurredAt      time.Time
	ExternalLineID  string
	VariantID       int64
	Cancelled       bool
	Size            string
	Price           float64
	DiscountPercent float64
	Warehouse       string
	Region          string
	Category        string
	Subject         string
	Brand           string
	Article         string
	CreatedAt       time.Time
}

// DiscountedPrice is the order price after the seller discount,
// rounded to the nearest unit of currency.
func (o Order) DiscountedPrice() int64 {
	return int64(o.Price*(1-o.DiscountPercent/100) + 0.5)
}

// Stock is one warehouse stock line pulled from the marketplace.
type Stock struct {
	ID         int64
	TenantID   int64
	ImportedAt time.Time
	VariantID  int64
	Warehouse  string
	Size       string
	Quantity   int
	Price      float64
	Discount   float64
}
