package taskctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sellwatch/internal/store"
)

// RecoveryReason is stamped on every job failed by the startup sweep.
const RecoveryReason = "process restarted"

// Controller is a stateless facade over the job registry and the
// static conflict table. A blocked start is an expected outcome and is
// reported as a boolean; storage failures propagate, because no caller
// can decide tenant eligibility without a trustworthy registry.
type Controller struct {
	registry store.JobRegistry
	logger   *slog.Logger
}

func New(registry store.JobRegistry, logger *slog.Logger) *Controller {
	return &Controller{registry: registry, logger: logger}
}

// CanStart reports whether a job of the given kind could start for
// the tenant right now. The answer is a best-effort snapshot: a
// subsequent Start may still lose a race and return false.
func (c *Controller) CanStart(ctx context.Context, tenantID int64, kind store.JobKind) (bool, error) {
	running, err := c.registry.RunningTenants(ctx, ConflictSet(kind))
	if err != nil {
		return false, fmt.Errorf("can_start check failed for tenant %d: %w", tenantID, err)
	}

	for _, id := range running {
		if id == tenantID {
			return false, nil
		}
	}
	return true, nil
}

// Start atomically registers a running job for (tenantID, kind).
// Returns true when this caller won the slot.
func (c *Controller) Start(ctx context.Context, tenantID int64, kind store.JobKind, correlationID *string) (bool, error) {
	started, err := c.registry.StartJob(ctx, tenantID, kind, ConflictSet(kind), correlationID)
	if err != nil {
		return false, err
	}

	if !started {
		c.logger.Info("job start blocked by running conflict",
			"tenant_id", tenantID, "kind", string(kind))
		return false, nil
	}

	c.logger.Info("job started", "tenant_id", tenantID, "kind", string(kind))
	return true, nil
}

// Complete transitions the running job for (tenantID, kind) to its
// terminal state. A missing running job is logged and reported as
// false, never as an error: completion must be safe to retry.
func (c *Controller) Complete(ctx context.Context, tenantID int64, kind store.JobKind, success bool, errorMessage *string) (bool, error) {
	completed, err := c.registry.CompleteJob(ctx, tenantID, kind, success, errorMessage)
	if err != nil {
		return false, err
	}

	if !completed {
		c.logger.Warn("no running job to complete",
			"tenant_id", tenantID, "kind", string(kind))
		return false, nil
	}

	c.logger.Info("job completed",
		"tenant_id", tenantID, "kind", string(kind), "success", success)
	return true, nil
}

// FilterEligible returns the subset of tenantIDs for which a job of
// the given kind could start, evaluated in a single registry query.
func (c *Controller) FilterEligible(ctx context.Context, tenantIDs []int64, kind store.JobKind) ([]int64, error) {
	running, err := c.registry.RunningTenants(ctx, ConflictSet(kind))
	if err != nil {
		return nil, fmt.Errorf("filter_eligible failed for kind %s: %w", kind, err)
	}

	blocked := make(map[int64]struct{}, len(running))
	for _, id := range running {
		blocked[id] = struct{}{}
	}

	eligible := make([]int64, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		if _, ok := blocked[id]; !ok {
			eligible = append(eligible, id)
		}
	}

	c.logger.Info("filtered eligible tenants",
		"kind", string(kind), "eligible", len(eligible), "total", len(tenantIDs))
	return eligible, nil
}

// RecoverOrphans fails every job still marked running. Must run once
// at startup before any new job is accepted: a running row cannot be
// trusted after an ungraceful shutdown.
func (c *Controller) RecoverOrphans(ctx context.Context) (int64, error) {
	count, err := c.registry.RecoverOrphans(ctx, RecoveryReason)
	if err != nil {
		return 0, fmt.Errorf("orphan recovery failed: %w", err)
	}

	c.logger.Info("recovered orphaned jobs", "count", count)
	return count, nil
}

// CleanupOld removes terminal job rows older than retention and fails
// running jobs that exceeded maxRuntime.
func (c *Controller) CleanupOld(ctx context.Context, retention, maxRuntime time.Duration) (int64, error) {
	stale, err := c.registry.FailStale(ctx, maxRuntime)
	if err != nil {
		return 0, fmt.Errorf("stale job cleanup failed: %w", err)
	}
	if stale > 0 {
		c.logger.Warn("failed stale running jobs", "count", stale)
	}

	deleted, err := c.registry.DeleteTerminatedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("old job cleanup failed: %w", err)
	}

	c.logger.Info("cleaned up old jobs", "deleted", deleted, "stale_failed", stale)
	return deleted + stale, nil
}
