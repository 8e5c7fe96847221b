package pipeline

import (
	"context"
	"encoding/json"

	"sellwatch/internal/store"
)

// HandleNotifyOrders is the fan-out stage: deliver the batch to the
// tenant plus delegated staff, then resolve the pipeline job. This is
// the only place allowed to complete the notify kind when new records
// exist, and it does so exactly once per run regardless of recipient
// count.
func (p *Pipeline) HandleNotifyOrders(ctx context.Context, task store.Task) error {
	var payload notifyPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("invalid notify payload", "task_id", task.ID, "error", err)
		return nil
	}

	tenantID := payload.TenantID

	staff, err := p.tenants.ActiveStaff(ctx, tenantID)
	if err != nil {
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return err
	}

	staffContacts := make([]int64, len(staff))
	for i, s := range staff {
		staffContacts[i] = s.ContactAddress
	}

	res, err := p.fanout.Deliver(ctx, tenantID, payload.ContactAddress, staffContacts, payload.Messages)
	if err != nil {
		// Only context cancellation reaches here; per-recipient
		// failures were absorbed inside the fan-out.
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return err
	}

	p.metrics.NotificationsSent(len(payload.Messages) * (1 + res.StaffDelivered))
	p.logger.Info("fan-out finished",
		"tenant_id", tenantID,
		"primary_delivered", res.PrimaryDelivered,
		"staff_delivered", res.StaffDelivered,
		"staff_failed", res.StaffFailed)

	// Partial delivery failure, including a refused primary, does not
	// fail the pipeline: the delivery attempt itself is the objective.
	p.completeOK(ctx, tenantID, store.JobKindNotify)
	return nil
}
