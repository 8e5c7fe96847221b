package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sellwatch/internal/marketplace"
	"sellwatch/internal/store"
)

// HandlePreload backfills three months of orders plus the current
// stock snapshot for one tenant, typically right after the tenant
// connected a credential. The ingested rows are not notified: the
// bulk upsert records them so the next notify sweep sees them as
// already known.
func (p *Pipeline) HandlePreload(ctx context.Context, task store.Task) error {
	var payload preloadPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("invalid preload payload", "task_id", task.ID, "error", err)
		return nil
	}

	tenantID := payload.TenantID

	cred, err := p.tenants.ActiveCredential(ctx, tenantID)
	if err != nil {
		return err
	}
	if cred == nil {
		p.logger.Warn("preload requested without active credential", "tenant_id", tenantID)
		return nil
	}

	corrID := task.CorrelationID.String()
	started, err := p.control.Start(ctx, tenantID, store.JobKindPreload, &corrID)
	if err != nil {
		return err
	}
	if !started {
		p.logger.Info("preload blocked by running job", "tenant_id", tenantID)
		return nil
	}
	p.metrics.JobStarted(string(store.JobKindPreload))

	if err := p.preload(ctx, tenantID, cred.Token); err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			p.handleUnauthorized(ctx, tenantID, cred.ContactAddress, store.JobKindPreload)
			return nil
		}
		p.completeFailed(ctx, tenantID, store.JobKindPreload, err)
		return fmt.Errorf("preload tenant %d: %w", tenantID, err)
	}

	p.completeOK(ctx, tenantID, store.JobKindPreload)
	return nil
}

func (p *Pipeline) preload(ctx context.Context, tenantID int64, token string) error {
	since := time.Now().Add(-preloadWindow)

	orders, err := p.market.GetOrders(ctx, token, tenantID, since)
	if err != nil {
		return err
	}
	inserted, err := p.orders.BulkUpsertOrders(ctx, orders)
	if err != nil {
		return err
	}
	p.metrics.RecordsIngested("orders", len(inserted))
	p.logger.Info("preloaded orders", "tenant_id", tenantID, "new", len(inserted), "fetched", len(orders))

	stocks, err := p.market.GetStocks(ctx, token, tenantID)
	if err != nil {
		return err
	}
	n, err := p.stocks.BulkUpsertStocks(ctx, stocks)
	if err != nil {
		return err
	}
	p.metrics.RecordsIngested("stocks", int(n))
	p.logger.Info("preloaded stocks", "tenant_id", tenantID, "new", n)

	return nil
}

// HandleLoadStocks refreshes one tenant's stock snapshot and resolves
// its registry job.
func (p *Pipeline) HandleLoadStocks(ctx context.Context, task store.Task) error {
	var payload fetchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("invalid stock payload", "task_id", task.ID, "error", err)
		return nil
	}

	tenantID := payload.TenantID

	if task.Attempt > 1 {
		corrID := task.CorrelationID.String()
		started, err := p.control.Start(ctx, tenantID, store.JobKindLoadStocks, &corrID)
		if err != nil {
			return err
		}
		if !started {
			return nil
		}
	}

	stocks, err := p.market.GetStocks(ctx, payload.Token, tenantID)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			p.handleUnauthorized(ctx, tenantID, payload.ContactAddress, store.JobKindLoadStocks)
			return nil
		}
		p.completeFailed(ctx, tenantID, store.JobKindLoadStocks, err)
		return fmt.Errorf("load stocks for tenant %d: %w", tenantID, err)
	}

	n, err := p.stocks.BulkUpsertStocks(ctx, stocks)
	if err != nil {
		p.completeFailed(ctx, tenantID, store.JobKindLoadStocks, err)
		return fmt.Errorf("persist stocks for tenant %d: %w", tenantID, err)
	}

	p.metrics.RecordsIngested("stocks", int(n))
	p.completeOK(ctx, tenantID, store.JobKindLoadStocks)
	return nil
}
