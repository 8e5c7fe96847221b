package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"sellwatch/internal/marketplace"
	"sellwatch/internal/notify"
	"sellwatch/internal/store"
)

// HandleFetchOrders is the fetch stage of the notify pipeline: pull
// the tenant's recent orders, persist the new ones, derive per-order
// statistics and hand the formatted messages to the fan-out stage.
//
// The registry job was opened by the sweep before this task was
// enqueued. On a queue redelivery the job has already been resolved as
// failed, so the stage re-registers through Start and skips the cycle
// when it loses.
func (p *Pipeline) HandleFetchOrders(ctx context.Context, task store.Task) error {
	var payload fetchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		p.logger.Error("invalid fetch payload", "task_id", task.ID, "error", err)
		return nil // not retryable
	}

	tenantID := payload.TenantID

	if task.Attempt > 1 {
		corrID := task.CorrelationID.String()
		started, err := p.control.Start(ctx, tenantID, store.JobKindNotify, &corrID)
		if err != nil {
			return err
		}
		if !started {
			return nil
		}
	}

	since := time.Now().Add(-fetchWindow)
	orders, err := p.market.GetOrders(ctx, payload.Token, tenantID, since)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			p.handleUnauthorized(ctx, tenantID, payload.ContactAddress, store.JobKindNotify)
			return nil // never retried automatically
		}
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return fmt.Errorf("fetch orders for tenant %d: %w", tenantID, err)
	}

	newOrders, err := p.orders.BulkUpsertOrders(ctx, orders)
	if err != nil {
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return fmt.Errorf("persist orders for tenant %d: %w", tenantID, err)
	}
	p.metrics.RecordsIngested("orders", len(newOrders))

	if len(newOrders) == 0 {
		// Nothing to notify is a successful run.
		p.logger.Info("no new orders", "tenant_id", tenantID)
		p.completeOK(ctx, tenantID, store.JobKindNotify)
		return nil
	}

	p.logger.Info("new orders ingested",
		"tenant_id", tenantID, "count", len(newOrders))

	messages, err := p.buildMessages(ctx, tenantID, newOrders)
	if err != nil {
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return fmt.Errorf("build notifications for tenant %d: %w", tenantID, err)
	}

	// Completion is deferred: the fan-out stage owns the terminal
	// completion whenever new records exist.
	notifyTask := notifyPayload{
		TenantID:       tenantID,
		ContactAddress: payload.ContactAddress,
		Messages:       messages,
	}
	if err := p.enqueue(ctx, TaskNotifyOrders, task.CorrelationID, notifyTask); err != nil {
		p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
		return err
	}

	return nil
}

// buildMessages derives the per-order statistics and formats the
// notification text, in storage-id order.
func (p *Pipeline) buildMessages(ctx context.Context, tenantID int64, newOrders []store.Order) ([]notify.Message, error) {
	sort.Slice(newOrders, func(i, j int) bool { return newOrders[i].ID < newOrders[j].ID })

	messages := make([]notify.Message, 0, len(newOrders))
	for _, order := range newOrders {
		digest, err := p.buildDigest(ctx, tenantID, order)
		if err != nil {
			return nil, err
		}
		messages = append(messages, notify.FormatOrder(digest))
	}
	return messages, nil
}

func (p *Pipeline) buildDigest(ctx context.Context, tenantID int64, order store.Order) (notify.OrderDigest, error) {
	digest := notify.OrderDigest{Order: order}
	price := order.DiscountedPrice()

	count, amount, err := p.orders.CountAndAmountBefore(ctx, tenantID, order.ID, order.OccurredAt)
	if err != nil {
		return digest, err
	}
	digest.Counter = count + 1
	digest.DayAmount = amount + price

	if order.Price == 0 {
		// Zero reported price is a data-quality signal from the
		// source; keep the counter but leave the totals neutral.
		p.logger.Warn("order with zero price",
			"tenant_id", tenantID, "variant_id", order.VariantID, "line_id", order.ExternalLineID)
		digest.TodayCount = 1
	} else {
		digest.TodayCount, digest.TodayTotal, err = p.orders.VariantTotalsToday(
			ctx, tenantID, order.ID, order.VariantID, order.OccurredAt, price)
		if err != nil {
			return digest, err
		}

		yesterday := order.OccurredAt.AddDate(0, 0, -1)
		digest.YesterdayCount, digest.YesterdayTotal, err = p.orders.VariantTotalsForDay(
			ctx, tenantID, order.VariantID, yesterday)
		if err != nil {
			return digest, err
		}
	}

	stocks, err := p.stocks.StockSummary(ctx, tenantID, order.VariantID)
	if err != nil {
		return digest, err
	}
	digest.Stocks = stocks
	digest.PhotoURL = p.photos.Resolve(ctx, order.VariantID)

	return digest, nil
}

// handleUnauthorized disables the credential, notifies the tenant and
// resolves the job as failed.
func (p *Pipeline) handleUnauthorized(ctx context.Context, tenantID, contact int64, kind store.JobKind) {
	p.logger.Warn("credential rejected by marketplace",
		"tenant_id", tenantID, "kind", string(kind))

	if err := p.tenants.DisableCredential(ctx, tenantID); err != nil {
		p.logger.Error("failed to disable credential",
			"tenant_id", tenantID, "error", err)
	}
	if contact != 0 {
		p.fanout.NotifyCredentialDisabled(ctx, tenantID, contact)
	}
	p.completeFailed(ctx, tenantID, kind, marketplace.ErrUnauthorized)
}
