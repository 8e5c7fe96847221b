// Package pipeline contains the chained tasks that pull marketplace
// records, persist them and fan out notifications.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sellwatch/internal/notify"
	"sellwatch/internal/observability"
	"sellwatch/internal/store"
	"sellwatch/internal/taskctl"

	"github.com/google/uuid"
)

// Task names on the durable queue.
const (
	TaskFetchOrders  = "fetch_orders"
	TaskNotifyOrders = "notify_orders"
	TaskPreload      = "preload"
	TaskLoadStocks   = "load_stocks"
	TaskSweepNotify  = "sweep_notify"
	TaskSweepStocks  = "sweep_stocks"
	TaskSweepCleanup = "sweep_cleanup"
)

const (
	fetchWindow   = 24 * time.Hour
	preloadWindow = 90 * 24 * time.Hour

	jobRetention  = 7 * 24 * time.Hour
	jobMaxRuntime = 2 * time.Hour
)

// fetchPayload drives the fetch stage of one tenant's notify pipeline.
type fetchPayload struct {
	TenantID       int64  `json:"tenant_id"`
	Token          string `json:"token"`
	ContactAddress int64  `json:"contact_address"`
}

// notifyPayload carries the formatted messages to the fan-out stage.
type notifyPayload struct {
	TenantID       int64            `json:"tenant_id"`
	ContactAddress int64            `json:"contact_address"`
	Messages       []notify.Message `json:"messages"`
}

// preloadPayload drives the on-demand historical backfill.
type preloadPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// MarketClient is the marketplace statistics API contract consumed by
// the pipeline.
type MarketClient interface {
	GetOrders(ctx context.Context, token string, tenantID int64, since time.Time) ([]store.Order, error)
	GetStocks(ctx context.Context, token string, tenantID int64) ([]store.Stock, error)
}

// PhotoResolver locates a product image URL for a variant, "" if none.
type PhotoResolver interface {
	Resolve(ctx context.Context, variantID int64) string
}

// Deliverer is the notification fan-out contract.
type Deliverer interface {
	Deliver(ctx context.Context, tenantID, primary int64, staff []int64, messages []notify.Message) (notify.Result, error)
	NotifyCredentialDisabled(ctx context.Context, tenantID, primary int64)
}

// Pipeline wires the task handlers to their collaborators.
type Pipeline struct {
	control *taskctl.Controller
	orders  store.OrderStore
	stocks  store.StockStore
	tenants store.TenantStore
	queue   store.Queue
	market  MarketClient
	photos  PhotoResolver
	fanout  Deliverer
	metrics *observability.PipelineMetrics
	logger  *slog.Logger
}

func New(
	control *taskctl.Controller,
	orders store.OrderStore,
	stocks store.StockStore,
	tenants store.TenantStore,
	queue store.Queue,
	market MarketClient,
	photos PhotoResolver,
	fanout Deliverer,
	metrics *observability.PipelineMetrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		control: control,
		orders:  orders,
		stocks:  stocks,
		tenants: tenants,
		queue:   queue,
		market:  market,
		photos:  photos,
		fanout:  fanout,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler executes one dequeued task. A non-nil error hands the task
// back to the queue's redelivery policy.
type Handler func(ctx context.Context, task store.Task) error

// Handlers maps task names to their handlers.
func (p *Pipeline) Handlers() map[string]Handler {
	return map[string]Handler{
		TaskFetchOrders:  p.HandleFetchOrders,
		TaskNotifyOrders: p.HandleNotifyOrders,
		TaskPreload:      p.HandlePreload,
		TaskLoadStocks:   p.HandleLoadStocks,
		TaskSweepNotify:  p.HandleSweepNotify,
		TaskSweepStocks:  p.HandleSweepStocks,
		TaskSweepCleanup: p.HandleSweepCleanup,
	}
}

// EnqueuePreload schedules the on-demand historical backfill for one
// tenant. Used by the CLI, which shares the queue but not the rest of
// the pipeline wiring.
func EnqueuePreload(ctx context.Context, queue store.Queue, tenantID int64) (int64, error) {
	payload, err := json.Marshal(preloadPayload{TenantID: tenantID})
	if err != nil {
		return 0, err
	}
	return queue.Enqueue(ctx, nil, store.Task{
		Name:          TaskPreload,
		CorrelationID: uuid.New(),
		Payload:       payload,
	})
}

func (p *Pipeline) enqueue(ctx context.Context, name string, correlationID uuid.UUID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	_, err = p.queue.Enqueue(ctx, nil, store.Task{
		Name:          name,
		CorrelationID: correlationID,
		Payload:       raw,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// completeFailed resolves the registry job as failed with a
// human-readable reason, before the error is handed back to the queue.
func (p *Pipeline) completeFailed(ctx context.Context, tenantID int64, kind store.JobKind, cause error) {
	msg := cause.Error()
	if _, err := p.control.Complete(ctx, tenantID, kind, false, &msg); err != nil {
		p.logger.Error("failed to record job failure",
			"tenant_id", tenantID, "kind", string(kind), "error", err)
	}
	p.metrics.JobCompleted(string(kind), false)
}

func (p *Pipeline) completeOK(ctx context.Context, tenantID int64, kind store.JobKind) {
	if _, err := p.control.Complete(ctx, tenantID, kind, true, nil); err != nil {
		p.logger.Error("failed to record job completion",
			"tenant_id", tenantID, "kind", string(kind), "error", err)
	}
	p.metrics.JobCompleted(string(kind), true)
}
