package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"sellwatch/internal/marketplace"
	"sellwatch/internal/notify"
	"sellwatch/internal/observability"
	"sellwatch/internal/store"
	"sellwatch/internal/taskctl"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completion records one terminal job transition.
type completion struct {
	tenantID int64
	kind     store.JobKind
	success  bool
}

type fakeRegistry struct {
	startResult bool
	startCalls  int
	completions []completion
	running     []int64
}

func (f *fakeRegistry) StartJob(ctx context.Context, tenantID int64, kind store.JobKind, conflictSet []store.JobKind, correlationID *string) (bool, error) {
	f.startCalls++
	return f.startResult, nil
}

func (f *fakeRegistry) CompleteJob(ctx context.Context, tenantID int64, kind store.JobKind, success bool, errorMessage *string) (bool, error) {
	f.completions = append(f.completions, completion{tenantID, kind, success})
	return true, nil
}

func (f *fakeRegistry) RunningTenants(ctx context.Context, kinds []store.JobKind) ([]int64, error) {
	return f.running, nil
}

func (f *fakeRegistry) RecoverOrphans(ctx context.Context, reason string) (int64, error) {
	return 0, nil
}

func (f *fakeRegistry) FailStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRegistry) DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRegistry) ActiveJobs(ctx context.Context, tenantID int64) ([]store.Job, error) {
	return nil, nil
}

type fakeOrders struct {
	inserted []store.Order
	err      error
}

func (f *fakeOrders) BulkUpsertOrders(ctx context.Context, orders []store.Order) ([]store.Order, error) {
	return f.inserted, f.err
}

func (f *fakeOrders) CountAndAmountBefore(ctx context.Context, tenantID, orderID int64, day time.Time) (int64, int64, error) {
	return 2, 4000, nil
}

func (f *fakeOrders) VariantTotalsToday(ctx context.Context, tenantID, orderID, variantID int64, day time.Time, runningTotal int64) (int64, int64, error) {
	return 1, runningTotal, nil
}

func (f *fakeOrders) VariantTotalsForDay(ctx context.Context, tenantID, variantID int64, day time.Time) (int64, int64, error) {
	return 0, 0, nil
}

type fakeStocks struct {
	upserted int64
}

func (f *fakeStocks) BulkUpsertStocks(ctx context.Context, stocks []store.Stock) (int64, error) {
	f.upserted += int64(len(stocks))
	return int64(len(stocks)), nil
}

func (f *fakeStocks) StockSummary(ctx context.Context, tenantID, variantID int64) ([]store.WarehouseQuantity, error) {
	return []store.WarehouseQuantity{{Warehouse: "Коледино", Quantity: 5}}, nil
}

type fakeTenants struct {
	creds    []store.Credential
	cred     *store.Credential
	staff    []store.Staff
	disabled []int64
}

func (f *fakeTenants) ActiveCredentials(ctx context.Context) ([]store.Credential, error) {
	return f.creds, nil
}

func (f *fakeTenants) ActiveCredential(ctx context.Context, tenantID int64) (*store.Credential, error) {
	return f.cred, nil
}

func (f *fakeTenants) DisableCredential(ctx context.Context, tenantID int64) error {
	f.disabled = append(f.disabled, tenantID)
	return nil
}

func (f *fakeTenants) MarkUnreachable(ctx context.Context, contactAddress int64) error {
	return nil
}

func (f *fakeTenants) ActiveStaff(ctx context.Context, tenantID int64) ([]store.Staff, error) {
	return f.staff, nil
}

type enqueued struct {
	name    string
	payload []byte
}

type fakeQueue struct {
	tasks  []enqueued
	nextID int64
}

func (f *fakeQueue) Enqueue(ctx context.Context, tx store.DBTransaction, task store.Task) (int64, error) {
	f.tasks = append(f.tasks, enqueued{task.Name, task.Payload})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeQueue) DequeueBatch(ctx context.Context, limit int) ([]store.Task, error) {
	return nil, nil
}

func (f *fakeQueue) Complete(ctx context.Context, taskID int64) error { return nil }

func (f *fakeQueue) Fail(ctx context.Context, taskID int64, errMsg string) error { return nil }

func (f *fakeQueue) SetVisibleAfter(ctx context.Context, taskID int64, visibleAfter time.Time) error {
	return nil
}

func (f *fakeQueue) Count(ctx context.Context) (int64, error) { return 0, nil }

type fakeMarket struct {
	orders     []store.Order
	stocks     []store.Stock
	ordersErr  error
	stocksErr  error
	orderCalls int
}

func (f *fakeMarket) GetOrders(ctx context.Context, token string, tenantID int64, since time.Time) ([]store.Order, error) {
	f.orderCalls++
	return f.orders, f.ordersErr
}

func (f *fakeMarket) GetStocks(ctx context.Context, token string, tenantID int64) ([]store.Stock, error) {
	return f.stocks, f.stocksErr
}

type fakePhotos struct{}

func (fakePhotos) Resolve(ctx context.Context, variantID int64) string { return "" }

type fakeFanout struct {
	delivered      [][]notify.Message
	err            error
	disabledNotice int
}

func (f *fakeFanout) Deliver(ctx context.Context, tenantID, primary int64, staff []int64, messages []notify.Message) (notify.Result, error) {
	if f.err != nil {
		return notify.Result{}, f.err
	}
	f.delivered = append(f.delivered, messages)
	return notify.Result{PrimaryDelivered: true, StaffDelivered: len(staff)}, nil
}

func (f *fakeFanout) NotifyCredentialDisabled(ctx context.Context, tenantID, primary int64) {
	f.disabledNotice++
}

type fixture struct {
	pipeline *Pipeline
	registry *fakeRegistry
	orders   *fakeOrders
	stocks   *fakeStocks
	tenants  *fakeTenants
	queue    *fakeQueue
	market   *fakeMarket
	fanout   *fakeFanout
}

func newFixture() *fixture {
	f := &fixture{
		registry: &fakeRegistry{startResult: true},
		orders:   &fakeOrders{},
		stocks:   &fakeStocks{},
		tenants:  &fakeTenants{},
		queue:    &fakeQueue{},
		market:   &fakeMarket{},
		fanout:   &fakeFanout{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	control := taskctl.New(f.registry, logger)
	metrics := observability.NewPipelineMetrics(prometheus.NewRegistry())

	f.pipeline = New(control, f.orders, f.stocks, f.tenants, f.queue,
		f.market, fakePhotos{}, f.fanout, metrics, logger)
	return f
}

func fetchTask(tenantID int64, attempt int) store.Task {
	payload, _ := json.Marshal(fetchPayload{TenantID: tenantID, Token: "tok", ContactAddress: 100})
	return store.Task{ID: 1, Name: TaskFetchOrders, CorrelationID: uuid.New(), Payload: payload, Attempt: attempt}
}

func TestHandleFetchOrders_NoNewOrdersCompletesJob(t *testing.T) {
	f := newFixture()
	f.market.orders = []store.Order{{TenantID: 7, ExternalLineID: "srid-1"}}
	f.orders.inserted = nil // all duplicates

	err := f.pipeline.HandleFetchOrders(context.Background(), fetchTask(7, 1))
	require.NoError(t, err)

	require.Len(t, f.registry.completions, 1)
	assert.Equal(t, completion{7, store.JobKindNotify, true}, f.registry.completions[0])
	assert.Empty(t, f.queue.tasks, "nothing to notify, nothing enqueued")
}

func TestHandleFetchOrders_NewOrdersDeferCompletionToFanout(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.orders.inserted = []store.Order{
		{ID: 11, TenantID: 7, OccurredAt: now, VariantID: 123, Price: 2500, DiscountPercent: 20},
		{ID: 10, TenantID: 7, OccurredAt: now, VariantID: 456, Price: 1000},
	}

	err := f.pipeline.HandleFetchOrders(context.Background(), fetchTask(7, 1))
	require.NoError(t, err)

	// The job stays running until the fan-out stage resolves it.
	assert.Empty(t, f.registry.completions)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, TaskNotifyOrders, f.queue.tasks[0].name)

	var payload notifyPayload
	require.NoError(t, json.Unmarshal(f.queue.tasks[0].payload, &payload))
	assert.Equal(t, int64(7), payload.TenantID)
	assert.Len(t, payload.Messages, 2)
	// Storage-id order, not arrival order.
	assert.Contains(t, payload.Messages[0].Text, "№3")
}

func TestHandleFetchOrders_UnauthorizedDisablesCredential(t *testing.T) {
	f := newFixture()
	f.market.ordersErr = marketplace.ErrUnauthorized

	err := f.pipeline.HandleFetchOrders(context.Background(), fetchTask(7, 1))
	require.NoError(t, err, "credential rejection is never retried")

	assert.Equal(t, []int64{7}, f.tenants.disabled)
	assert.Equal(t, 1, f.fanout.disabledNotice)
	require.Len(t, f.registry.completions, 1)
	assert.False(t, f.registry.completions[0].success)
}

func TestHandleFetchOrders_TransientErrorFailsJobAndRetries(t *testing.T) {
	f := newFixture()
	f.market.ordersErr = errors.New("gateway timeout")

	err := f.pipeline.HandleFetchOrders(context.Background(), fetchTask(7, 1))
	require.Error(t, err, "transient errors go back to the queue")

	require.Len(t, f.registry.completions, 1)
	assert.Equal(t, completion{7, store.JobKindNotify, false}, f.registry.completions[0])
}

func TestHandleFetchOrders_RedeliveryReregisters(t *testing.T) {
	f := newFixture()
	f.registry.startResult = false // another job took the slot meanwhile

	err := f.pipeline.HandleFetchOrders(context.Background(), fetchTask(7, 2))
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.startCalls)
	assert.Equal(t, 0, f.market.orderCalls, "blocked redelivery must not touch the API")
}

func TestHandleFetchOrders_BadPayloadIsDropped(t *testing.T) {
	f := newFixture()

	err := f.pipeline.HandleFetchOrders(context.Background(), store.Task{ID: 1, Payload: []byte("not json")})
	assert.NoError(t, err, "malformed payloads must not loop on the queue")
}

func TestHandleNotifyOrders_CompletesOncePerRun(t *testing.T) {
	f := newFixture()
	f.tenants.staff = []store.Staff{
		{ContactAddress: 200, IsActive: true},
		{ContactAddress: 300, IsActive: true},
	}

	payload, _ := json.Marshal(notifyPayload{
		TenantID:       7,
		ContactAddress: 100,
		Messages:       []notify.Message{{Text: "a"}, {Text: "b"}},
	})

	err := f.pipeline.HandleNotifyOrders(context.Background(), store.Task{ID: 2, Payload: payload})
	require.NoError(t, err)

	require.Len(t, f.fanout.delivered, 1)
	require.Len(t, f.registry.completions, 1)
	assert.Equal(t, completion{7, store.JobKindNotify, true}, f.registry.completions[0])
}

func TestHandleNotifyOrders_CancelFailsJob(t *testing.T) {
	f := newFixture()
	f.fanout.err = context.Canceled

	payload, _ := json.Marshal(notifyPayload{TenantID: 7, ContactAddress: 100})
	err := f.pipeline.HandleNotifyOrders(context.Background(), store.Task{ID: 2, Payload: payload})
	require.Error(t, err)

	require.Len(t, f.registry.completions, 1)
	assert.False(t, f.registry.completions[0].success)
}

func TestHandleSweepNotify_StartsEligibleTenants(t *testing.T) {
	f := newFixture()
	f.tenants.creds = []store.Credential{
		{TenantID: 1, Token: "t1", ContactAddress: 101, IsActive: true},
		{TenantID: 2, Token: "t2", ContactAddress: 102, IsActive: true},
		{TenantID: 3, Token: "t3", ContactAddress: 103, IsActive: true},
	}
	f.registry.running = []int64{2} // tenant 2 is mid-pipeline

	err := f.pipeline.HandleSweepNotify(context.Background(), store.Task{ID: 3, CorrelationID: uuid.New()})
	require.NoError(t, err)

	require.Len(t, f.queue.tasks, 2)
	for _, task := range f.queue.tasks {
		assert.Equal(t, TaskFetchOrders, task.name)
	}

	var payload fetchPayload
	require.NoError(t, json.Unmarshal(f.queue.tasks[0].payload, &payload))
	assert.Equal(t, int64(1), payload.TenantID)
	assert.Equal(t, "t1", payload.Token)
	assert.Equal(t, int64(101), payload.ContactAddress)
}

func TestHandleSweepNotify_RaceLoserIsSkipped(t *testing.T) {
	f := newFixture()
	f.tenants.creds = []store.Credential{{TenantID: 1, Token: "t1", ContactAddress: 101, IsActive: true}}
	f.registry.startResult = false

	err := f.pipeline.HandleSweepNotify(context.Background(), store.Task{ID: 3, CorrelationID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, f.queue.tasks)
}

func TestHandleSweepStocks_EnqueuesLoadStocks(t *testing.T) {
	f := newFixture()
	f.tenants.creds = []store.Credential{{TenantID: 1, Token: "t1", ContactAddress: 101, IsActive: true}}

	err := f.pipeline.HandleSweepStocks(context.Background(), store.Task{ID: 4, CorrelationID: uuid.New()})
	require.NoError(t, err)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, TaskLoadStocks, f.queue.tasks[0].name)
}

func TestHandlePreload_NoCredentialIsNoOp(t *testing.T) {
	f := newFixture()
	f.tenants.cred = nil

	payload, _ := json.Marshal(preloadPayload{TenantID: 7})
	err := f.pipeline.HandlePreload(context.Background(), store.Task{ID: 5, CorrelationID: uuid.New(), Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, 0, f.registry.startCalls)
}

func TestHandlePreload_IngestsOrdersAndStocks(t *testing.T) {
	f := newFixture()
	f.tenants.cred = &store.Credential{TenantID: 7, Token: "tok", ContactAddress: 100, IsActive: true}
	f.market.orders = []store.Order{{TenantID: 7}}
	f.market.stocks = []store.Stock{{TenantID: 7}, {TenantID: 7}}

	payload, _ := json.Marshal(preloadPayload{TenantID: 7})
	err := f.pipeline.HandlePreload(context.Background(), store.Task{ID: 5, CorrelationID: uuid.New(), Payload: payload})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.stocks.upserted)
	require.Len(t, f.registry.completions, 1)
	assert.Equal(t, completion{7, store.JobKindPreload, true}, f.registry.completions[0])
	assert.Empty(t, f.queue.tasks, "backfilled rows are not notified")
}

func TestHandlePreload_BlockedByRunningJob(t *testing.T) {
	f := newFixture()
	f.tenants.cred = &store.Credential{TenantID: 7, Token: "tok", IsActive: true}
	f.registry.startResult = false

	payload, _ := json.Marshal(preloadPayload{TenantID: 7})
	err := f.pipeline.HandlePreload(context.Background(), store.Task{ID: 5, CorrelationID: uuid.New(), Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, 0, f.market.orderCalls)
	assert.Empty(t, f.registry.completions)
}

func TestHandleLoadStocks_CompletesOwnJob(t *testing.T) {
	f := newFixture()
	f.market.stocks = []store.Stock{{TenantID: 7}}

	err := f.pipeline.HandleLoadStocks(context.Background(), fetchTask(7, 1))
	require.NoError(t, err)

	require.Len(t, f.registry.completions, 1)
	assert.Equal(t, completion{7, store.JobKindLoadStocks, true}, f.registry.completions[0])
}

func TestHandleSweepCleanup(t *testing.T) {
	f := newFixture()
	err := f.pipeline.HandleSweepCleanup(context.Background(), store.Task{ID: 6})
	assert.NoError(t, err)
}
