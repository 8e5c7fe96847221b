package pipeline

import (
	"context"

	"sellwatch/internal/store"
)

// HandleSweepNotify enumerates tenants with a usable credential,
// filters out those with a conflicting running job, registers a
// pipeline job for each winner and enqueues its fetch stage. Tenants
// that lose the start race are skipped this cycle, not retried.
func (p *Pipeline) HandleSweepNotify(ctx context.Context, task store.Task) error {
	creds, err := p.tenants.ActiveCredentials(ctx)
	if err != nil {
		return err
	}

	tenantIDs := make([]int64, len(creds))
	credByTenant := make(map[int64]store.Credential, len(creds))
	for i, c := range creds {
		tenantIDs[i] = c.TenantID
		credByTenant[c.TenantID] = c
	}

	eligible, err := p.control.FilterEligible(ctx, tenantIDs, store.JobKindNotify)
	if err != nil {
		return err
	}

	corrID := task.CorrelationID.String()
	started := 0
	for _, tenantID := range eligible {
		ok, err := p.control.Start(ctx, tenantID, store.JobKindNotify, &corrID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		cred := credByTenant[tenantID]
		payload := fetchPayload{
			TenantID:       tenantID,
			Token:          cred.Token,
			ContactAddress: cred.ContactAddress,
		}
		if err := p.enqueue(ctx, TaskFetchOrders, task.CorrelationID, payload); err != nil {
			p.completeFailed(ctx, tenantID, store.JobKindNotify, err)
			return err
		}
		started++
		p.metrics.JobStarted(string(store.JobKindNotify))
	}

	p.logger.Info("notify sweep dispatched",
		"started", started, "eligible", len(eligible), "total", len(creds))
	return nil
}

// HandleSweepStocks enqueues a stock refresh for every eligible
// tenant. Stock loading has no follow-up stage; its task completes
// the registry job itself.
func (p *Pipeline) HandleSweepStocks(ctx context.Context, task store.Task) error {
	creds, err := p.tenants.ActiveCredentials(ctx)
	if err != nil {
		return err
	}

	tenantIDs := make([]int64, len(creds))
	credByTenant := make(map[int64]store.Credential, len(creds))
	for i, c := range creds {
		tenantIDs[i] = c.TenantID
		credByTenant[c.TenantID] = c
	}

	eligible, err := p.control.FilterEligible(ctx, tenantIDs, store.JobKindLoadStocks)
	if err != nil {
		return err
	}

	corrID := task.CorrelationID.String()
	for _, tenantID := range eligible {
		ok, err := p.control.Start(ctx, tenantID, store.JobKindLoadStocks, &corrID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		cred := credByTenant[tenantID]
		payload := fetchPayload{TenantID: tenantID, Token: cred.Token, ContactAddress: cred.ContactAddress}
		if err := p.enqueue(ctx, TaskLoadStocks, task.CorrelationID, payload); err != nil {
			p.completeFailed(ctx, tenantID, store.JobKindLoadStocks, err)
			return err
		}
		p.metrics.JobStarted(string(store.JobKindLoadStocks))
	}

	return nil
}

// HandleSweepCleanup prunes terminal job rows past retention and fails
// running jobs that exceeded the maximum runtime.
func (p *Pipeline) HandleSweepCleanup(ctx context.Context, task store.Task) error {
	_, err := p.control.CleanupOld(ctx, jobRetention, jobMaxRuntime)
	return err
}
