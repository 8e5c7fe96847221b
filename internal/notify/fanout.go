package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// One message per recipient every few seconds, independent of the
	// global delivery rate, per the chat platform's throughput policy.
	defaultSendInterval = 5 * time.Second

	// Idle limiters are evicted so the per-recipient map stays bounded.
	limiterCacheSize = 4096
	limiterIdleTTL   = 30 * time.Minute
)

// UnreachableMarker records that the primary contact refused delivery.
type UnreachableMarker interface {
	MarkUnreachable(ctx context.Context, contactAddress int64) error
}

// AnalyticsSink records delivery outcomes. Optional, nil = disabled;
// all calls are fire-and-forget.
type AnalyticsSink interface {
	DeliveryOutcome(ctx context.Context, tenantID int64, outcome string)
}

// Fanout delivers a batch of messages to the tenant's primary contact
// plus delegated staff. Each recipient is isolated: one failure never
// aborts the others, and only a refusal by the primary contact
// triggers the unreachable side effect.
type Fanout struct {
	sender    ChatSender
	marker    UnreachableMarker
	analytics AnalyticsSink
	logger    *slog.Logger
	limiters  *lru.LRU[int64, *rate.Limiter]
	interval  time.Duration
}

func NewFanout(sender ChatSender, marker UnreachableMarker, logger *slog.Logger) *Fanout {
	return &Fanout{
		sender:   sender,
		marker:   marker,
		logger:   logger,
		limiters: lru.NewLRU[int64, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
		interval: defaultSendInterval,
	}
}

// WithAnalytics attaches a delivery analytics sink.
func (f *Fanout) WithAnalytics(sink AnalyticsSink) *Fanout {
	f.analytics = sink
	return f
}

// WithSendInterval overrides the per-recipient pacing. Used in tests.
func (f *Fanout) WithSendInterval(d time.Duration) *Fanout {
	f.interval = d
	return f
}

// Result summarizes one fan-out run.
type Result struct {
	PrimaryDelivered bool
	StaffDelivered   int
	StaffFailed      int
}

// Deliver sends every message to the primary contact and all staff
// contacts. It returns an error only when the context is cancelled;
// per-recipient delivery failures are logged and absorbed, because
// partial staff failure must not fail the pipeline.
func (f *Fanout) Deliver(ctx context.Context, tenantID, primary int64, staff []int64, messages []Message) (Result, error) {
	var res Result

	primaryErr := f.deliverTo(ctx, primary, messages)
	switch {
	case primaryErr == nil:
		res.PrimaryDelivered = true
		f.record(ctx, tenantID, "delivered")
	case errors.Is(primaryErr, ErrRecipientUnreachable):
		f.logger.Warn("primary contact unreachable, marking tenant",
			"tenant_id", tenantID, "contact", primary)
		if err := f.marker.MarkUnreachable(ctx, primary); err != nil {
			f.logger.Error("failed to mark contact unreachable",
				"contact", primary, "error", err)
		}
		f.record(ctx, tenantID, "unreachable")
	case ctx.Err() != nil:
		return res, ctx.Err()
	default:
		f.logger.Error("primary delivery failed",
			"tenant_id", tenantID, "contact", primary, "error", primaryErr)
		f.record(ctx, tenantID, "failed")
	}

	for _, contact := range staff {
		err := f.deliverTo(ctx, contact, messages)
		if err == nil {
			res.StaffDelivered++
			continue
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.StaffFailed++
		// Staff refusals never touch the tenant entity.
		f.logger.Warn("staff delivery failed",
			"tenant_id", tenantID, "contact", contact, "error", err)
	}

	return res, nil
}

// NotifyCredentialDisabled tells the primary contact that the
// marketplace rejected their token.
func (f *Fanout) NotifyCredentialDisabled(ctx context.Context, tenantID, primary int64) {
	msg := Message{Text: credentialDisabledText}
	if err := f.deliverTo(ctx, primary, []Message{msg}); err != nil {
		if errors.Is(err, ErrRecipientUnreachable) {
			if markErr := f.marker.MarkUnreachable(ctx, primary); markErr != nil {
				f.logger.Error("failed to mark contact unreachable",
					"contact", primary, "error", markErr)
			}
			return
		}
		f.logger.Error("credential notice delivery failed",
			"tenant_id", tenantID, "contact", primary, "error", err)
	}
}

func (f *Fanout) deliverTo(ctx context.Context, contact int64, messages []Message) error {
	limiter := f.limiterFor(contact)
	for _, msg := range messages {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := f.sender.Send(ctx, contact, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fanout) limiterFor(contact int64) *rate.Limiter {
	if limiter, ok := f.limiters.Get(contact); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(f.interval), 1)
	f.limiters.Add(contact, limiter)
	return limiter
}

func (f *Fanout) record(ctx context.Context, tenantID int64, outcome string) {
	if f.analytics != nil {
		f.analytics.DeliveryOutcome(ctx, tenantID, outcome)
	}
}
