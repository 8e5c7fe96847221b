// Package analytics records delivery outcomes in Redis for the ops
// dashboards. Best-effort: a sink failure never affects the pipeline.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const retention = 30 * 24 * time.Hour

type RedisSink struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisSink(client *redis.Client, logger *slog.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger}
}

// DeliveryOutcome increments the per-tenant per-day counter for one
// delivery outcome ("delivered", "failed", "unreachable").
func (s *RedisSink) DeliveryOutcome(ctx context.Context, tenantID int64, outcome string) {
	key := buildKey(tenantID, outcome, time.Now())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, retention)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("analytics write failed", "key", key, "error", err)
	}
}

func buildKey(tenantID int64, outcome string, t time.Time) string {
	return fmt.Sprintf("sw:delivery:%d:%s:%s", tenantID, outcome, t.UTC().Format("20060102"))
}
