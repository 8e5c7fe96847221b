// Package scheduler fires the periodic sweep tasks onto the durable
// queue. It does no per-tenant work itself: the sweeps filter and
// dispatch within their own task, so any worker may pick them up.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"sellwatch/internal/pipeline"
	"sellwatch/internal/store"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Cron expressions for the sweep cadence.
const (
	NotifySchedule  = "*/10 * * * *" // every 10 minutes
	StocksSchedule  = "*/30 * * * *" // every 30 minutes
	CleanupSchedule = "0 2 * * *"    // daily at 02:00
)

type Scheduler struct {
	cron   *cron.Cron
	queue  store.Queue
	logger *slog.Logger
}

func New(queue store.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		queue:  queue,
		logger: logger,
	}
}

// Register installs the three sweep entries.
func (s *Scheduler) Register() error {
	entries := []struct {
		spec string
		task string
	}{
		{NotifySchedule, pipeline.TaskSweepNotify},
		{StocksSchedule, pipeline.TaskSweepStocks},
		{CleanupSchedule, pipeline.TaskSweepCleanup},
	}

	for _, e := range entries {
		task := e.task
		if _, err := s.cron.AddFunc(e.spec, func() { s.fire(task) }); err != nil {
			return fmt.Errorf("failed to register %s: %w", task, err)
		}
	}
	return nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the cron loop and waits for a firing entry to return.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) fire(taskName string) {
	ctx := context.Background()
	_, err := s.queue.Enqueue(ctx, nil, store.Task{
		Name:          taskName,
		CorrelationID: uuid.New(),
	})
	if err != nil {
		s.logger.Error("failed to enqueue sweep", "task", taskName, "error", err)
		return
	}
	s.logger.Info("sweep enqueued", "task", taskName)
}
