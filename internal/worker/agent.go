// Package worker contains the pull-loop that executes pipeline tasks
// claimed from the durable queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sellwatch/internal/logger"
	"sellwatch/internal/observability"
	"sellwatch/internal/pipeline"
	"sellwatch/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between visibility heartbeats (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
	TaskTimeout         time.Duration // Hard deadline per task (default: 10m)
}

// Agent runs the pull-loop: claim a batch of tasks, dispatch each to
// its pipeline handler, acknowledge or fail it on the queue.
type Agent struct {
	queue    store.Queue
	handlers map[string]pipeline.Handler
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger
	config   AgentConfig
	done     chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, handlers map[string]pipeline.Handler, metrics *observability.PipelineMetrics, log *slog.Logger, config AgentConfig) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}
	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 10 * time.Minute
	}

	return &Agent{
		queue:    q,
		handlers: handlers,
		metrics:  metrics,
		logger:   log,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is
// cancelled. On SIGTERM it stops dequeuing new work and lets in-flight
// tasks finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"agent_id", a.config.ID, "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, draining running tasks")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			tasks, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				a.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(tasks) == 0 {
				// Empty queue - increase backoff (exponential, capped)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval

			for _, task := range tasks {
				sem <- struct{}{}

				wg.Add(1)
				go func(task store.Task) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processTask(ctx, task)
				}(task)
			}

			if len(tasks) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processTask runs one claimed task to completion and settles it on
// the queue. Handler errors are reported to the queue so its bounded
// redelivery policy applies; panics are contained the same way.
func (a *Agent) processTask(ctx context.Context, task store.Task) {
	handler, ok := a.handlers[task.Name]
	if !ok {
		a.logger.Error("unknown task", "task", task.Name, "task_id", task.ID)
		a.queue.Fail(context.Background(), task.ID, fmt.Sprintf("no handler for task %s", task.Name))
		a.metrics.TaskHandled(task.Name, "unknown")
		return
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(ctx, "process_task",
		trace.WithAttributes(
			attribute.String("task.name", task.Name),
			attribute.Int64("task.id", task.ID),
			attribute.String("task.correlation_id", task.CorrelationID.String()),
			attribute.Int("task.attempt", task.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	taskCtx := logger.WithCorrelationID(spanCtx, task.CorrelationID.String())
	log := logger.FromContext(taskCtx, a.logger)
	log.Info("processing task", "task", task.Name, "task_id", task.ID, "attempt", task.Attempt)

	// The task runs on its own deadline, detached from the poll
	// context, so a SIGTERM drains instead of aborting mid-flight.
	execCtx, cancel := context.WithTimeout(logger.WithCorrelationID(context.Background(), task.CorrelationID.String()), a.config.TaskTimeout)
	defer cancel()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, task.ID)

	err := a.runHandler(execCtx, handler, task)

	if err != nil {
		span.RecordError(err)
		log.Error("task failed", "task", task.Name, "task_id", task.ID, "error", err)
		if failErr := a.queue.Fail(context.Background(), task.ID, err.Error()); failErr != nil {
			log.Error("failed to settle task failure", "task_id", task.ID, "error", failErr)
		}
		a.metrics.TaskHandled(task.Name, "failure")
		return
	}

	if ackErr := a.queue.Complete(context.Background(), task.ID); ackErr != nil {
		log.Error("failed to acknowledge task", "task_id", task.ID, "error", ackErr)
	}
	a.metrics.TaskHandled(task.Name, "success")
}

// runHandler invokes the handler, converting a panic into an error so
// a broken payload cannot take the worker down.
func (a *Agent) runHandler(ctx context.Context, handler pipeline.Handler, task store.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return handler(ctx, task)
}

// runHeartbeat refreshes the visibility timeout periodically while a
// task is executing. This prevents long-running tasks from being
// claimed by another worker.
func (a *Agent) runHeartbeat(ctx context.Context, taskID int64) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.SetVisibleAfter(ctx, taskID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}
