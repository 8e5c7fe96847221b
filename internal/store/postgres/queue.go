package postgres

import (
	"context"
	"fmt"
	"time"

	"sellwatch/internal/store"

	"github.com/lib/pq"
)

// Default redelivery policy. The visibility timeout must exceed the
// slowest expected marketplace API call.
const (
	MaxAttempts       = 2
	VisibilityTimeout = 5 * time.Minute
	RetryBackoff      = 30 * time.Second
)

// Enqueue adds a task to the task_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, task store.Task) (int64, error) {
	if task.VisibleAfter.IsZero() {
		task.VisibleAfter = time.Now()
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = MaxAttempts
	}
	if len(task.Payload) == 0 {
		task.Payload = []byte("{}")
	}

	query := `
		INSERT INTO task_queue (name, correlation_id, payload, max_attempts, visible_after)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	executor := s.getExecutor(tx)

	var id int64
	err := executor.QueryRowContext(ctx, query,
		task.Name,
		task.CorrelationID,
		task.Payload,
		task.MaxAttempts,
		task.VisibleAfter,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue task %s: %w", task.Name, err)
	}

	return id, nil
}

// DequeueBatch claims up to 'limit' visible tasks atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Returns nil if none are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.Task, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, name, correlation_id, payload, attempt, max_attempts, visible_after, created_at
		FROM task_queue
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var tasks []store.Task
	var taskIDs []int64

	for rows.Next() {
		var t store.Task
		if err := rows.Scan(&t.ID, &t.Name, &t.CorrelationID, &t.Payload, &t.Attempt, &t.MaxAttempts, &t.VisibleAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		t.Attempt++
		tasks = append(tasks, t)
		taskIDs = append(taskIDs, t.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	if len(tasks) == 0 {
		return nil, nil
	}

	// Claim the batch: bump the attempt counter and push visibility
	// past the timeout so no other worker sees these rows.
	_, err = tx.ExecContext(ctx, `
		UPDATE task_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(taskIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return tasks, nil
}

// Complete removes a finished task from the queue.
func (s *Store) Complete(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM task_queue WHERE id = $1", taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task %d: %w", taskID, err)
	}
	return nil
}

// Fail reschedules the task with backoff, or deletes it once attempts
// are exhausted. Exhausted tasks are dropped rather than parked: the
// next scheduled sweep starts a fresh pipeline anyway.
func (s *Store) Fail(ctx context.Context, taskID int64, errMsg string) error {
	query := `
		WITH exhausted AS (
			DELETE FROM task_queue
			WHERE id = $1 AND attempt >= max_attempts
			RETURNING id
		)
		UPDATE task_queue
		SET visible_after = NOW() + ($2 * INTERVAL '1 second')
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM exhausted)
	`

	_, err := s.db.ExecContext(ctx, query, taskID, RetryBackoff.Seconds())
	if err != nil {
		return fmt.Errorf("failed to fail task %d (%s): %w", taskID, errMsg, err)
	}
	return nil
}

// SetVisibleAfter extends the visibility timeout (heartbeat).
func (s *Store) SetVisibleAfter(ctx context.Context, taskID int64, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE task_queue SET visible_after = $1 WHERE id = $2",
		visibleAfter, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to extend visibility for task %d: %w", taskID, err)
	}
	return nil
}

// Count tracks count of items in queue.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_queue").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}
