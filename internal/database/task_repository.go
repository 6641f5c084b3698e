package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/bookcrawl/internal/domain"
)

var (
	// ErrTaskNotFound means no task exists with the given ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotPending means a pending-only transition was attempted on
	// a task that already left the pending state.
	ErrTaskNotPending = errors.New("task is not pending")
)

// TaskRepository handles database operations for crawl tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO crawl_tasks (id, type, target_site, params, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		task.ID,
		task.Type,
		task.TargetSite,
		task.Params,
		task.Priority,
		task.Status,
	).Scan(&task.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	query := `
		SELECT id, type, target_site, params, priority, status,
		       created_at, started_at, ended_at, error_message
		FROM crawl_tasks
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &task, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

// FetchPending returns pending tasks in dispatch order: highest
// priority first, oldest first within a priority.
func (r *TaskRepository) FetchPending(ctx context.Context, limit int) ([]*domain.Task, error) {
	var tasks []*domain.Task
	query := `
		SELECT id, type, target_site, params, priority, status,
		       created_at, started_at, ended_at, error_message
		FROM crawl_tasks
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT $1
	`

	err := r.db.SelectContext(ctx, &tasks, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}

	return tasks, nil
}

// MarkRunning transitions a pending task to running. Returns
// ErrTaskNotPending if the task was cancelled or picked up elsewhere
// in the meantime.
func (r *TaskRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE crawl_tasks
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	return requireRow(result, fmt.Errorf("%w: %s", ErrTaskNotPending, id))
}

// Finish records a terminal outcome for a running task. The first
// writer wins: if the task already reached a terminal state the call
// is a no-op and returns false. This keeps a late task body and the
// timeout watchdog from fighting over the row.
func (r *TaskRepository) Finish(ctx context.Context, id string, status domain.TaskStatus, errorMessage string, endedAt time.Time) (bool, error) {
	query := `
		UPDATE crawl_tasks
		SET status = $2, ended_at = COALESCE(ended_at, $3), error_message = $4
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, id, status, endedAt, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to finish task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to finish task: %w", err)
	}
	return n > 0, nil
}

// Cancel moves a pending task to cancelled. Running tasks cannot be
// cancelled; their session still holds them.
func (r *TaskRepository) Cancel(ctx context.Context, id string, endedAt time.Time) error {
	query := `
		UPDATE crawl_tasks
		SET status = 'cancelled', ended_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id, endedAt)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return requireRow(result, fmt.Errorf("%w: %s", ErrTaskNotPending, id))
}

// RetryFailed resets all failed tasks to pending and returns how many
// were reset.
func (r *TaskRepository) RetryFailed(ctx context.Context) (int64, error) {
	query := `
		UPDATE crawl_tasks
		SET status = 'pending', started_at = NULL, ended_at = NULL, error_message = ''
		WHERE status = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed tasks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed tasks: %w", err)
	}
	return n, nil
}

// List retrieves tasks with optional status filtering.
func (r *TaskRepository) List(ctx context.Context, status string, limit, offset int) ([]*domain.Task, error) {
	var tasks []*domain.Task
	var query string
	var args []any

	if status != "" {
		query = `
			SELECT id, type, target_site, params, priority, status,
			       created_at, started_at, ended_at, error_message
			FROM crawl_tasks
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`
		args = []any{status, limit, offset}
	} else {
		query = `
			SELECT id, type, target_site, params, priority, status,
			       created_at, started_at, ended_at, error_message
			FROM crawl_tasks
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`
		args = []any{limit, offset}
	}

	err := r.db.SelectContext(ctx, &tasks, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}

	return tasks, nil
}

// TaskStat is one row of the per-site queue breakdown.
type TaskStat struct {
	TargetSite string `db:"target_site" json:"target_site"`
	Status     string `db:"status" json:"status"`
	Count      int    `db:"count" json:"count"`
}

// StatsBySite returns task counts grouped by site and status.
func (r *TaskRepository) StatsBySite(ctx context.Context) ([]TaskStat, error) {
	var stats []TaskStat
	query := `
		SELECT target_site, status, COUNT(*) AS count
		FROM crawl_tasks
		GROUP BY target_site, status
		ORDER BY target_site, status
	`

	err := r.db.SelectContext(ctx, &stats, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get task stats: %w", err)
	}

	if stats == nil {
		stats = []TaskStat{}
	}

	return stats, nil
}

// CleanupOld deletes terminal tasks that ended before the cutoff.
func (r *TaskRepository) CleanupOld(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM crawl_tasks
		WHERE status IN ('completed', 'failed', 'skipped', 'cancelled')
		  AND ended_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tasks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tasks: %w", err)
	}
	return n, nil
}
