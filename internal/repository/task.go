package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/storage/db"
)

type SaveCheckpointParams struct {
	ID             uuid.UUID
	Cursor         *uuid.UUID
	Scanned        int64
	Updated        int64
	Skipped        int64
	FailedQuoteIDs []uuid.UUID
}

type TaskRepository interface {
	WithDB(db db.DB) TaskRepository

	// CreateOrCoalesceTask inserts a pending task for the product, or, when
	// a pending/running task already exists, bumps its target version in
	// place so later product changes coalesce into the ongoing scan.
	CreateOrCoalesceTask(ctx context.Context, productID uuid.UUID, targetVersion int64) (model.PropagationTask, error)

	GetTask(ctx context.Context, id uuid.UUID) (model.PropagationTask, error)
	ListTasksByProduct(ctx context.Context, productID uuid.UUID) ([]model.PropagationTask, error)

	// ClaimPendingTask atomically moves the oldest pending task to running
	// and returns it. Returns nil when no task is claimable.
	ClaimPendingTask(ctx context.Context) (*model.PropagationTask, error)

	// ClaimStaleRunningTask returns a running task whose lease has expired
	// or disappeared, so a new worker can reclaim it and resume from the
	// last checkpoint. Returns nil when there is none.
	ClaimStaleRunningTask(ctx context.Context) (*model.PropagationTask, error)

	// GetTaskTargetVersion re-reads the target version, which may have been
	// bumped by coalescing while the task runs.
	GetTaskTargetVersion(ctx context.Context, id uuid.UUID) (int64, error)

	SaveCheckpoint(ctx context.Context, params SaveCheckpointParams) error
	MarkTaskCompleted(ctx context.Context, id uuid.UUID) error
	MarkTaskFailed(ctx context.Context, id uuid.UUID, taskErr string, retryCount int) error

	// ResumeTask moves a failed task back to pending, keeping its
	// checkpoint and failed-quote list for the follow-up pass.
	ResumeTask(ctx context.Context, id uuid.UUID) error

	CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int64, error)
}

type taskRepository struct {
	db db.DB
}

func NewTaskRepository(db db.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r taskRepository) WithDB(db db.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, product_id, target_version, status, cursor, scanned, updated, skipped, failed_quote_ids, retry_count, error, created_at, updated_at, started_at, completed_at`

func (r taskRepository) CreateOrCoalesceTask(ctx context.Context, productID uuid.UUID, targetVersion int64) (model.PropagationTask, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return model.PropagationTask{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO propagation_tasks (id, product_id, target_version, status, created_at, updated_at)
		VALUES (@id, @product_id, @target_version, 'pending', NOW(), NOW())
		ON CONFLICT (product_id) WHERE status IN ('pending', 'running')
		DO UPDATE SET
			target_version = GREATEST(propagation_tasks.target_version, EXCLUDED.target_version),
			updated_at     = NOW()
		RETURNING `+taskColumns+`;
	`, pgx.NamedArgs{
		"id":             id,
		"product_id":     productID,
		"target_version": targetVersion,
	})

	return scanTask(row)
}

func (r taskRepository) GetTask(ctx context.Context, id uuid.UUID) (model.PropagationTask, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM propagation_tasks
		WHERE id = @id;
	`, pgx.NamedArgs{"id": id})

	return scanTask(row)
}

func (r taskRepository) ListTasksByProduct(ctx context.Context, productID uuid.UUID) ([]model.PropagationTask, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM propagation_tasks
		WHERE product_id = @product_id
		ORDER BY created_at DESC;
	`, pgx.NamedArgs{"product_id": productID})
	if err != nil {
		return nil, fmt.Errorf("list tasks by product: %w", err)
	}
	defer rows.Close()

	tasks := []model.PropagationTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r taskRepository) ClaimPendingTask(ctx context.Context) (*model.PropagationTask, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE propagation_tasks
		SET
			status     = 'running',
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM propagation_tasks
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns+`;
	`)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, apperr.TaskNotFoundErr) {
			return nil, nil
		}
		return nil, err
	}

	return &task, nil
}

func (r taskRepository) ClaimStaleRunningTask(ctx context.Context) (*model.PropagationTask, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE propagation_tasks
		SET updated_at = NOW()
		WHERE id = (
			SELECT t.id
			FROM propagation_tasks t
			LEFT JOIN propagation_leases l ON l.product_id = t.product_id
			WHERE t.status = 'running'
				AND (l.product_id IS NULL OR l.expires_at < NOW())
			ORDER BY t.updated_at
			LIMIT 1
			FOR UPDATE OF t SKIP LOCKED
		)
		RETURNING `+taskColumns+`;
	`)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, apperr.TaskNotFoundErr) {
			return nil, nil
		}
		return nil, err
	}

	return &task, nil
}

func (r taskRepository) GetTaskTargetVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var targetVersion int64
	if err := r.db.QueryRow(ctx, `
		SELECT target_version
		FROM propagation_tasks
		WHERE id = @id;
	`, pgx.NamedArgs{"id": id}).Scan(&targetVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.TaskNotFoundErr
		}
		return 0, fmt.Errorf("get task target version: %w", err)
	}

	return targetVersion, nil
}

func (r taskRepository) SaveCheckpoint(ctx context.Context, params SaveCheckpointParams) error {
	failedQuoteIDs := params.FailedQuoteIDs
	if failedQuoteIDs == nil {
		failedQuoteIDs = []uuid.UUID{}
	}

	if _, err := r.db.Exec(ctx, `
		UPDATE propagation_tasks
		SET
			cursor           = @cursor,
			scanned          = @scanned,
			updated          = @updated,
			skipped          = @skipped,
			failed_quote_ids = @failed_quote_ids,
			updated_at       = NOW()
		WHERE id = @id;
	`, pgx.NamedArgs{
		"id":               params.ID,
		"cursor":           params.Cursor,
		"scanned":          params.Scanned,
		"updated":          params.Updated,
		"skipped":          params.Skipped,
		"failed_quote_ids": failedQuoteIDs,
	}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return nil
}

func (r taskRepository) MarkTaskCompleted(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE propagation_tasks
		SET
			status       = 'completed',
			error        = NULL,
			completed_at = NOW(),
			updated_at   = NOW()
		WHERE id = @id;
	`, pgx.NamedArgs{"id": id}); err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}

	return nil
}

func (r taskRepository) MarkTaskFailed(ctx context.Context, id uuid.UUID, taskErr string, retryCount int) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE propagation_tasks
		SET
			status      = 'failed',
			error       = @error,
			retry_count = @retry_count,
			updated_at  = NOW()
		WHERE id = @id;
	`, pgx.NamedArgs{
		"id":          id,
		"error":       taskErr,
		"retry_count": retryCount,
	}); err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}

	return nil
}

func (r taskRepository) ResumeTask(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE propagation_tasks
		SET
			status     = 'pending',
			error      = NULL,
			updated_at = NOW()
		WHERE id = @id AND status = 'failed';
	`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.TaskNotResumableErr
	}

	return nil
}

func (r taskRepository) CountTasksByStatus(ctx context.Context) (map[model.TaskStatus]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM propagation_tasks
		GROUP BY status;
	`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := map[model.TaskStatus]int64{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[model.TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}

	return counts, nil
}

func scanTask(row pgx.Row) (model.PropagationTask, error) {
	var (
		task   model.PropagationTask
		status string
	)

	if err := row.Scan(
		&task.ID,
		&task.ProductID,
		&task.TargetVersion,
		&status,
		&task.Cursor,
		&task.Scanned,
		&task.Updated,
		&task.Skipped,
		&task.FailedQuoteIDs,
		&task.RetryCount,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PropagationTask{}, apperr.TaskNotFoundErr
		}
		return model.PropagationTask{}, fmt.Errorf("scan propagation task: %w", err)
	}

	task.Status = model.TaskStatus(status)

	return task, nil
}
