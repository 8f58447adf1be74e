package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/config"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
)

// errStopped signals cooperative shutdown between batches; the task stays
// running with its checkpoint persisted and its lease released, so any
// worker can pick it up again.
var errStopped = errors.New("coordinator stopping")

// Coordinator owns the lifecycle of propagation tasks. Submitting a
// ChangeSet creates a durable task (or coalesces into the active one for
// that product); a pool of workers claims tasks, drives the locator and
// batch updater page by page under a per-product lease, and checkpoints
// progress after every durably applied batch.
type Coordinator struct {
	cfg     config.Propagation
	logger  *slog.Logger
	holder  string
	metrics *Metrics

	products ProductStore
	tasks    TaskStore
	guard    Guard
	locator  *Locator
	batch    *BatchUpdater

	stopChan chan struct{}
}

func NewCoordinator(
	cfg config.Propagation,
	logger *slog.Logger,
	products ProductStore,
	quotes QuoteStore,
	tasks TaskStore,
	guard Guard,
	metrics *Metrics,
) *Coordinator {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	logger = logger.With(slog.String("service", "propagation"))

	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		holder:   fmt.Sprintf("%s-%s", hostname, uuid.NewString()),
		metrics:  metrics,
		products: products,
		tasks:    tasks,
		guard:    guard,
		locator:  NewLocator(quotes, cfg.PageSize),
		batch:    NewBatchUpdater(quotes, logger, cfg.QuoteConflictRetries),
		stopChan: make(chan struct{}),
	}
}

// Submit records a detected product change as a durable propagation task.
// If a task for the product is already pending or running, the change
// coalesces into it by raising its target version; no second task is
// spawned. Duplicate deliveries of the same ChangeSet are harmless for the
// same reason.
func (c *Coordinator) Submit(ctx context.Context, change ChangeSet) (model.PropagationTask, error) {
	task, err := c.tasks.CreateOrCoalesceTask(ctx, change.ProductID, change.Snapshot.Version)
	if err != nil {
		return model.PropagationTask{}, fmt.Errorf("create or coalesce task: %w", err)
	}

	c.logger.InfoContext(ctx, "propagation task submitted",
		slog.String("task_id", task.ID.String()),
		slog.String("product_id", change.ProductID.String()),
		slog.Int64("target_version", task.TargetVersion),
		slog.Any("changed_fields", change.ChangedFields),
	)

	return task, nil
}

// Resume moves a failed task back to pending so a worker re-runs it from
// its last checkpoint, replaying its recorded failed quotes first.
func (c *Coordinator) Resume(ctx context.Context, taskID uuid.UUID) error {
	if err := c.tasks.ResumeTask(ctx, taskID); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "propagation task resumed",
		slog.String("task_id", taskID.String()))

	return nil
}

type CleanupFunc func()

// Run starts the worker pool. The returned cleanup asks workers to stop at
// their next page boundary, then force-cancels after a grace period.
func (c *Coordinator) Run(ctx context.Context) CleanupFunc {
	ctx, cancel := context.WithCancel(ctx)

	stoppedChan := make(chan struct{})
	go func() {
		defer close(stoppedChan)

		var wg sync.WaitGroup
		for range c.cfg.Workers {
			wg.Go(func() {
				c.runWorker(ctx)
			})
		}
		wg.Wait()
	}()

	return func() {
		close(c.stopChan)
		select {
		case <-stoppedChan:
		case <-time.After(5 * time.Second):
		}
		cancel()
	}
}

func (c *Coordinator) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-time.After(c.cfg.PollInterval):
			for {
				if c.stopping(ctx) {
					return
				}

				task, err := c.claimTask(ctx)
				if err != nil {
					c.logger.ErrorContext(ctx, "error claiming task", slog.Any("error", err))
					break
				}
				if task == nil {
					break
				}

				c.executeTask(ctx, *task)
			}
		}
	}
}

func (c *Coordinator) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// claimTask prefers pending tasks; with none available it reclaims a
// running task whose lease expired (crashed holder), which then resumes
// from its last durable checkpoint.
func (c *Coordinator) claimTask(ctx context.Context) (*model.PropagationTask, error) {
	task, err := c.tasks.ClaimPendingTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim pending task: %w", err)
	}
	if task != nil {
		return task, nil
	}

	task, err = c.tasks.ClaimStaleRunningTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim stale running task: %w", err)
	}

	return task, nil
}

func (c *Coordinator) executeTask(ctx context.Context, task model.PropagationTask) {
	logger := c.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("product_id", task.ProductID.String()),
	)

	acquired, err := c.guard.AcquireLease(ctx, task.ProductID, c.holder, c.cfg.LeaseTTL)
	if err != nil {
		logger.ErrorContext(ctx, "error acquiring lease", slog.Any("error", err))
		return
	}
	if !acquired {
		// A live holder is still propagating this product; its lease
		// expiry will make the task claimable again if it crashed.
		logger.InfoContext(ctx, "lease held elsewhere, leaving task")
		return
	}

	err = c.runTask(ctx, logger, task)
	switch {
	case err == nil:
		c.releaseLease(ctx, logger, task.ProductID)

	case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		// Checkpoint is durable; release so the task is immediately
		// reclaimable and leave it running.
		logger.InfoContext(ctx, "task interrupted, checkpoint preserved")
		c.releaseLease(ctx, logger, task.ProductID)

	case errors.Is(err, ErrLeaseLost):
		// Not ours to release; the new holder resumes from the last
		// durable checkpoint.
		logger.WarnContext(ctx, "lease lost, abandoning in-flight batch")

	default:
		retryCount := task.RetryCount + 1
		if markErr := c.tasks.MarkTaskFailed(ctx, task.ID, err.Error(), retryCount); markErr != nil {
			logger.ErrorContext(ctx, "error marking task failed", slog.Any("error", markErr))
		}
		c.metrics.TasksFailed.Inc()
		logger.ErrorContext(ctx, "propagation task failed",
			slog.Int("retry_count", retryCount),
			slog.Any("error", err),
		)
		c.releaseLease(ctx, logger, task.ProductID)
	}
}

func (c *Coordinator) releaseLease(ctx context.Context, logger *slog.Logger, productID uuid.UUID) {
	if err := c.guard.ReleaseLease(ctx, productID, c.holder); err != nil {
		logger.ErrorContext(ctx, "error releasing lease", slog.Any("error", err))
	}
}

func (c *Coordinator) runTask(ctx context.Context, logger *slog.Logger, task model.PropagationTask) error {
	c.metrics.TasksRunning.Inc()
	defer c.metrics.TasksRunning.Dec()

	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	leaseLost := c.startLeaseRenewal(renewCtx, logger, task.ProductID)

	snap, err := c.loadSnapshot(ctx, task.ProductID)
	if err != nil {
		return err
	}

	cursor := task.Cursor
	scanned, updated, skipped := task.Scanned, task.Updated, task.Skipped
	failed := slices.Clone(task.FailedQuoteIDs)

	commit := func() error {
		// Verify we still hold the lease before committing progress; a
		// reclaimed task's new holder owns the checkpoint now.
		select {
		case <-leaseLost:
			return ErrLeaseLost
		default:
		}

		if err := c.tasks.SaveCheckpoint(ctx, repository.SaveCheckpointParams{
			ID:             task.ID,
			Cursor:         cursor,
			Scanned:        scanned,
			Updated:        updated,
			Skipped:        skipped,
			FailedQuoteIDs: failed,
		}); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	}

	// A resumed task first replays the quotes recorded as failed by the
	// previous run, then continues scanning from the cursor.
	if len(failed) > 0 {
		res, err := c.applyWithRetry(ctx, failed, snap)
		if err != nil {
			return err
		}

		updated += res.Updated
		skipped += res.Skipped
		failed = res.FailedQuoteIDs
		c.recordBatch(res)

		if err := commit(); err != nil {
			return err
		}
	}

	for {
		// Page boundaries are the cancellation points; the previous
		// batch's checkpoint is already durable.
		if c.stopping(ctx) {
			return errStopped
		}

		// A coalesced change may have raised the target while we run;
		// refresh the snapshot so the remaining pages sync to it.
		targetVersion, err := c.tasks.GetTaskTargetVersion(ctx, task.ID)
		if err != nil {
			return err
		}
		if targetVersion > snap.Version {
			if snap, err = c.loadSnapshot(ctx, task.ProductID); err != nil {
				return err
			}
		}

		page, next, err := c.nextPageWithRetry(ctx, task.ProductID, cursor)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		res, err := c.applyWithRetry(ctx, page, snap)
		if err != nil {
			return err
		}

		scanned += int64(len(page))
		updated += res.Updated
		skipped += res.Skipped
		failed = append(failed, res.FailedQuoteIDs...)
		cursor = next
		c.recordBatch(res)

		if err := commit(); err != nil {
			return err
		}
	}

	if err := c.tasks.MarkTaskCompleted(ctx, task.ID); err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	c.metrics.TasksCompleted.Inc()

	logger.InfoContext(ctx, "propagation task completed",
		slog.Int64("scanned", scanned),
		slog.Int64("updated", updated),
		slog.Int64("skipped", skipped),
		slog.Int("failed", len(failed)),
	)

	return nil
}

// startLeaseRenewal renews the task's lease in the background. The returned
// channel closes when renewal reports the lease as lost.
func (c *Coordinator) startLeaseRenewal(ctx context.Context, logger *slog.Logger, productID uuid.UUID) <-chan struct{} {
	leaseLost := make(chan struct{})

	go func() {
		ticker := time.NewTicker(c.cfg.LeaseRenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.guard.RenewLease(ctx, productID, c.holder, c.cfg.LeaseTTL)
				if err != nil {
					// The TTL gives slack for transient renewal errors.
					logger.WarnContext(ctx, "error renewing lease", slog.Any("error", err))
					continue
				}
				if !ok {
					close(leaseLost)
					return
				}
			}
		}
	}()

	return leaseLost
}

func (c *Coordinator) loadSnapshot(ctx context.Context, productID uuid.UUID) (model.ProductSnapshot, error) {
	product, err := c.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, apperr.ProductNotFoundErr) {
			// Caller contract violation, not a runtime condition to retry.
			return model.ProductSnapshot{}, Terminal(err)
		}
		return model.ProductSnapshot{}, fmt.Errorf("load product: %w", err)
	}

	return product.Snapshot(), nil
}

func (c *Coordinator) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(c.cfg.TaskRetryLimit), retry.NewExponential(c.cfg.RetryBackoff))
}

func (c *Coordinator) nextPageWithRetry(ctx context.Context, productID uuid.UUID, cursor *uuid.UUID) ([]uuid.UUID, *uuid.UUID, error) {
	var (
		page []uuid.UUID
		next *uuid.UUID
	)

	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		var err error
		page, next, err = c.locator.Next(ctx, productID, cursor)
		if err != nil && !IsTerminal(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, cursor, fmt.Errorf("locate affected quotes: %w", err)
	}

	return page, next, nil
}

func (c *Coordinator) applyWithRetry(ctx context.Context, quoteIDs []uuid.UUID, snap model.ProductSnapshot) (BatchResult, error) {
	var res BatchResult

	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		batchCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()

		var err error
		res, err = c.batch.Apply(batchCtx, quoteIDs, snap)
		if err != nil && !IsTerminal(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("apply batch: %w", err)
	}

	return res, nil
}

func (c *Coordinator) recordBatch(res BatchResult) {
	c.metrics.QuotesUpdated.Add(float64(res.Updated))
	c.metrics.QuotesSkipped.Add(float64(res.Skipped))
	c.metrics.QuotesFailed.Add(float64(len(res.FailedQuoteIDs)))
}
