package propagation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
)

// The engine consumes narrow store interfaces so it can run against the
// Postgres repositories in production and in-memory fakes in tests. The
// repository types satisfy them directly.

// ProductStore reads product snapshots.
type ProductStore interface {
	GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error)
}

// QuoteStore reads and rewrites quotes referencing a product.
type QuoteStore interface {
	GetQuote(ctx context.Context, id uuid.UUID) (model.Quote, error)
	ListQuoteIDsByProduct(ctx context.Context, productID uuid.UUID, afterID *uuid.UUID, limit int) ([]uuid.UUID, error)
	UpdateQuoteLines(ctx context.Context, params repository.UpdateQuoteLinesParams) (bool, error)
}

// TaskStore persists propagation tasks; task records must survive process
// restarts since resumption depends on checkpoint cursors surviving crashes.
type TaskStore interface {
	CreateOrCoalesceTask(ctx context.Context, productID uuid.UUID, targetVersion int64) (model.PropagationTask, error)
	GetTask(ctx context.Context, id uuid.UUID) (model.PropagationTask, error)
	ClaimPendingTask(ctx context.Context) (*model.PropagationTask, error)
	ClaimStaleRunningTask(ctx context.Context) (*model.PropagationTask, error)
	GetTaskTargetVersion(ctx context.Context, id uuid.UUID) (int64, error)
	SaveCheckpoint(ctx context.Context, params repository.SaveCheckpointParams) error
	MarkTaskCompleted(ctx context.Context, id uuid.UUID) error
	MarkTaskFailed(ctx context.Context, id uuid.UUID, taskErr string, retryCount int) error
	ResumeTask(ctx context.Context, id uuid.UUID) error
}

var (
	_ ProductStore = (repository.ProductRepository)(nil)
	_ QuoteStore   = (repository.QuoteRepository)(nil)
	_ TaskStore    = (repository.TaskRepository)(nil)
	_ Guard        = (repository.LeaseRepository)(nil)
)

// Guard is the idempotency/concurrency guard: an exclusive per-product lease
// with expiry, enforcing the at-most-one-running-task invariant without
// permanently starving future tasks after a crash.
type Guard interface {
	AcquireLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, productID uuid.UUID, holder string) error
}
