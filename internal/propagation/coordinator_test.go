package propagation

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvalley/quoting/internal/config"
	"github.com/greenvalley/quoting/internal/model"
)

func testPropagationConfig() config.Propagation {
	return config.Propagation{
		PageSize:             2,
		Workers:              2,
		PollInterval:         2 * time.Millisecond,
		TaskRetryLimit:       2,
		QuoteConflictRetries: 2,
		RetryBackoff:         time.Millisecond,
		BatchTimeout:         time.Second,
		LeaseTTL:             time.Minute,
		LeaseRenewInterval:   5 * time.Millisecond,
	}
}

type coordinatorEnv struct {
	products *memProductStore
	quotes   *memQuoteStore
	tasks    *memTaskStore
	guard    *MemoryGuard
	metrics  *Metrics
	coord    *Coordinator
}

func newCoordinatorEnv(cfg config.Propagation) *coordinatorEnv {
	env := &coordinatorEnv{
		products: newMemProductStore(),
		quotes:   newMemQuoteStore(),
		tasks:    newMemTaskStore(),
		guard:    NewMemoryGuard(),
		metrics:  NewMetricsWith(prometheus.NewRegistry()),
	}
	env.tasks.guard = env.guard
	env.coord = NewCoordinator(cfg, discardLogger(), env.products, env.quotes, env.tasks, env.guard, env.metrics)
	return env
}

// seedQuotes stores n draft quotes holding one stale line each and returns
// them in quote-ID order.
func (env *coordinatorEnv) seedQuotes(n int, snap model.ProductSnapshot) []model.Quote {
	quotes := make([]model.Quote, n)
	for i := range quotes {
		quotes[i] = quoteWithLines(NewLineItem(snap, decimal.RequireFromString("2")))
		env.quotes.quotes[quotes[i].ID] = quotes[i]
	}
	ids := sortedQuoteIDs(quotes)
	ordered := make([]model.Quote, n)
	for i, id := range ids {
		ordered[i] = env.quotes.quotes[id]
	}
	return ordered
}

func (env *coordinatorEnv) requireAllSynced(t *testing.T, quotes []model.Quote, snap model.ProductSnapshot) {
	t.Helper()
	for _, q := range quotes {
		got, err := env.quotes.GetQuote(t.Context(), q.ID)
		require.NoError(t, err)
		for _, line := range got.LineItems {
			if line.ProductID != snap.ProductID {
				continue
			}
			assert.Equal(t, snap.Version, line.SyncedVersion)
			assert.True(t, line.ProductPrice.Equal(snap.Price))
			assert.True(t, line.LineTotal.Equal(line.Quantity.Mul(snap.Price)))
		}
		assert.True(t, got.TotalAmount.Equal(SumLineTotals(got.LineItems)))
	}
}

func TestCoordinatorSubmitCoalesces(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	productID := uuid.New()

	first, err := env.coord.Submit(t.Context(), ChangeSet{
		ProductID:     productID,
		ChangedFields: []string{FieldPrice},
		Snapshot:      testSnapshot(productID, "Bark Mulch", "40.00", 2),
	})
	require.NoError(t, err)

	second, err := env.coord.Submit(t.Context(), ChangeSet{
		ProductID:     productID,
		ChangedFields: []string{FieldName},
		Snapshot:      testSnapshot(productID, "Cedar Mulch", "40.00", 3),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "an active task absorbs later changes")
	assert.Equal(t, int64(3), second.TargetVersion)

	// An older duplicate delivery never lowers the target.
	third, err := env.coord.Submit(t.Context(), ChangeSet{
		ProductID: productID,
		Snapshot:  testSnapshot(productID, "Bark Mulch", "40.00", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.TargetVersion)

	// A different product gets its own task.
	otherID := uuid.New()
	other, err := env.coord.Submit(t.Context(), ChangeSet{
		ProductID: otherID,
		Snapshot:  testSnapshot(otherID, "Pea Gravel", "30.00", 2),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCoordinatorPropagatesProductChange(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Premium Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)

	oldSnap := testSnapshot(product.ID, "Premium Bark Mulch", "35.50", 1)
	stale := env.seedQuotes(5, oldSnap)

	// One quote already carries the new snapshot and one references a
	// different product; neither may be rewritten.
	current := quoteWithLines(NewLineItem(product.Snapshot(), decimal.RequireFromString("3")))
	env.quotes.quotes[current.ID] = current
	otherID := uuid.MustParse("0198b5a0-0000-7000-8000-0000000000aa")
	unrelated := quoteWithLines(NewLineItem(testSnapshot(otherID, "Pea Gravel", "28.00", 1), decimal.RequireFromString("1")))
	env.quotes.quotes[unrelated.ID] = unrelated

	task, err := env.coord.Submit(ctx, ChangeSet{
		ProductID:     product.ID,
		ChangedFields: []string{FieldPrice},
		Snapshot:      product.Snapshot(),
	})
	require.NoError(t, err)

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, int64(6), final.Scanned)
	assert.Equal(t, int64(5), final.Updated)
	assert.Equal(t, int64(1), final.Skipped)
	assert.Empty(t, final.FailedQuoteIDs)

	env.requireAllSynced(t, stale, product.Snapshot())

	got, err := env.quotes.GetQuote(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)

	assert.False(t, env.guard.Held(product.ID), "the lease is released after completion")
	assert.LessOrEqual(t, env.quotes.maxPage, 2, "scanning holds at most one page in memory")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TasksCompleted))
	assert.Equal(t, float64(5), testutil.ToFloat64(env.metrics.QuotesUpdated))
}

func TestCoordinatorRetriesTransientPageErrors(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Topsoil", "20.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(3, testSnapshot(product.ID, "Topsoil", "18.75", 1))

	env.quotes.listFailures = 1

	task, err := env.coord.Submit(ctx, ChangeSet{ProductID: product.ID, Snapshot: product.Snapshot()})
	require.NoError(t, err)

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	env.requireAllSynced(t, quotes, product.Snapshot())
}

func TestCoordinatorResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(6, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.tasks.CreateOrCoalesceTask(ctx, product.ID, 2)
	require.NoError(t, err)

	// Simulate a worker that crashed after durably committing the first
	// page: those quotes are synced, the checkpoint points past them, the
	// task is still running and no lease survives.
	for _, q := range quotes[:2] {
		lines, _ := RecalculateLines(q.LineItems, product.Snapshot())
		env.quotes.quotes[q.ID] = model.Quote{
			ID: q.ID, Status: q.Status, LineItems: lines,
			TotalAmount: SumLineTotals(lines), Revision: q.Revision + 1,
		}
	}
	crashed := env.tasks.tasks[task.ID]
	crashed.Status = model.TaskStatusRunning
	crashed.Cursor = &quotes[1].ID
	crashed.Scanned, crashed.Updated = 2, 2

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed, "a running task with no live lease is reclaimable")
	require.Equal(t, task.ID, claimed.ID)

	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, int64(6), final.Scanned)
	assert.Equal(t, int64(6), final.Updated)
	assert.Equal(t, int64(0), final.Skipped)

	// The outcome is indistinguishable from an uninterrupted run.
	env.requireAllSynced(t, quotes, product.Snapshot())
	for _, q := range quotes {
		got, err := env.quotes.GetQuote(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Revision, "each quote is written exactly once")
	}
}

func TestCoordinatorRescansBatchAfterUncheckpointedCrash(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(6, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.tasks.CreateOrCoalesceTask(ctx, product.ID, 2)
	require.NoError(t, err)

	// Crash between the batch write and its checkpoint: the first page is
	// synced but the cursor never advanced. The rescan must find those
	// quotes already current and skip them, not double-apply.
	for _, q := range quotes[:2] {
		lines, _ := RecalculateLines(q.LineItems, product.Snapshot())
		env.quotes.quotes[q.ID] = model.Quote{
			ID: q.ID, Status: q.Status, LineItems: lines,
			TotalAmount: SumLineTotals(lines), Revision: q.Revision + 1,
		}
	}
	env.tasks.tasks[task.ID].Status = model.TaskStatusRunning

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, int64(6), final.Scanned)
	assert.Equal(t, int64(4), final.Updated)
	assert.Equal(t, int64(2), final.Skipped)
	env.requireAllSynced(t, quotes, product.Snapshot())
}

func TestCoordinatorLeaveTaskWhenLeaseHeldElsewhere(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(2, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.tasks.CreateOrCoalesceTask(ctx, product.ID, 2)
	require.NoError(t, err)
	env.tasks.tasks[task.ID].Status = model.TaskStatusRunning

	ok, err := env.guard.AcquireLease(ctx, product.ID, "another-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	env.coord.executeTask(ctx, model.PropagationTask{ID: task.ID, ProductID: product.ID})

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, final.Status)

	for _, q := range quotes {
		got, err := env.quotes.GetQuote(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Revision, "no writes while another holder owns the lease")
	}
	assert.True(t, env.guard.Held(product.ID), "the other holder keeps its lease")
}

func TestCoordinatorStopsAtPageBoundary(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	env.seedQuotes(4, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.coord.Submit(ctx, ChangeSet{ProductID: product.ID, Snapshot: product.Snapshot()})
	require.NoError(t, err)

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	close(env.coord.stopChan)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, final.Status, "an interrupted task stays claimable")
	assert.False(t, env.guard.Held(product.ID), "the lease is released on interrupt")
}

func TestCoordinatorMarksTaskFailedOnTerminalError(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	// The product was never stored; loading its snapshot cannot succeed
	// and must not be retried forever.
	productID := uuid.New()
	task, err := env.coord.Submit(ctx, ChangeSet{
		ProductID: productID,
		Snapshot:  testSnapshot(productID, "Ghost", "1.00", 2),
	})
	require.NoError(t, err)

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "not found")
	assert.False(t, env.guard.Held(productID))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TasksFailed))
}

func TestCoordinatorResumeReplaysFailedQuotes(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(4, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	// A previous run scanned everything but could not update one quote;
	// the task failed with that quote on record.
	task, err := env.tasks.CreateOrCoalesceTask(ctx, product.ID, 2)
	require.NoError(t, err)
	straggler := quotes[1]
	for _, q := range quotes {
		if q.ID == straggler.ID {
			continue
		}
		lines, _ := RecalculateLines(q.LineItems, product.Snapshot())
		env.quotes.quotes[q.ID] = model.Quote{
			ID: q.ID, Status: q.Status, LineItems: lines,
			TotalAmount: SumLineTotals(lines), Revision: q.Revision + 1,
		}
	}
	crashed := env.tasks.tasks[task.ID]
	crashed.Status = model.TaskStatusFailed
	crashed.Cursor = &quotes[3].ID
	crashed.Scanned, crashed.Updated = 4, 3
	crashed.FailedQuoteIDs = []uuid.UUID{straggler.ID}

	require.ErrorContains(t, env.coord.Resume(ctx, uuid.New()), "not found")
	require.NoError(t, env.coord.Resume(ctx, task.ID))

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Empty(t, final.FailedQuoteIDs, "the replayed quote leaves the failed list")
	env.requireAllSynced(t, quotes, product.Snapshot())

	// Only failed tasks are resumable.
	assert.Error(t, env.coord.Resume(ctx, task.ID))
}

func TestCoordinatorRefreshesSnapshotForCoalescedTarget(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(4, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.coord.Submit(ctx, ChangeSet{ProductID: product.ID, Snapshot: product.Snapshot()})
	require.NoError(t, err)

	// Another price change lands while the task runs; it coalesces by
	// raising the target, and the remaining pages must sync to it.
	bumped := product
	bumped.Price = decimal.RequireFromString("45.00")
	bumped.Version = 3

	var once sync.Once
	env.tasks.beforeTargetVersion = func() {
		once.Do(func() {
			env.products.Put(bumped)
			env.tasks.mu.Lock()
			env.tasks.tasks[task.ID].TargetVersion = 3
			env.tasks.mu.Unlock()
		})
	}

	claimed, err := env.coord.claimTask(ctx)
	require.NoError(t, err)
	env.coord.executeTask(ctx, *claimed)

	final, err := env.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	env.requireAllSynced(t, quotes, bumped.Snapshot())
}

func TestCoordinatorRunDrivesSubmittedTasks(t *testing.T) {
	t.Parallel()

	env := newCoordinatorEnv(testPropagationConfig())
	ctx := t.Context()

	product := testProduct("Bark Mulch", "40.00", "cubic yard", 2)
	env.products.Put(product)
	quotes := env.seedQuotes(5, testSnapshot(product.ID, "Bark Mulch", "35.50", 1))

	task, err := env.coord.Submit(ctx, ChangeSet{ProductID: product.ID, Snapshot: product.Snapshot()})
	require.NoError(t, err)

	cleanup := env.coord.Run(ctx)
	defer cleanup()

	require.Eventually(t, func() bool {
		got, err := env.tasks.GetTask(ctx, task.ID)
		return err == nil && got.Status == model.TaskStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	env.requireAllSynced(t, quotes, product.Snapshot())
}
