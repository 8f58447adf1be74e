package propagation

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvalley/quoting/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBatchApplyUpdatesStaleAndSkipsCurrent(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000060")
	oldSnap := testSnapshot(productID, "Bark Mulch", "35.50", 1)
	newSnap := testSnapshot(productID, "Bark Mulch", "40.00", 2)

	stale := quoteWithLines(
		NewLineItem(oldSnap, decimal.RequireFromString("10.0")),
		NewLineItem(oldSnap, decimal.RequireFromString("2")),
	)
	current := quoteWithLines(NewLineItem(newSnap, decimal.RequireFromString("3")))

	store := newMemQuoteStore(stale, current)
	updater := NewBatchUpdater(store, discardLogger(), 2)

	res, err := updater.Apply(t.Context(), []uuid.UUID{stale.ID, current.ID}, newSnap)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Empty(t, res.FailedQuoteIDs)

	got, err := store.GetQuote(t.Context(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, "480", got.TotalAmount.String())
	assert.Equal(t, int64(2), got.Revision)
	for _, line := range got.LineItems {
		assert.Equal(t, int64(2), line.SyncedVersion)
		assert.Equal(t, "40", line.ProductPrice.String())
	}

	// The current quote keeps its revision; nothing was written to it.
	unchanged, err := store.GetQuote(t.Context(), current.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unchanged.Revision)
}

func TestBatchApplyRetriesRevisionConflict(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000061")
	quote := quoteWithLines(NewLineItem(testSnapshot(productID, "Sand", "12.00", 1), decimal.RequireFromString("4")))

	store := newMemQuoteStore(quote)
	store.conflicts[quote.ID] = 2

	updater := NewBatchUpdater(store, discardLogger(), 2)
	res, err := updater.Apply(t.Context(), []uuid.UUID{quote.ID}, testSnapshot(productID, "Sand", "14.00", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Empty(t, res.FailedQuoteIDs)
}

func TestBatchApplyConflictBudgetExhausted(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000062")
	oldSnap := testSnapshot(productID, "Sand", "12.00", 1)
	newSnap := testSnapshot(productID, "Sand", "14.00", 2)

	contested := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("4")))
	healthy := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("1")))

	store := newMemQuoteStore(contested, healthy)
	store.conflicts[contested.ID] = 100

	updater := NewBatchUpdater(store, discardLogger(), 2)
	res, err := updater.Apply(t.Context(), []uuid.UUID{contested.ID, healthy.ID}, newSnap)

	// The contested quote is recorded for follow-up, not an error: it must
	// not stall the rest of the batch.
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Equal(t, []uuid.UUID{contested.ID}, res.FailedQuoteIDs)
}

func TestBatchApplyDeletedQuoteSkipped(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000063")
	store := newMemQuoteStore()

	updater := NewBatchUpdater(store, discardLogger(), 2)
	res, err := updater.Apply(t.Context(), []uuid.UUID{uuid.New()}, testSnapshot(productID, "Sand", "14.00", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Skipped)
	assert.Empty(t, res.FailedQuoteIDs)
}

func TestBatchApplyPartialIOFailureContained(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000064")
	oldSnap := testSnapshot(productID, "Gravel", "28.00", 1)
	newSnap := testSnapshot(productID, "Gravel", "30.00", 2)

	broken := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("1")))
	healthy := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("2")))

	store := newMemQuoteStore(broken, healthy)
	store.updateErr[broken.ID] = errors.New("connection reset")

	updater := NewBatchUpdater(store, discardLogger(), 1)
	res, err := updater.Apply(t.Context(), []uuid.UUID{broken.ID, healthy.ID}, newSnap)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Equal(t, []uuid.UUID{broken.ID}, res.FailedQuoteIDs)
}

func TestBatchApplyWholeBatchIOFailure(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000065")
	oldSnap := testSnapshot(productID, "Gravel", "28.00", 1)

	a := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("1")))
	b := quoteWithLines(NewLineItem(oldSnap, decimal.RequireFromString("2")))

	store := newMemQuoteStore(a, b)
	ioErr := errors.New("connection reset")
	store.updateErr[a.ID] = ioErr
	store.updateErr[b.ID] = ioErr

	updater := NewBatchUpdater(store, discardLogger(), 1)
	_, err := updater.Apply(t.Context(), []uuid.UUID{a.ID, b.ID}, testSnapshot(productID, "Gravel", "30.00", 2))
	require.ErrorIs(t, err, ioErr)
}

func TestBatchApplyEmptyBatch(t *testing.T) {
	t.Parallel()

	updater := NewBatchUpdater(newMemQuoteStore(), discardLogger(), 1)
	res, err := updater.Apply(t.Context(), nil, model.ProductSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}
