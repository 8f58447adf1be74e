package propagation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
)

// BatchResult reports what happened to each quote of a batch. Failed quotes
// are contained here rather than aborting the batch: one pathological quote
// must not stall propagation to the rest.
type BatchResult struct {
	Updated        int64
	Skipped        int64
	FailedQuoteIDs []uuid.UUID
}

type quoteOutcome uint8

const (
	outcomeUpdated quoteOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// BatchUpdater applies a product snapshot to one page of quotes. Writes
// within a batch run concurrently; each is independently idempotent (version
// gate) and uses optimistic concurrency on the quote revision.
type BatchUpdater struct {
	quotes          QuoteStore
	logger          *slog.Logger
	conflictRetries int
}

func NewBatchUpdater(quotes QuoteStore, logger *slog.Logger, conflictRetries int) *BatchUpdater {
	return &BatchUpdater{
		quotes:          quotes,
		logger:          logger,
		conflictRetries: conflictRetries,
	}
}

// Apply recalculates every line referencing the snapshot's product in each
// quote, recomputes the quote total from its own lines, and writes back only
// quotes with at least one changed line.
//
// Per-quote failures (conflict budget exhausted, I/O errors) are recorded in
// the result. Apply returns an error only when the whole batch failed on
// I/O, which the coordinator treats as transient and retries; the replay is
// safe because recomputation is idempotent.
func (b *BatchUpdater) Apply(ctx context.Context, quoteIDs []uuid.UUID, snap model.ProductSnapshot) (BatchResult, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		result   BatchResult
		ioErrs   int
		firstErr error
	)

	for _, quoteID := range quoteIDs {
		id := quoteID
		wg.Go(func() {
			outcome, err := b.applyQuote(ctx, id, snap)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case outcomeUpdated:
				result.Updated++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.FailedQuoteIDs = append(result.FailedQuoteIDs, id)
				if err != nil {
					ioErrs++
					if firstErr == nil {
						firstErr = err
					}
					b.logger.ErrorContext(ctx, "error updating quote",
						slog.String("quote_id", id.String()),
						slog.Any("error", err),
					)
				} else {
					b.logger.WarnContext(ctx, "quote revision conflict retries exhausted",
						slog.String("quote_id", id.String()),
					)
				}
			}
		})
	}

	wg.Wait()

	if len(quoteIDs) > 0 && ioErrs == len(quoteIDs) {
		return result, firstErr
	}

	return result, nil
}

// applyQuote syncs a single quote, retrying revision conflicts by re-reading
// and recalculating up to the conflict budget.
func (b *BatchUpdater) applyQuote(ctx context.Context, id uuid.UUID, snap model.ProductSnapshot) (quoteOutcome, error) {
	for attempt := 0; attempt <= b.conflictRetries; attempt++ {
		quote, err := b.quotes.GetQuote(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.QuoteNotFoundErr) {
				// Deleted since it was located; nothing left to sync.
				return outcomeSkipped, nil
			}
			return outcomeFailed, err
		}

		lines, changed := RecalculateLines(quote.LineItems, snap)
		if changed == 0 {
			// Already at or past the snapshot version; replays land here.
			return outcomeSkipped, nil
		}

		ok, err := b.quotes.UpdateQuoteLines(ctx, repository.UpdateQuoteLinesParams{
			ID:               id,
			LineItems:        lines,
			TotalAmount:      SumLineTotals(lines),
			ExpectedRevision: quote.Revision,
		})
		if err != nil {
			return outcomeFailed, err
		}
		if ok {
			return outcomeUpdated, nil
		}

		// Revision moved under us; re-read and recalculate.
	}

	return outcomeFailed, nil
}
