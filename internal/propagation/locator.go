package propagation

import (
	"context"

	"github.com/google/uuid"
)

// Locator streams the IDs of quotes referencing a product as a lazy,
// restartable sequence of pages, ordered by quote ID. Memory use is bounded
// by the page size regardless of how many quotes match.
//
// The cursor is the last quote ID of the prior page; restarting from a
// cursor re-issues the same keyset query, so quotes created after the scan
// began that sort after the cursor may or may not be included. That is the
// documented staleness boundary: such quotes carry a fresh snapshot already
// or are covered by a subsequent task.
type Locator struct {
	quotes   QuoteStore
	pageSize int
}

func NewLocator(quotes QuoteStore, pageSize int) *Locator {
	return &Locator{
		quotes:   quotes,
		pageSize: pageSize,
	}
}

// Next returns the next page of quote IDs strictly after the cursor, and
// the cursor to resume from. An empty page means the stream is exhausted.
func (l *Locator) Next(ctx context.Context, productID uuid.UUID, cursor *uuid.UUID) ([]uuid.UUID, *uuid.UUID, error) {
	ids, err := l.quotes.ListQuoteIDsByProduct(ctx, productID, cursor, l.pageSize)
	if err != nil {
		return nil, cursor, err
	}
	if len(ids) == 0 {
		return nil, cursor, nil
	}

	last := ids[len(ids)-1]
	return ids, &last, nil
}
