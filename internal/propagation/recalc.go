package propagation

import (
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/model"
)

// NewLineItem builds a line item denormalizing the given product snapshot,
// with the line total computed as quantity x price.
func NewLineItem(snap model.ProductSnapshot, quantity decimal.Decimal) model.LineItem {
	return model.LineItem{
		ProductID:     snap.ProductID,
		ProductName:   snap.Name,
		ProductPrice:  snap.Price,
		ProductUnit:   snap.Unit,
		SyncedVersion: snap.Version,
		Quantity:      quantity,
		LineTotal:     quantity.Mul(snap.Price),
	}
}

// RecalculateLine returns the line updated to the product snapshot and true,
// or the line unchanged and false when no update applies.
//
// Lines referencing other products are untouched. A line whose synced
// version is at or past the snapshot's version is already current; returning
// false there makes replays and out-of-order application safe. The line
// total is always recomputed in full from quantity and the new price, never
// patched incrementally, so repeated recomputation cannot drift.
func RecalculateLine(line model.LineItem, snap model.ProductSnapshot) (model.LineItem, bool) {
	if line.ProductID != snap.ProductID {
		return line, false
	}
	if line.SyncedVersion >= snap.Version {
		return line, false
	}

	line.ProductName = snap.Name
	line.ProductPrice = snap.Price
	line.ProductUnit = snap.Unit
	line.SyncedVersion = snap.Version
	line.LineTotal = line.Quantity.Mul(snap.Price)

	return line, true
}

// RecalculateLines applies the snapshot to every line referencing its
// product (a quote may hold several) and returns the new lines plus how
// many changed.
func RecalculateLines(lines []model.LineItem, snap model.ProductSnapshot) ([]model.LineItem, int) {
	result := make([]model.LineItem, len(lines))
	changed := 0
	for i, line := range lines {
		updated, ok := RecalculateLine(line, snap)
		result[i] = updated
		if ok {
			changed++
		}
	}
	return result, changed
}

// SumLineTotals returns the exact sum of all line totals. Quote totals are
// always recomputed from the quote's own lines.
func SumLineTotals(lines []model.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal)
	}
	return total
}
