package propagation

import (
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenvalley/quoting/internal/model"
)

func testSnapshot(productID uuid.UUID, name, price string, version int64) model.ProductSnapshot {
	return model.ProductSnapshot{
		ProductID: productID,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Unit:      "cubic yard",
		Version:   version,
	}
}

func TestRecalculateLine(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000010")

	t.Run("price change recomputes total in full", func(t *testing.T) {
		t.Parallel()

		line := NewLineItem(testSnapshot(productID, "Bark Mulch", "35.50", 1), decimal.RequireFromString("10.0"))
		require.Equal(t, "355", line.LineTotal.String())

		updated, ok := RecalculateLine(line, testSnapshot(productID, "Bark Mulch", "40.00", 2))
		require.True(t, ok)
		assert.Equal(t, "40", updated.ProductPrice.String())
		assert.Equal(t, "400", updated.LineTotal.String())
		assert.Equal(t, int64(2), updated.SyncedVersion)
		assert.True(t, updated.Quantity.Equal(line.Quantity))
	})

	t.Run("replay of same snapshot is a no-op", func(t *testing.T) {
		t.Parallel()

		snap := testSnapshot(productID, "Bark Mulch", "40.00", 2)
		line := NewLineItem(testSnapshot(productID, "Bark Mulch", "35.50", 1), decimal.RequireFromString("10.0"))

		once, ok := RecalculateLine(line, snap)
		require.True(t, ok)

		twice, ok := RecalculateLine(once, snap)
		assert.False(t, ok)
		assert.Equal(t, once, twice)
	})

	t.Run("line ahead of snapshot is untouched", func(t *testing.T) {
		t.Parallel()

		line := NewLineItem(testSnapshot(productID, "Bark Mulch", "42.00", 5), decimal.RequireFromString("2"))

		got, ok := RecalculateLine(line, testSnapshot(productID, "Bark Mulch", "40.00", 2))
		assert.False(t, ok)
		assert.Equal(t, line, got)
	})

	t.Run("line of another product is untouched", func(t *testing.T) {
		t.Parallel()

		otherID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000011")
		line := NewLineItem(testSnapshot(otherID, "Pea Gravel", "28.00", 1), decimal.RequireFromString("3"))

		got, ok := RecalculateLine(line, testSnapshot(productID, "Bark Mulch", "40.00", 2))
		assert.False(t, ok)
		assert.Equal(t, line, got)
	})
}

func TestRecalculateLines(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000020")
	otherID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000021")

	oldSnap := testSnapshot(productID, "Topsoil", "18.75", 1)
	lines := []model.LineItem{
		NewLineItem(oldSnap, decimal.RequireFromString("4")),
		NewLineItem(testSnapshot(otherID, "Pea Gravel", "28.00", 1), decimal.RequireFromString("1.5")),
		NewLineItem(oldSnap, decimal.RequireFromString("0.5")),
	}

	newSnap := testSnapshot(productID, "Screened Topsoil", "20.00", 2)
	updated, changed := RecalculateLines(lines, newSnap)

	require.Equal(t, 2, changed)
	assert.Equal(t, "Screened Topsoil", updated[0].ProductName)
	assert.Equal(t, "80", updated[0].LineTotal.String())
	assert.Equal(t, lines[1], updated[1])
	assert.Equal(t, "10", updated[2].LineTotal.String())

	// Recomputing against the same snapshot changes nothing further.
	again, changed := RecalculateLines(updated, newSnap)
	assert.Equal(t, 0, changed)
	assert.Equal(t, updated, again)
}

func TestSumLineTotals(t *testing.T) {
	t.Parallel()

	productID := uuid.MustParse("0198b5a0-0000-7000-8000-000000000030")

	// 0.10 x 3 summed in binary floating point would drift; the sum here
	// must be exact.
	snap := testSnapshot(productID, "Sand", "0.10", 1)
	lines := []model.LineItem{
		NewLineItem(snap, decimal.RequireFromString("1")),
		NewLineItem(snap, decimal.RequireFromString("1")),
		NewLineItem(snap, decimal.RequireFromString("1")),
	}
	assert.Equal(t, "0.3", SumLineTotals(lines).String())

	assert.True(t, SumLineTotals(nil).IsZero())
}

func TestSumLineTotalsOverRandomLines(t *testing.T) {
	t.Parallel()

	// Fixed seed keeps failures reproducible.
	rng := rand.New(rand.NewPCG(7, 11))

	randDecimal := func() decimal.Decimal {
		return decimal.New(rng.Int64N(10_000_000)+1, -int32(rng.IntN(5)))
	}

	for iter := 0; iter < 200; iter++ {
		productID := uuid.New()
		snap := model.ProductSnapshot{
			ProductID: productID,
			Name:      "Crushed Stone",
			Price:     randDecimal(),
			Unit:      "ton",
			Version:   1,
		}

		lines := make([]model.LineItem, 1+rng.IntN(8))
		want := decimal.Zero
		for i := range lines {
			quantity := randDecimal()
			lines[i] = NewLineItem(snap, quantity)
			want = want.Add(quantity.Mul(snap.Price))
		}

		require.True(t, want.Equal(SumLineTotals(lines)),
			"total must equal the sum of quantity x price for every line")

		// A price change recomputes every line total in full; the quote
		// total must follow, and a second application must change nothing.
		newSnap := snap
		newSnap.Price = randDecimal()
		newSnap.Version = 2

		updated, changed := RecalculateLines(lines, newSnap)
		require.Equal(t, len(lines), changed)

		wantUpdated := decimal.Zero
		for _, line := range lines {
			wantUpdated = wantUpdated.Add(line.Quantity.Mul(newSnap.Price))
		}
		require.True(t, wantUpdated.Equal(SumLineTotals(updated)))

		again, changed := RecalculateLines(updated, newSnap)
		require.Equal(t, 0, changed)
		require.True(t, SumLineTotals(updated).Equal(SumLineTotals(again)))
	}
}
