package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a purchasable material (mulch, stone, soil, ...).
//
// Version increments on every change to a field that is denormalized into
// quote line items (name, price, unit). It is owned exclusively by the
// product write path and is the basis for staleness comparison during
// propagation.
type Product struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Unit         string          `json:"unit"`
	SupplierName string          `json:"supplier_name"`
	Category     string          `json:"category"`
	Sku          string          `json:"sku"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ProductSnapshot is the denormalized view of a product that quote line
// items embed, plus the version it was taken at.
type ProductSnapshot struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Unit      string          `json:"unit"`
	Version   int64           `json:"version"`
}

// Snapshot returns the denormalized view of the product at its current version.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Unit:      p.Unit,
		Version:   p.Version,
	}
}
