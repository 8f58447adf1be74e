package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteStatus is the lifecycle status of a quote.
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "draft"
	QuoteStatusSent     QuoteStatus = "sent"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
)

// Validate reports whether the status is one of the known values.
func (s QuoteStatus) Validate() error {
	switch s {
	case QuoteStatusDraft, QuoteStatusSent, QuoteStatusAccepted, QuoteStatusRejected:
		return nil
	default:
		return fmt.Errorf("unknown quote status: %q", s)
	}
}

// LineItem is a single line in a quote with a denormalized product snapshot.
// Line items are embedded in the quote, not independently addressable.
//
// SyncedVersion is the product version the snapshot was last synced against;
// it is monotonically non-decreasing over the line's lifetime.
type LineItem struct {
	ProductID     uuid.UUID       `json:"product_id"`
	ProductName   string          `json:"product_name"`
	ProductPrice  decimal.Decimal `json:"product_price"`
	ProductUnit   string          `json:"product_unit"`
	SyncedVersion int64           `json:"synced_version"`
	Quantity      decimal.Decimal `json:"quantity"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

// Quote is a customer request for materials. Product data is denormalized
// into LineItems for read performance; the propagation engine keeps those
// copies and the derived totals consistent when products change.
//
// Revision increases on every write and is the sole coordination mechanism
// between the quote write path and the propagation engine (optimistic
// concurrency, no quote-level locks).
type Quote struct {
	ID            uuid.UUID       `json:"id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	ProjectName   *string         `json:"project_name,omitempty"`
	Status        QuoteStatus     `json:"status"`
	LineItems     []LineItem      `json:"line_items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Revision      int64           `json:"revision"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
