package event

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TopicProductCreated = "product.created"

type ProductCreatedEvent struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Sku       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Unit      string          `json:"unit"`
	Version   int64           `json:"version"`
}

// A freshly created product has no quotes referencing it yet, so there is
// nothing to propagate.
func (s *Service) handleProductCreatedEvent(ctx context.Context, ev ProductCreatedEvent) error {
	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", ev.ProductID.String()),
		slog.String("sku", ev.Sku),
	)
	return nil
}
