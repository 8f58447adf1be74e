package event

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/propagation"
)

const TopicProductUpdated = "product.updated"

// ProductUpdatedEvent is published when a product field that quotes
// denormalize (name, price, unit) changed. It carries the snapshot quotes
// must be synced to.
type ProductUpdatedEvent struct {
	ProductID     uuid.UUID       `json:"product_id"`
	ChangedFields []string        `json:"changed_fields"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Unit          string          `json:"unit"`
	Version       int64           `json:"version"`
}

// ChangeSubmitter accepts detected product changes for propagation.
type ChangeSubmitter interface {
	Submit(ctx context.Context, change propagation.ChangeSet) (model.PropagationTask, error)
}

func (s *Service) handleProductUpdatedEvent(ctx context.Context, ev ProductUpdatedEvent) error {
	if len(ev.ChangedFields) == 0 {
		// Nothing denormalized changed; the event is informational.
		return nil
	}

	task, err := s.submitter.Submit(ctx, propagation.ChangeSet{
		ProductID:     ev.ProductID,
		ChangedFields: ev.ChangedFields,
		Snapshot: model.ProductSnapshot{
			ProductID: ev.ProductID,
			Name:      ev.Name,
			Price:     ev.Price,
			Unit:      ev.Unit,
			Version:   ev.Version,
		},
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "product update queued for propagation",
		slog.String("product_id", ev.ProductID.String()),
		slog.String("task_id", task.ID.String()),
		slog.Int64("target_version", task.TargetVersion),
	)
	return nil
}
