package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/event"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/propagation"
	"github.com/greenvalley/quoting/internal/repository"
	"github.com/greenvalley/quoting/internal/storage/db"
	"github.com/greenvalley/quoting/pkg/outbox"
	"github.com/greenvalley/quoting/pkg/ptr"
)

type CreateProductParams struct {
	Name         string
	Description  *string
	Price        decimal.Decimal
	Unit         string
	SupplierName string
	Category     string
	Sku          string
}

// UpdateProductParams is a partial update; nil fields keep their value.
type UpdateProductParams struct {
	Name         *string
	Description  *string
	Price        *decimal.Decimal
	Unit         *string
	SupplierName *string
	Category     *string
	Sku          *string
}

type ProductService interface {
	CreateProduct(ctx context.Context, params CreateProductParams) (model.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error)
	ListAllProducts(ctx context.Context) ([]model.Product, error)
	// UpdateProduct applies the patch and, when a field denormalized into
	// quotes changed, bumps the product version and records a propagation
	// event in the same transaction.
	UpdateProduct(ctx context.Context, id uuid.UUID, params UpdateProductParams) (model.Product, error)
}

type productService struct {
	logger        *slog.Logger
	db            db.DB
	productRepo   repository.ProductRepository
	outboxMsgRepo repository.OutboxMsgRepository
}

func NewProductService(
	logger *slog.Logger,
	db db.DB,
	productRepo repository.ProductRepository,
	outboxMsgRepo repository.OutboxMsgRepository,
) ProductService {
	return &productService{
		logger:        logger,
		db:            db,
		productRepo:   productRepo,
		outboxMsgRepo: outboxMsgRepo,
	}
}

func (s *productService) CreateProduct(ctx context.Context, params CreateProductParams) (model.Product, error) {
	if !params.Price.IsPositive() {
		return model.Product{}, apperr.ValidationErr
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Product{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now()
	product := model.Product{
		ID:           id,
		Name:         params.Name,
		Description:  params.Description,
		Price:        params.Price,
		Unit:         params.Unit,
		SupplierName: params.SupplierName,
		Category:     params.Category,
		Sku:          params.Sku,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ev := event.ProductCreatedEvent{
		ProductID: product.ID,
		Name:      product.Name,
		Sku:       product.Sku,
		Price:     product.Price,
		Unit:      product.Unit,
		Version:   product.Version,
	}

	evBytes, err := json.Marshal(ev)
	if err != nil {
		return model.Product{}, fmt.Errorf("marshal event: %w", err)
	}

	if err := s.db.WithTx(ctx, func(db db.DB) error {
		if err := s.productRepo.
			WithDB(db).
			CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("product repository create product: %w", err)
		}

		if err := s.outboxMsgRepo.
			WithDB(db).
			CreateOutboxMsg(ctx, repository.CreateOutboxMsgParams{
				Topic:        event.TopicProductCreated,
				Headers:      outbox.BuildHeaders(ctx),
				Payload:      evBytes,
				PartitionKey: ptr.New(product.ID.String()),
			}); err != nil {
			return fmt.Errorf("outbox msg repository create outbox msg: %w", err)
		}

		return nil
	}); err != nil {
		return model.Product{}, fmt.Errorf("db with tx: %w", err)
	}

	return product, nil
}

func (s *productService) GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error) {
	product, err := s.productRepo.GetProduct(ctx, id)
	if err != nil {
		return model.Product{}, fmt.Errorf("product repository get product: %w", err)
	}

	return product, nil
}

func (s *productService) ListAllProducts(ctx context.Context) ([]model.Product, error) {
	products, err := s.productRepo.ListAllProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("product repository list all products: %w", err)
	}

	return products, nil
}

func (s *productService) UpdateProduct(ctx context.Context, id uuid.UUID, params UpdateProductParams) (model.Product, error) {
	if params.Price != nil && !params.Price.IsPositive() {
		return model.Product{}, apperr.ValidationErr
	}

	var updated model.Product
	if err := s.db.WithTx(ctx, func(db db.DB) error {
		current, err := s.productRepo.
			WithDB(db).
			GetProductForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("product repository get product for update: %w", err)
		}

		updated = applyProductPatch(current, params)
		updated.UpdatedAt = time.Now()

		// The version moves only with fields quotes denormalize; edits to
		// description, category and the like never trigger propagation.
		change, relevant := propagation.Detect(current, updated)
		if relevant {
			updated.Version = current.Version + 1
			change.Snapshot = updated.Snapshot()
		}

		if err := s.productRepo.
			WithDB(db).
			UpdateProduct(ctx, updated); err != nil {
			return fmt.Errorf("product repository update product: %w", err)
		}

		if !relevant {
			return nil
		}

		ev := event.ProductUpdatedEvent{
			ProductID:     updated.ID,
			ChangedFields: change.ChangedFields,
			Name:          updated.Name,
			Price:         updated.Price,
			Unit:          updated.Unit,
			Version:       updated.Version,
		}

		evBytes, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		// Same transaction as the product write: the event exists iff the
		// update committed, and the relay delivers it at least once.
		if err := s.outboxMsgRepo.
			WithDB(db).
			CreateOutboxMsg(ctx, repository.CreateOutboxMsgParams{
				Topic:        event.TopicProductUpdated,
				Headers:      outbox.BuildHeaders(ctx),
				Payload:      evBytes,
				PartitionKey: ptr.New(updated.ID.String()),
			}); err != nil {
			return fmt.Errorf("outbox msg repository create outbox msg: %w", err)
		}

		s.logger.InfoContext(ctx, "product updated",
			slog.String("product_id", updated.ID.String()),
			slog.Int64("version", updated.Version),
			slog.Any("changed_fields", change.ChangedFields),
		)

		return nil
	}); err != nil {
		return model.Product{}, fmt.Errorf("db with tx: %w", err)
	}

	return updated, nil
}

func applyProductPatch(product model.Product, params UpdateProductParams) model.Product {
	if params.Name != nil {
		product.Name = *params.Name
	}
	if params.Description != nil {
		product.Description = params.Description
	}
	if params.Price != nil {
		product.Price = *params.Price
	}
	if params.Unit != nil {
		product.Unit = *params.Unit
	}
	if params.SupplierName != nil {
		product.SupplierName = *params.SupplierName
	}
	if params.Category != nil {
		product.Category = *params.Category
	}
	if params.Sku != nil {
		product.Sku = *params.Sku
	}
	return product
}
