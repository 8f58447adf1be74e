package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/propagation"
	"github.com/greenvalley/quoting/internal/repository"
	"github.com/greenvalley/quoting/internal/storage/db"
)

type QuoteLineParams struct {
	ProductID uuid.UUID
	Quantity  decimal.Decimal
}

type CreateQuoteParams struct {
	CustomerName  string
	CustomerEmail string
	ProjectName   *string
	Lines         []QuoteLineParams
}

type QuoteService interface {
	// CreateQuote snapshots the referenced products into the quote's line
	// items at their current version and derives the total from the lines.
	CreateQuote(ctx context.Context, params CreateQuoteParams) (model.Quote, error)
	GetQuote(ctx context.Context, id uuid.UUID) (model.Quote, error)
	ListAllQuotes(ctx context.Context) ([]model.Quote, error)
}

type quoteService struct {
	db          db.DB
	quoteRepo   repository.QuoteRepository
	productRepo repository.ProductRepository
}

func NewQuoteService(
	db db.DB,
	quoteRepo repository.QuoteRepository,
	productRepo repository.ProductRepository,
) QuoteService {
	return &quoteService{
		db:          db,
		quoteRepo:   quoteRepo,
		productRepo: productRepo,
	}
}

func (s *quoteService) CreateQuote(ctx context.Context, params CreateQuoteParams) (model.Quote, error) {
	if len(params.Lines) == 0 {
		return model.Quote{}, apperr.ValidationErr
	}
	for _, line := range params.Lines {
		if !line.Quantity.IsPositive() {
			return model.Quote{}, apperr.ValidationErr
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Quote{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	var quote model.Quote
	if err := s.db.WithTx(ctx, func(db db.DB) error {
		lines := make([]model.LineItem, 0, len(params.Lines))
		for _, lineParams := range params.Lines {
			product, err := s.productRepo.
				WithDB(db).
				GetProduct(ctx, lineParams.ProductID)
			if err != nil {
				return fmt.Errorf("product repository get product: %w", err)
			}

			lines = append(lines, propagation.NewLineItem(product.Snapshot(), lineParams.Quantity))
		}

		now := time.Now()
		quote = model.Quote{
			ID:            id,
			CustomerName:  params.CustomerName,
			CustomerEmail: params.CustomerEmail,
			ProjectName:   params.ProjectName,
			Status:        model.QuoteStatusDraft,
			LineItems:     lines,
			TotalAmount:   propagation.SumLineTotals(lines),
			Revision:      1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := s.quoteRepo.
			WithDB(db).
			CreateQuote(ctx, quote); err != nil {
			return fmt.Errorf("quote repository create quote: %w", err)
		}

		return nil
	}); err != nil {
		return model.Quote{}, fmt.Errorf("db with tx: %w", err)
	}

	return quote, nil
}

func (s *quoteService) GetQuote(ctx context.Context, id uuid.UUID) (model.Quote, error) {
	quote, err := s.quoteRepo.GetQuote(ctx, id)
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote repository get quote: %w", err)
	}

	return quote, nil
}

func (s *quoteService) ListAllQuotes(ctx context.Context) ([]model.Quote, error) {
	quotes, err := s.quoteRepo.ListAllQuotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote repository list all quotes: %w", err)
	}

	return quotes, nil
}
