package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/storage/db"
)

type UpdateQuoteLinesParams struct {
	ID          uuid.UUID
	LineItems   []model.LineItem
	TotalAmount decimal.Decimal

	// ExpectedRevision is the revision the caller read; the write only
	// lands if the quote has not been modified since.
	ExpectedRevision int64
}

type QuoteRepository interface {
	WithDB(db db.DB) QuoteRepository
	CreateQuote(ctx context.Context, quote model.Quote) error
	GetQuote(ctx context.Context, id uuid.UUID) (model.Quote, error)
	ListAllQuotes(ctx context.Context) ([]model.Quote, error)
	// ListQuoteIDsByProduct returns one page of IDs of quotes with at least
	// one line referencing the product, in ascending ID order, starting
	// strictly after afterID (or from the beginning when nil).
	ListQuoteIDsByProduct(ctx context.Context, productID uuid.UUID, afterID *uuid.UUID, limit int) ([]uuid.UUID, error)
	// UpdateQuoteLines rewrites the embedded line items and total under
	// optimistic concurrency. Returns false when the revision check fails.
	UpdateQuoteLines(ctx context.Context, params UpdateQuoteLinesParams) (bool, error)
}

type quoteRepository struct {
	db db.DB
}

func NewQuoteRepository(db db.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

func (r quoteRepository) WithDB(db db.DB) QuoteRepository {
	return &quoteRepository{db: db}
}

const quoteColumns = `id, customer_name, customer_email, project_name, status, line_items, total_amount::text, revision, created_at, updated_at`

func (r quoteRepository) CreateQuote(ctx context.Context, quote model.Quote) error {
	lineItems, err := json.Marshal(quote.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	total, err := numericFromDecimal(quote.TotalAmount)
	if err != nil {
		return fmt.Errorf("scan total amount: %w", err)
	}

	if _, err := r.db.Exec(ctx, `
		INSERT INTO quotes (id, customer_name, customer_email, project_name, status, line_items, total_amount, revision, created_at, updated_at)
		VALUES (@id, @customer_name, @customer_email, @project_name, @status, @line_items, @total_amount, @revision, @created_at, @updated_at);
	`, pgx.NamedArgs{
		"id":             quote.ID,
		"customer_name":  quote.CustomerName,
		"customer_email": quote.CustomerEmail,
		"project_name":   quote.ProjectName,
		"status":         string(quote.Status),
		"line_items":     json.RawMessage(lineItems),
		"total_amount":   total,
		"revision":       quote.Revision,
		"created_at":     quote.CreatedAt,
		"updated_at":     quote.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("create quote: %w", err)
	}

	return nil
}

func (r quoteRepository) GetQuote(ctx context.Context, id uuid.UUID) (model.Quote, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE id = @id;
	`, pgx.NamedArgs{"id": id})

	return scanQuote(row)
}

func (r quoteRepository) ListAllQuotes(ctx context.Context) ([]model.Quote, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		ORDER BY created_at;
	`)
	if err != nil {
		return nil, fmt.Errorf("list all quotes: %w", err)
	}
	defer rows.Close()

	quotes := []model.Quote{}
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}

	return quotes, nil
}

func (r quoteRepository) ListQuoteIDsByProduct(ctx context.Context, productID uuid.UUID, afterID *uuid.UUID, limit int) ([]uuid.UUID, error) {
	productRef, err := json.Marshal([]map[string]string{{"product_id": productID.String()}})
	if err != nil {
		return nil, fmt.Errorf("marshal product ref: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM quotes
		WHERE line_items @> @product_ref
			AND (@after::uuid IS NULL OR id > @after)
		ORDER BY id
		LIMIT @limit;
	`, pgx.NamedArgs{
		"product_ref": json.RawMessage(productRef),
		"after":       afterID,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list quote ids by product: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan quote id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote ids: %w", err)
	}

	return ids, nil
}

func (r quoteRepository) UpdateQuoteLines(ctx context.Context, params UpdateQuoteLinesParams) (bool, error) {
	lineItems, err := json.Marshal(params.LineItems)
	if err != nil {
		return false, fmt.Errorf("marshal line items: %w", err)
	}

	total, err := numericFromDecimal(params.TotalAmount)
	if err != nil {
		return false, fmt.Errorf("scan total amount: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE quotes
		SET
			line_items   = @line_items,
			total_amount = @total_amount,
			revision     = revision + 1,
			updated_at   = NOW()
		WHERE id = @id AND revision = @revision;
	`, pgx.NamedArgs{
		"id":           params.ID,
		"line_items":   json.RawMessage(lineItems),
		"total_amount": total,
		"revision":     params.ExpectedRevision,
	})
	if err != nil {
		return false, fmt.Errorf("update quote lines: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func scanQuote(row pgx.Row) (model.Quote, error) {
	var (
		quote     model.Quote
		status    string
		lineItems []byte
		totalText string
	)

	if err := row.Scan(
		&quote.ID,
		&quote.CustomerName,
		&quote.CustomerEmail,
		&quote.ProjectName,
		&status,
		&lineItems,
		&totalText,
		&quote.Revision,
		&quote.CreatedAt,
		&quote.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Quote{}, apperr.QuoteNotFoundErr
		}
		return model.Quote{}, fmt.Errorf("scan quote: %w", err)
	}

	quote.Status = model.QuoteStatus(status)

	if err := json.Unmarshal(lineItems, &quote.LineItems); err != nil {
		return model.Quote{}, fmt.Errorf("unmarshal line items: %w", err)
	}

	total, err := decimal.NewFromString(totalText)
	if err != nil {
		return model.Quote{}, fmt.Errorf("parse total amount: %w", err)
	}
	quote.TotalAmount = total

	return quote, nil
}
