package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
	"github.com/greenvalley/quoting/internal/storage/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeDB satisfies db.DB for services whose repositories are themselves
// fakes; WithTx just runs the function.
type fakeDB struct{}

func (fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f fakeDB) WithTx(_ context.Context, txFunc func(db.DB) error) error {
	return txFunc(f)
}

type fakeProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]model.Product
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[uuid.UUID]model.Product)}
}

func (r *fakeProductRepo) WithDB(db.DB) repository.ProductRepository { return r }

func (r *fakeProductRepo) CreateProduct(_ context.Context, product model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
	return nil
}

func (r *fakeProductRepo) GetProduct(_ context.Context, id uuid.UUID) (model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return model.Product{}, apperr.ProductNotFoundErr
	}
	return product, nil
}

func (r *fakeProductRepo) GetProductForUpdate(ctx context.Context, id uuid.UUID) (model.Product, error) {
	return r.GetProduct(ctx, id)
}

func (r *fakeProductRepo) ListAllProducts(context.Context) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make([]model.Product, 0, len(r.products))
	for _, product := range r.products {
		products = append(products, product)
	}
	return products, nil
}

func (r *fakeProductRepo) UpdateProduct(_ context.Context, product model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; !ok {
		return apperr.ProductNotFoundErr
	}
	r.products[product.ID] = product
	return nil
}

type fakeOutboxRepo struct {
	mu   sync.Mutex
	msgs []repository.CreateOutboxMsgParams
}

func (r *fakeOutboxRepo) WithDB(db.DB) repository.OutboxMsgRepository { return r }

func (r *fakeOutboxRepo) CreateOutboxMsg(_ context.Context, params repository.CreateOutboxMsgParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, params)
	return nil
}

func (r *fakeOutboxRepo) ListUnprocessedOutboxMsgs(context.Context, repository.ListUnprocessedOutboxMsgsParams) ([]repository.ListUnprocessedOutboxMsgsResult, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) BulkUpdateOutboxMsgs(context.Context, repository.BulkUpdateOutboxMsgsParams) error {
	return nil
}

func (r *fakeOutboxRepo) byTopic(topic string) []repository.CreateOutboxMsgParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.CreateOutboxMsgParams
	for _, msg := range r.msgs {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

type fakeQuoteRepo struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]model.Quote
}

func newFakeQuoteRepo() *fakeQuoteRepo {
	return &fakeQuoteRepo{quotes: make(map[uuid.UUID]model.Quote)}
}

func (r *fakeQuoteRepo) WithDB(db.DB) repository.QuoteRepository { return r }

func (r *fakeQuoteRepo) CreateQuote(_ context.Context, quote model.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[quote.ID] = quote
	return nil
}

func (r *fakeQuoteRepo) GetQuote(_ context.Context, id uuid.UUID) (model.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	quote, ok := r.quotes[id]
	if !ok {
		return model.Quote{}, apperr.QuoteNotFoundErr
	}
	return quote, nil
}

func (r *fakeQuoteRepo) ListAllQuotes(context.Context) ([]model.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	quotes := make([]model.Quote, 0, len(r.quotes))
	for _, quote := range r.quotes {
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func (r *fakeQuoteRepo) ListQuoteIDsByProduct(context.Context, uuid.UUID, *uuid.UUID, int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *fakeQuoteRepo) UpdateQuoteLines(context.Context, repository.UpdateQuoteLinesParams) (bool, error) {
	return false, nil
}
