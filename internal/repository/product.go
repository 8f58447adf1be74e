package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/storage/db"
)

type ProductRepository interface {
	WithDB(db db.DB) ProductRepository
	CreateProduct(ctx context.Context, product model.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error)
	// GetProductForUpdate loads a product with a row lock; callers must be
	// inside a transaction.
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (model.Product, error)
	ListAllProducts(ctx context.Context) ([]model.Product, error)
	UpdateProduct(ctx context.Context, product model.Product) error
}

type productRepository struct {
	db db.DB
}

func NewProductRepository(db db.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r productRepository) WithDB(db db.DB) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `id, name, description, price::text, unit, supplier_name, category, sku, version, created_at, updated_at`

func (r productRepository) CreateProduct(ctx context.Context, product model.Product) error {
	price, err := numericFromDecimal(product.Price)
	if err != nil {
		return fmt.Errorf("scan price: %w", err)
	}

	if _, err := r.db.Exec(ctx, `
		INSERT INTO products (id, name, description, price, unit, supplier_name, category, sku, version, created_at, updated_at)
		VALUES (@id, @name, @description, @price, @unit, @supplier_name, @category, @sku, @version, @created_at, @updated_at);
	`, pgx.NamedArgs{
		"id":            product.ID,
		"name":          product.Name,
		"description":   product.Description,
		"price":         price,
		"unit":          product.Unit,
		"supplier_name": product.SupplierName,
		"category":      product.Category,
		"sku":           product.Sku,
		"version":       product.Version,
		"created_at":    product.CreatedAt,
		"updated_at":    product.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	return nil
}

func (r productRepository) GetProduct(ctx context.Context, id uuid.UUID) (model.Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = @id;
	`, pgx.NamedArgs{"id": id})

	return scanProduct(row)
}

func (r productRepository) GetProductForUpdate(ctx context.Context, id uuid.UUID) (model.Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = @id
		FOR UPDATE;
	`, pgx.NamedArgs{"id": id})

	return scanProduct(row)
}

func (r productRepository) ListAllProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY created_at;
	`)
	if err != nil {
		return nil, fmt.Errorf("list all products: %w", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

func (r productRepository) UpdateProduct(ctx context.Context, product model.Product) error {
	price, err := numericFromDecimal(product.Price)
	if err != nil {
		return fmt.Errorf("scan price: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET
			name          = @name,
			description   = @description,
			price         = @price,
			unit          = @unit,
			supplier_name = @supplier_name,
			category      = @category,
			sku           = @sku,
			version       = @version,
			updated_at    = @updated_at
		WHERE id = @id;
	`, pgx.NamedArgs{
		"id":            product.ID,
		"name":          product.Name,
		"description":   product.Description,
		"price":         price,
		"unit":          product.Unit,
		"supplier_name": product.SupplierName,
		"category":      product.Category,
		"sku":           product.Sku,
		"version":       product.Version,
		"updated_at":    product.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ProductNotFoundErr
	}

	return nil
}

func scanProduct(row pgx.Row) (model.Product, error) {
	var (
		product   model.Product
		priceText string
	)

	if err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&priceText,
		&product.Unit,
		&product.SupplierName,
		&product.Category,
		&product.Sku,
		&product.Version,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, apperr.ProductNotFoundErr
		}
		return model.Product{}, fmt.Errorf("scan product: %w", err)
	}

	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return model.Product{}, fmt.Errorf("parse price: %w", err)
	}
	product.Price = price

	return product, nil
}

func numericFromDecimal(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{}, err
	}
	return n, nil
}
