package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/greenvalley/quoting/internal/storage/db"
)

// LeaseRepository stores per-product propagation leases in Postgres so the
// at-most-one-running-task invariant holds across processes. A lease not
// renewed within its TTL is reclaimable by another holder.
type LeaseRepository interface {
	WithDB(db db.DB) LeaseRepository
	AcquireLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, productID uuid.UUID, holder string) error
}

type leaseRepository struct {
	db db.DB
}

func NewLeaseRepository(db db.DB) LeaseRepository {
	return &leaseRepository{db: db}
}

func (r leaseRepository) WithDB(db db.DB) LeaseRepository {
	return &leaseRepository{db: db}
}

func (r leaseRepository) AcquireLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	var acquired uuid.UUID
	err := r.db.QueryRow(ctx, `
		INSERT INTO propagation_leases (product_id, holder, expires_at)
		VALUES (@product_id, @holder, NOW() + make_interval(secs => @ttl_secs))
		ON CONFLICT (product_id) DO UPDATE
		SET
			holder     = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE propagation_leases.expires_at < NOW()
			OR propagation_leases.holder = EXCLUDED.holder
		RETURNING product_id;
	`, pgx.NamedArgs{
		"product_id": productID,
		"holder":     holder,
		"ttl_secs":   ttl.Seconds(),
	}).Scan(&acquired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Live lease held by someone else.
			return false, nil
		}
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	return true, nil
}

func (r leaseRepository) RenewLease(ctx context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE propagation_leases
		SET expires_at = NOW() + make_interval(secs => @ttl_secs)
		WHERE product_id = @product_id
			AND holder = @holder
			AND expires_at > NOW();
	`, pgx.NamedArgs{
		"product_id": productID,
		"holder":     holder,
		"ttl_secs":   ttl.Seconds(),
	})
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r leaseRepository) ReleaseLease(ctx context.Context, productID uuid.UUID, holder string) error {
	if _, err := r.db.Exec(ctx, `
		DELETE FROM propagation_leases
		WHERE product_id = @product_id AND holder = @holder;
	`, pgx.NamedArgs{
		"product_id": productID,
		"holder":     holder,
	}); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}

	return nil
}
