package propagation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memLease struct {
	holder    string
	expiresAt time.Time
}

// MemoryGuard is an in-process Guard for single-process deployments and
// tests. Cross-process deployments use the Postgres-backed lease repository.
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[uuid.UUID]memLease
	now    func() time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		leases: make(map[uuid.UUID]memLease),
		now:    time.Now,
	}
}

func (g *MemoryGuard) AcquireLease(_ context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, ok := g.leases[productID]
	if ok && lease.holder != holder && lease.expiresAt.After(g.now()) {
		return false, nil
	}

	g.leases[productID] = memLease{
		holder:    holder,
		expiresAt: g.now().Add(ttl),
	}
	return true, nil
}

func (g *MemoryGuard) RenewLease(_ context.Context, productID uuid.UUID, holder string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, ok := g.leases[productID]
	if !ok || lease.holder != holder || !lease.expiresAt.After(g.now()) {
		return false, nil
	}

	lease.expiresAt = g.now().Add(ttl)
	g.leases[productID] = lease
	return true, nil
}

// Held reports whether a live lease currently exists for the product.
func (g *MemoryGuard) Held(productID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, ok := g.leases[productID]
	return ok && lease.expiresAt.After(g.now())
}

func (g *MemoryGuard) ReleaseLease(_ context.Context, productID uuid.UUID, holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lease, ok := g.leases[productID]; ok && lease.holder == holder {
		delete(g.leases, productID)
	}
	return nil
}
