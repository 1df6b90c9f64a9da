package retention

import (
	"context"
	"sync"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
)

// HoldRepo reads and records legal hold flags. Hold policy is decided
// by the compliance service; this subsystem only stores the flags it
// is handed and honors them unconditionally at purge time.
type HoldRepo interface {
	// Active reports whether the entry is covered by a hold, either
	// entry-specific or tenant-wide.
	Active(ctx context.Context, tenantID domain.TenantID, seq uint64) (bool, error)
	// Set records a hold. Sequence 0 holds the whole tenant.
	Set(ctx context.Context, hold domain.LegalHold) error
	// Clear removes a hold previously recorded with the same scope.
	Clear(ctx context.Context, tenantID domain.TenantID, seq uint64) error
	// List returns the tenant's recorded holds.
	List(ctx context.Context, tenantID domain.TenantID) ([]domain.LegalHold, error)
}

// MemoryHoldRepo is a map-backed HoldRepo for tests and embedded use.
type MemoryHoldRepo struct {
	mu    sync.RWMutex
	holds map[domain.TenantID]map[uint64]domain.LegalHold
}

func NewMemoryHoldRepo() *MemoryHoldRepo {
	return &MemoryHoldRepo{holds: make(map[domain.TenantID]map[uint64]domain.LegalHold)}
}

func (r *MemoryHoldRepo) Active(ctx context.Context, tenantID domain.TenantID, seq uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.holds[tenantID]
	if !ok {
		return false, nil
	}
	if _, held := tenant[0]; held {
		return true, nil
	}
	_, held := tenant[seq]
	return held, nil
}

func (r *MemoryHoldRepo) Set(ctx context.Context, hold domain.LegalHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = time.Now().UTC()
	}
	tenant, ok := r.holds[hold.TenantID]
	if !ok {
		tenant = make(map[uint64]domain.LegalHold)
		r.holds[hold.TenantID] = tenant
	}
	tenant[hold.Sequence] = hold
	return nil
}

func (r *MemoryHoldRepo) Clear(ctx context.Context, tenantID domain.TenantID, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant, ok := r.holds[tenantID]; ok {
		delete(tenant, seq)
	}
	return nil
}

func (r *MemoryHoldRepo) List(ctx context.Context, tenantID domain.TenantID) ([]domain.LegalHold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.LegalHold
	for _, hold := range r.holds[tenantID] {
		out = append(out, hold)
	}
	return out, nil
}
