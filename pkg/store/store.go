// Package store persists audit entries and per-tenant chain state.
// Implementations must make AppendEntry atomic: the entry insert and
// the chain-state advance either both commit or neither does.
package store

import (
	"context"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
)

// Checkpoint is a verifier resume position: the last confirmed
// sequence and the link hash to expect next.
type Checkpoint struct {
	TenantID  domain.TenantID `json:"tenant_id"`
	Sequence  uint64          `json:"sequence"`
	LinkHash  string          `json:"link_hash"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PurgeKey is the batch cursor for retention scans, ordered by
// (tenant_id, sequence_number).
type PurgeKey struct {
	TenantID domain.TenantID
	Sequence uint64
}

// Store is the persistence boundary of the audit subsystem.
type Store interface {
	// ChainState returns the tenant's current chain head, or the genesis
	// state if the tenant has no entries yet.
	ChainState(ctx context.Context, tenantID domain.TenantID) (domain.ChainState, error)

	// AppendEntry persists a sealed entry and advances the chain state in
	// one atomic unit, compare-and-swapping against prev. Returns
	// domain.ErrConcurrentWriteConflict if the stored state no longer
	// matches prev.
	AppendEntry(ctx context.Context, entry *domain.Entry, prev domain.ChainState) error

	// Entry fetches one entry by tenant and sequence number.
	Entry(ctx context.Context, tenantID domain.TenantID, seq uint64) (*domain.Entry, error)

	// ListRange streams entries with from <= sequence_number <= to in
	// ascending sequence order, up to limit.
	ListRange(ctx context.Context, tenantID domain.TenantID, from, to uint64, limit int) ([]domain.Entry, error)

	// List returns filtered entries ordered by (created_at,
	// sequence_number), strictly after the cursor when one is given.
	List(ctx context.Context, tenantID domain.TenantID, f domain.Filter, after *domain.Cursor, limit int) ([]domain.Entry, error)

	// UpdateRedaction replaces an entry's redactable content with its
	// tombstoned form. The only permitted mutation of a sealed entry.
	UpdateRedaction(ctx context.Context, entry *domain.Entry) error

	// ExpiredEntries returns unredacted entries whose retention_until has
	// passed, ordered by (tenant_id, sequence_number) after the key.
	ExpiredEntries(ctx context.Context, now time.Time, after *PurgeKey, limit int) ([]domain.Entry, error)

	// SaveCheckpoint records a verifier resume position for a tenant.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the tenant's verifier checkpoint, or nil if
	// none exists.
	LoadCheckpoint(ctx context.Context, tenantID domain.TenantID) (*Checkpoint, error)

	Close() error
}

// Matches reports whether an entry satisfies a filter. Shared by the
// memory store and by export paths that post-filter.
func Matches(e *domain.Entry, f domain.Filter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.ComplianceTag != "" {
		found := false
		for _, tag := range e.ComplianceTags {
			if tag == f.ComplianceTag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Start.IsZero() && e.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.CreatedAt.After(f.End) {
		return false
	}
	return true
}
