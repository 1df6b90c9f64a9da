package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/ledger"
)

// MemoryStore is a map-backed Store for tests and embedded use.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[domain.TenantID][]*domain.Entry // ordered by sequence
	states      map[domain.TenantID]domain.ChainState
	checkpoints map[domain.TenantID]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[domain.TenantID][]*domain.Entry),
		states:      make(map[domain.TenantID]domain.ChainState),
		checkpoints: make(map[domain.TenantID]Checkpoint),
	}
}

func (s *MemoryStore) ChainState(ctx context.Context, tenantID domain.TenantID) (domain.ChainState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.states[tenantID]; ok {
		return state, nil
	}
	return ledger.GenesisState(tenantID), nil
}

func (s *MemoryStore) AppendEntry(ctx context.Context, entry *domain.Entry, prev domain.ChainState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[entry.TenantID]
	if !ok {
		current = ledger.GenesisState(entry.TenantID)
	}
	if current.LastSequence != prev.LastSequence || current.LastHash != prev.LastHash {
		return fmt.Errorf("append tenant %s seq %d: %w",
			entry.TenantID, entry.SequenceNumber, domain.ErrConcurrentWriteConflict)
	}

	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], entry.Clone())
	s.states[entry.TenantID] = domain.ChainState{
		TenantID:     entry.TenantID,
		LastSequence: entry.SequenceNumber,
		LastHash:     entry.EntryHash,
	}
	return nil
}

func (s *MemoryStore) Entry(ctx context.Context, tenantID domain.TenantID, seq uint64) (*domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries[tenantID] {
		if e.SequenceNumber == seq {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("tenant %s sequence %d: %w", tenantID, seq, domain.ErrNotFound)
}

func (s *MemoryStore) ListRange(ctx context.Context, tenantID domain.TenantID, from, to uint64, limit int) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Entry
	for _, e := range s.entries[tenantID] {
		if e.SequenceNumber < from || e.SequenceNumber > to {
			continue
		}
		out = append(out, *e.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID domain.TenantID, f domain.Filter, after *domain.Cursor, limit int) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Entry
	for _, e := range s.entries[tenantID] {
		if !Matches(e, f) {
			continue
		}
		if after != nil {
			created := e.CreatedAt.UnixNano()
			if created < after.CreatedAtUnixNano ||
				(created == after.CreatedAtUnixNano && e.SequenceNumber <= after.Sequence) {
				continue
			}
		}
		out = append(out, *e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateRedaction(ctx context.Context, entry *domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries[entry.TenantID] {
		if e.SequenceNumber == entry.SequenceNumber {
			s.entries[entry.TenantID][i] = entry.Clone()
			return nil
		}
	}
	return fmt.Errorf("redact tenant %s sequence %d: %w", entry.TenantID, entry.SequenceNumber, domain.ErrNotFound)
}

func (s *MemoryStore) ExpiredEntries(ctx context.Context, now time.Time, after *PurgeKey, limit int) ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]domain.TenantID, 0, len(s.entries))
	for t := range s.entries {
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })

	var out []domain.Entry
	for _, tenant := range tenants {
		for _, e := range s.entries[tenant] {
			if e.Redacted || e.RetentionUntil.IsZero() || !now.After(e.RetentionUntil) {
				continue
			}
			if after != nil {
				if tenant < after.TenantID ||
					(tenant == after.TenantID && e.SequenceNumber <= after.Sequence) {
					continue
				}
			}
			out = append(out, *e.Clone())
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.TenantID] = cp
	return nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, tenantID domain.TenantID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp, ok := s.checkpoints[tenantID]; ok {
		out := cp
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStore) Close() error { return nil }

// Tamper mutates a stored entry in place without recomputing hashes.
// Test hook for exercising the verifier; never part of the Store
// interface.
func (s *MemoryStore) Tamper(tenantID domain.TenantID, seq uint64, mutate func(*domain.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[tenantID] {
		if e.SequenceNumber == seq {
			mutate(e)
			return true
		}
	}
	return false
}
