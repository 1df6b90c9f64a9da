package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/verity-sec/verity/pkg/domain"
)

// GenesisHash returns the chain anchor for a tenant's first entry.
func GenesisHash(tenantID domain.TenantID) string {
	sum := sha256.Sum256([]byte(tenantID))
	return hex.EncodeToString(sum[:])
}

// GenesisState returns the chain state a tenant starts from before any
// entry has been appended.
func GenesisState(tenantID domain.TenantID) domain.ChainState {
	return domain.ChainState{
		TenantID:     tenantID,
		LastSequence: 0,
		LastHash:     GenesisHash(tenantID),
	}
}

// ComputeHash recomputes an entry's hash from its stored fields:
// SHA256(prev_hash || canonical_bytes). Pure and reproducible; used
// both at seal time and by the verifier.
func ComputeHash(e *domain.Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(Canonicalize(e))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal computes the hash for a candidate entry against the tenant's
// current chain state and returns the advanced state. No I/O. The
// candidate must carry PrevHash copied from state.LastHash and the
// next sequence number; anything else means the caller raced a
// concurrent append and is rejected before persistence.
func Seal(e *domain.Entry, state domain.ChainState) (string, domain.ChainState, error) {
	if e.TenantID != state.TenantID {
		return "", domain.ChainState{}, fmt.Errorf("seal: tenant %q against state for %q: %w",
			e.TenantID, state.TenantID, domain.ErrChainStateMismatch)
	}
	if e.PrevHash != state.LastHash {
		return "", domain.ChainState{}, fmt.Errorf("seal: prev_hash %s does not match chain head %s: %w",
			e.PrevHash, state.LastHash, domain.ErrChainStateMismatch)
	}
	if e.SequenceNumber != state.LastSequence+1 {
		return "", domain.ChainState{}, fmt.Errorf("seal: sequence %d, expected %d: %w",
			e.SequenceNumber, state.LastSequence+1, domain.ErrChainStateMismatch)
	}

	hash := ComputeHash(e)
	next := domain.ChainState{
		TenantID:     state.TenantID,
		LastSequence: e.SequenceNumber,
		LastHash:     hash,
	}
	return hash, next, nil
}
