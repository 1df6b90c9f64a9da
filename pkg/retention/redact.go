package retention

import (
	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/ledger"
)

// Tombstone is the fixed marker that replaces redacted content.
const Tombstone = "[REDACTED]"

// RedactionPolicy selects which optional fields the tombstone
// transform clears. Details are always tombstoned; the rest are
// deployment configuration.
type RedactionPolicy struct {
	IPAddress   bool `yaml:"ip_address"`
	UserAgent   bool `yaml:"user_agent"`
	ActorUserID bool `yaml:"actor_user_id"`
}

// DefaultRedactionPolicy tombstones every redactable field.
func DefaultRedactionPolicy() RedactionPolicy {
	return RedactionPolicy{IPAddress: true, UserAgent: true, ActorUserID: true}
}

// Redact applies the tombstone transform to a copy of the entry: the
// redactable content is replaced with fixed markers, the pre-redaction
// hash is preserved in original_hash for the successor link and the
// entry hash is recomputed over the tombstone content with the
// original prev_hash unchanged. No other mutation of a sealed entry
// exists anywhere in this codebase; keep it that way.
func Redact(entry *domain.Entry, policy RedactionPolicy) *domain.Entry {
	tomb := entry.Clone()
	tomb.Details = map[string]any{"tombstone": Tombstone}
	if policy.IPAddress && tomb.IPAddress != "" {
		tomb.IPAddress = Tombstone
	}
	if policy.UserAgent && tomb.UserAgent != "" {
		tomb.UserAgent = Tombstone
	}
	if policy.ActorUserID && tomb.ActorUserID != "" {
		tomb.ActorUserID = Tombstone
	}
	tomb.Redacted = true
	if !entry.Redacted {
		tomb.OriginalHash = entry.EntryHash
	}
	tomb.EntryHash = ledger.ComputeHash(tomb)
	return tomb
}
