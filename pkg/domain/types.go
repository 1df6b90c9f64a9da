package domain

import (
	"time"
)

// IDs

type TenantID string
type EntryID string

// Event taxonomy

type EventType string

const (
	EventTypeAccess     EventType = "ACCESS"
	EventTypeCreate     EventType = "CREATE"
	EventTypeUpdate     EventType = "UPDATE"
	EventTypeDelete     EventType = "DELETE"
	EventTypeAuth       EventType = "AUTH"
	EventTypeSecurity   EventType = "SECURITY"
	EventTypeCompliance EventType = "COMPLIANCE"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeAccess, EventTypeCreate, EventTypeUpdate, EventTypeDelete,
		EventTypeAuth, EventTypeSecurity, EventTypeCompliance:
		return true
	}
	return false
}

// Well-known compliance tags. Unknown tags are accepted and fall back to
// the default retention period.
const (
	TagHIPAA  = "HIPAA"
	TagSOC2   = "SOC2"
	TagGDPR   = "GDPR"
	TagPCIDSS = "PCI-DSS"
)

// Event is an incoming, unsealed audit event as submitted by a producer
// (auth service, SSO service, compliance service, webhook dispatcher).

type Event struct {
	TenantID       TenantID       `json:"tenant_id"`
	Type           EventType      `json:"event_type"`
	Name           string         `json:"event_name"` // dotted, e.g. "document.viewed"
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	ActorUserID    string         `json:"actor_user_id,omitempty"` // empty for system events
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Entry is a sealed, hash-chained audit log entry. Immutable once
// persisted, with the single exception of the retention tombstone
// transform.

type Entry struct {
	ID             EntryID        `json:"id"`
	TenantID       TenantID       `json:"tenant_id"`
	SequenceNumber uint64         `json:"sequence_number"`
	EventType      EventType      `json:"event_type"`
	EventName      string         `json:"event_name"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	ActorUserID    string         `json:"actor_user_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	ComplianceTags []string       `json:"compliance_tags,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	PrevHash       string         `json:"prev_hash"`
	EntryHash      string         `json:"entry_hash"`
	RetentionUntil time.Time      `json:"retention_until"`
	Redacted       bool           `json:"redacted"`

	// OriginalHash preserves the pre-redaction entry hash so the
	// successor's prev_hash link stays verifiable after a lawful
	// redaction. Empty unless Redacted is true.
	OriginalHash string `json:"original_hash,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Details != nil {
		out.Details = cloneMap(e.Details)
	}
	if e.ComplianceTags != nil {
		out.ComplianceTags = append([]string(nil), e.ComplianceTags...)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// LinkHash returns the hash a successor entry's prev_hash must match.
// For redacted entries that is the preserved pre-redaction hash.
func (e *Entry) LinkHash() string {
	if e.Redacted && e.OriginalHash != "" {
		return e.OriginalHash
	}
	return e.EntryHash
}

// ChainState is the per-tenant append ordering point. It is created
// lazily on a tenant's first event and mutated exactly once per append,
// atomically with the entry insert.

type ChainState struct {
	TenantID     TenantID `json:"tenant_id"`
	LastSequence uint64   `json:"last_sequence"`
	LastHash     string   `json:"last_hash"`
}

// Filter narrows a query or export to a subset of a tenant's entries.
// Zero values mean "no constraint".

type Filter struct {
	EventType     EventType `json:"event_type,omitempty"`
	ResourceType  string    `json:"resource_type,omitempty"`
	ResourceID    string    `json:"resource_id,omitempty"`
	ComplianceTag string    `json:"compliance_tag,omitempty"`
	Start         time.Time `json:"start,omitempty"`
	End           time.Time `json:"end,omitempty"`
}

// Cursor is the stable pagination position, keyed on
// (created_at, sequence_number) so ordering holds under concurrent
// appends.

type Cursor struct {
	CreatedAtUnixNano int64  `json:"c"`
	Sequence          uint64 `json:"s"`
}

// Verification

type BreakKind string

const (
	BreakHashMismatch     BreakKind = "HASH_MISMATCH"
	BreakPrevHashMismatch BreakKind = "PREV_HASH_MISMATCH"
	BreakSequenceGap      BreakKind = "SEQUENCE_GAP"
)

// BrokenLink records one integrity violation found by the verifier.

type BrokenLink struct {
	Sequence uint64    `json:"sequence"`
	Kind     BreakKind `json:"kind"`
	Details  string    `json:"details"`
}

// VerificationResult reports the outcome of a range verification.

type VerificationResult struct {
	TenantID    TenantID     `json:"tenant_id"`
	From        uint64       `json:"from"`
	To          uint64       `json:"to"`
	Scanned     uint64       `json:"scanned"`
	Verified    bool         `json:"verified"`
	BrokenLinks []BrokenLink `json:"broken_links"`
}

// LegalHold prevents retention-driven purge of specific entries.
// Sequence 0 holds the tenant's entire log.

type LegalHold struct {
	TenantID  TenantID  `json:"tenant_id"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
