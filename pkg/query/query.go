// Package query serves cursor-paginated reads over a tenant's audit
// log. Pagination keys on (created_at, sequence_number) so pages stay
// stable while appends continue.
package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Page is one query result page. NextCursor is empty when the page is
// short, meaning no further entries can exist.
type Page struct {
	Entries    []domain.Entry `json:"entries"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Service answers log queries against a Store.
type Service struct {
	Store  store.Store
	Logger obs.Logger
}

func New(st store.Store, logger obs.Logger) *Service {
	if logger == nil {
		logger = obs.NewNoopLogger()
	}
	return &Service{Store: st, Logger: logger}
}

// List returns a page of the tenant's entries matching the filter,
// resuming after cursor when one is given.
func (s *Service) List(ctx context.Context, tenantID domain.TenantID, f domain.Filter, cursor string, limit int) (*Page, error) {
	if tenantID == "" {
		return nil, domain.NewInvalidFilterError("tenant_id is required")
	}
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit)

	var after *domain.Cursor
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = c
	}

	entries, err := s.Store.List(ctx, tenantID, f, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", tenantID, err)
	}

	page := &Page{Entries: entries}
	if len(entries) == limit {
		last := entries[len(entries)-1]
		page.NextCursor = EncodeCursor(domain.Cursor{
			CreatedAtUnixNano: last.CreatedAt.UnixNano(),
			Sequence:          last.SequenceNumber,
		})
	}
	return page, nil
}

// ValidateFilter rejects filters a store cannot satisfy meaningfully.
func ValidateFilter(f domain.Filter) error {
	if f.EventType != "" && !f.EventType.Valid() {
		return domain.NewInvalidFilterError(fmt.Sprintf("unknown event type %q", f.EventType))
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return domain.NewInvalidFilterError("start must not be after end")
	}
	return nil
}

// ClampLimit maps a requested page size onto the allowed range.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Cursors are base64url-encoded JSON so clients treat them as opaque.

func EncodeCursor(c domain.Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(s string) (*domain.Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.NewInvalidFilterError("malformed cursor")
	}
	var c domain.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, domain.NewInvalidFilterError("malformed cursor")
	}
	return &c, nil
}
