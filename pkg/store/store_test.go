package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/ledger"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQL(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func appendN(t *testing.T, s Store, tenant domain.TenantID, n int) []domain.Entry {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var out []domain.Entry
	for i := 0; i < n; i++ {
		state, err := s.ChainState(ctx, tenant)
		require.NoError(t, err)

		entry := &domain.Entry{
			ID:             domain.EntryID(string(tenant) + "-" + time.Now().Format("150405.000000000") + string(rune('a'+i))),
			TenantID:       tenant,
			SequenceNumber: state.LastSequence + 1,
			EventType:      domain.EventTypeAccess,
			EventName:      "document.viewed",
			ResourceType:   "document",
			ResourceID:     "doc-1",
			ActorUserID:    "user-1",
			Details:        map[string]any{"n": int64(i)},
			ComplianceTags: []string{domain.TagSOC2},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			PrevHash:       state.LastHash,
			RetentionUntil: base.AddDate(7, 0, 0),
		}
		hash, _, err := ledger.Seal(entry, state)
		require.NoError(t, err)
		entry.EntryHash = hash

		require.NoError(t, s.AppendEntry(ctx, entry, state))
		out = append(out, *entry)
	}
	return out
}

func TestStore_AppendAndChainState(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			state, err := s.ChainState(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), state.LastSequence)
			assert.Equal(t, ledger.GenesisHash("acme"), state.LastHash)

			entries := appendN(t, s, "acme", 3)

			state, err = s.ChainState(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, uint64(3), state.LastSequence)
			assert.Equal(t, entries[2].EntryHash, state.LastHash)

			got, err := s.Entry(ctx, "acme", 2)
			require.NoError(t, err)
			assert.Equal(t, entries[1].EntryHash, got.EntryHash)
			assert.Equal(t, entries[1].Details["n"], got.Details["n"])
		})
	}
}

func TestStore_AppendDetectsLostRace(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := appendN(t, s, "acme", 1)

			// Replay the same append against the now-stale genesis state.
			stale := ledger.GenesisState("acme")
			dup := entries[0]
			dup.ID = "dup-id"
			err := s.AppendEntry(ctx, &dup, stale)
			assert.ErrorIs(t, err, domain.ErrConcurrentWriteConflict)

			state, err := s.ChainState(ctx, "acme")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), state.LastSequence)
		})
	}
}

func TestStore_TenantIsolation(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			appendN(t, s, "tenant-a", 2)
			appendN(t, s, "tenant-b", 3)

			entries, err := s.List(ctx, "tenant-a", domain.Filter{}, nil, 0)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			for _, e := range entries {
				assert.Equal(t, domain.TenantID("tenant-a"), e.TenantID)
			}
		})
	}
}

func TestStore_ListFiltersAndCursor(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := appendN(t, s, "acme", 5)

			page1, err := s.List(ctx, "acme", domain.Filter{}, nil, 2)
			require.NoError(t, err)
			require.Len(t, page1, 2)
			assert.Equal(t, uint64(1), page1[0].SequenceNumber)

			cursor := &domain.Cursor{
				CreatedAtUnixNano: page1[1].CreatedAt.UnixNano(),
				Sequence:          page1[1].SequenceNumber,
			}
			page2, err := s.List(ctx, "acme", domain.Filter{}, cursor, 2)
			require.NoError(t, err)
			require.Len(t, page2, 2)
			assert.Equal(t, uint64(3), page2[0].SequenceNumber)

			// Filter by event type eliminates everything.
			none, err := s.List(ctx, "acme", domain.Filter{EventType: domain.EventTypeDelete}, nil, 0)
			require.NoError(t, err)
			assert.Empty(t, none)

			// Date range covering only the last two entries.
			ranged, err := s.List(ctx, "acme", domain.Filter{Start: entries[3].CreatedAt}, nil, 0)
			require.NoError(t, err)
			assert.Len(t, ranged, 2)

			// Compliance tag filter.
			tagged, err := s.List(ctx, "acme", domain.Filter{ComplianceTag: domain.TagSOC2}, nil, 0)
			require.NoError(t, err)
			assert.Len(t, tagged, 5)
			untagged, err := s.List(ctx, "acme", domain.Filter{ComplianceTag: domain.TagGDPR}, nil, 0)
			require.NoError(t, err)
			assert.Empty(t, untagged)
		})
	}
}

// appendTagged appends one entry per tag set, in order.
func appendTagged(t *testing.T, s Store, tenant domain.TenantID, tagSets [][]string) []domain.Entry {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var out []domain.Entry
	for i, tags := range tagSets {
		state, err := s.ChainState(ctx, tenant)
		require.NoError(t, err)

		entry := &domain.Entry{
			ID:             domain.EntryID(string(tenant) + "-tagged-" + string(rune('a'+i))),
			TenantID:       tenant,
			SequenceNumber: state.LastSequence + 1,
			EventType:      domain.EventTypeAccess,
			EventName:      "document.viewed",
			ComplianceTags: tags,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			PrevHash:       state.LastHash,
			RetentionUntil: base.AddDate(7, 0, 0),
		}
		hash, _, err := ledger.Seal(entry, state)
		require.NoError(t, err)
		entry.EntryHash = hash

		require.NoError(t, s.AppendEntry(ctx, entry, state))
		out = append(out, *entry)
	}
	return out
}

func TestStore_TagFilterWithLimit(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Tagged entries sit beyond a limit-sized window of
			// untagged ones; the limit must count matches, not rows
			// scanned.
			appendTagged(t, s, "acme", [][]string{
				nil,
				nil,
				{domain.TagGDPR},
				nil,
				{domain.TagGDPR, domain.TagSOC2},
				nil,
				{domain.TagGDPR},
			})
			filter := domain.Filter{ComplianceTag: domain.TagGDPR}

			page, err := s.List(ctx, "acme", filter, nil, 2)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, uint64(3), page[0].SequenceNumber)
			assert.Equal(t, uint64(5), page[1].SequenceNumber)

			cursor := &domain.Cursor{
				CreatedAtUnixNano: page[1].CreatedAt.UnixNano(),
				Sequence:          page[1].SequenceNumber,
			}
			rest, err := s.List(ctx, "acme", filter, cursor, 2)
			require.NoError(t, err)
			require.Len(t, rest, 1)
			assert.Equal(t, uint64(7), rest[0].SequenceNumber)

			// A tag that is a substring of a stored tag must not match.
			none, err := s.List(ctx, "acme", domain.Filter{ComplianceTag: "GDP"}, nil, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_ListRange(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			appendN(t, s, "acme", 5)

			entries, err := s.ListRange(ctx, "acme", 2, 4, 0)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, uint64(2), entries[0].SequenceNumber)
			assert.Equal(t, uint64(4), entries[2].SequenceNumber)
		})
	}
}

func TestStore_RedactionAndExpiry(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entries := appendN(t, s, "acme", 2)

			// Nothing expired before retention_until.
			expired, err := s.ExpiredEntries(ctx, entries[0].CreatedAt.AddDate(1, 0, 0), nil, 0)
			require.NoError(t, err)
			assert.Empty(t, expired)

			farFuture := entries[0].CreatedAt.AddDate(10, 0, 0)
			expired, err = s.ExpiredEntries(ctx, farFuture, nil, 0)
			require.NoError(t, err)
			require.Len(t, expired, 2)

			// Tombstone the first entry.
			tomb := entries[0]
			tomb.ActorUserID = "[REDACTED]"
			tomb.IPAddress = "[REDACTED]"
			tomb.UserAgent = "[REDACTED]"
			tomb.Details = map[string]any{"tombstone": "[REDACTED]"}
			tomb.Redacted = true
			tomb.OriginalHash = tomb.EntryHash
			tomb.EntryHash = ledger.ComputeHash(&tomb)
			require.NoError(t, s.UpdateRedaction(ctx, &tomb))

			got, err := s.Entry(ctx, "acme", 1)
			require.NoError(t, err)
			assert.True(t, got.Redacted)
			assert.Equal(t, "[REDACTED]", got.ActorUserID)
			assert.Equal(t, entries[0].EntryHash, got.OriginalHash)
			assert.Equal(t, tomb.EntryHash, got.EntryHash)

			// Redacted entries drop out of expiry scans.
			expired, err = s.ExpiredEntries(ctx, farFuture, nil, 0)
			require.NoError(t, err)
			require.Len(t, expired, 1)
			assert.Equal(t, uint64(2), expired[0].SequenceNumber)

			// Pagination key skips past already-visited entries.
			key := &PurgeKey{TenantID: "acme", Sequence: 2}
			expired, err = s.ExpiredEntries(ctx, farFuture, key, 0)
			require.NoError(t, err)
			assert.Empty(t, expired)
		})
	}
}

func TestStore_Checkpoints(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cp, err := s.LoadCheckpoint(ctx, "acme")
			require.NoError(t, err)
			assert.Nil(t, cp)

			require.NoError(t, s.SaveCheckpoint(ctx, Checkpoint{
				TenantID: "acme", Sequence: 10, LinkHash: "abc",
			}))
			require.NoError(t, s.SaveCheckpoint(ctx, Checkpoint{
				TenantID: "acme", Sequence: 20, LinkHash: "def",
			}))

			cp, err = s.LoadCheckpoint(ctx, "acme")
			require.NoError(t, err)
			require.NotNil(t, cp)
			assert.Equal(t, uint64(20), cp.Sequence)
			assert.Equal(t, "def", cp.LinkHash)
		})
	}
}
