// Package archive ships sealed audit log ranges to cold storage as
// JSON snapshots, for off-box retention and third-party verification.
// Blob stores are pluggable: a local filesystem store and an S3 store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/export"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/store"
)

// BlobStore is the cold-storage boundary.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Manifest describes one archived snapshot.
type Manifest struct {
	TenantID   domain.TenantID `json:"tenant_id"`
	From       uint64          `json:"from"`
	To         uint64          `json:"to"`
	Entries    int             `json:"entries"`
	HeadHash   string          `json:"head_hash"`
	ArchivedAt time.Time       `json:"archived_at"`
	Key        string          `json:"key"`
}

// Archiver snapshots sealed entry ranges into a BlobStore.
type Archiver struct {
	Source store.Store
	Blobs  BlobStore
	Logger obs.Logger

	// BatchSize bounds each ListRange read.
	BatchSize int

	now func() time.Time
}

func New(source store.Store, blobs BlobStore, logger obs.Logger) *Archiver {
	if logger == nil {
		logger = obs.NewNoopLogger()
	}
	return &Archiver{
		Source:    source,
		Blobs:     blobs,
		Logger:    logger,
		BatchSize: 500,
		now:       time.Now,
	}
}

// Key returns the blob key for a tenant range snapshot.
func Key(tenantID domain.TenantID, from, to uint64) string {
	return fmt.Sprintf("audit/%s/%d-%d.json", tenantID, from, to)
}

func manifestKey(tenantID domain.TenantID, from, to uint64) string {
	return fmt.Sprintf("audit/%s/%d-%d.manifest.json", tenantID, from, to)
}

// Archive snapshots the tenant's entries in [from, to] as a JSON
// export plus a manifest. The snapshot carries entry and prev hashes,
// so an auditor can re-verify the chain without store access.
func (a *Archiver) Archive(ctx context.Context, tenantID domain.TenantID, from, to uint64) (*Manifest, error) {
	if tenantID == "" {
		return nil, domain.NewInvalidFilterError("tenant_id is required")
	}
	if from == 0 || to < from {
		return nil, domain.NewInvalidFilterError(fmt.Sprintf("invalid archive range [%d, %d]", from, to))
	}

	var entries []domain.Entry
	next := from
	for next <= to {
		batch, err := a.Source.ListRange(ctx, tenantID, next, to, a.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("read archive range for %s: %w", tenantID, err)
		}
		if len(batch) == 0 {
			break
		}
		entries = append(entries, batch...)
		next = batch[len(batch)-1].SequenceNumber + 1
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive range [%d, %d] for %s: %w", from, to, tenantID, domain.ErrNotFound)
	}

	var buf bytes.Buffer
	exporter := &export.JSONExporter{}
	if err := exporter.Export(&buf, entries); err != nil {
		return nil, fmt.Errorf("render snapshot for %s: %w", tenantID, err)
	}

	key := Key(tenantID, from, to)
	if err := a.Blobs.Put(ctx, key, &buf); err != nil {
		return nil, fmt.Errorf("store snapshot %s: %w", key, err)
	}

	m := &Manifest{
		TenantID:   tenantID,
		From:       from,
		To:         to,
		Entries:    len(entries),
		HeadHash:   entries[len(entries)-1].EntryHash,
		ArchivedAt: a.now().UTC(),
		Key:        key,
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest for %s: %w", key, err)
	}
	if err := a.Blobs.Put(ctx, manifestKey(tenantID, from, to), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store manifest for %s: %w", key, err)
	}

	a.Logger.Info(ctx, "archived audit range", map[string]any{
		"tenant_id": tenantID,
		"from":      from,
		"to":        to,
		"entries":   len(entries),
		"key":       key,
	})
	return m, nil
}

// Load reads back an archived snapshot.
func (a *Archiver) Load(ctx context.Context, tenantID domain.TenantID, from, to uint64) ([]domain.Entry, error) {
	rc, err := a.Blobs.Get(ctx, Key(tenantID, from, to))
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", tenantID, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	dec.UseNumber()
	var entries []domain.Entry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", tenantID, err)
	}
	return entries, nil
}

// Manifest reads back a snapshot's manifest.
func (a *Archiver) Manifest(ctx context.Context, tenantID domain.TenantID, from, to uint64) (*Manifest, error) {
	rc, err := a.Blobs.Get(ctx, manifestKey(tenantID, from, to))
	if err != nil {
		return nil, fmt.Errorf("load manifest for %s: %w", tenantID, err)
	}
	defer rc.Close()

	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", tenantID, err)
	}
	return &m, nil
}
