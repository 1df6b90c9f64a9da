package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/verity-sec/verity/pkg/appender"
	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/store"
)

const defaultPurgeBatch = 100

// EventRecorder appends the synthetic redaction events the purge
// emits. Satisfied by *appender.Appender.
type EventRecorder interface {
	Append(ctx context.Context, event *domain.Event) (*domain.Entry, error)
}

// Stats summarizes one purge run.
type Stats struct {
	Scanned  int `json:"scanned"`
	Redacted int `json:"redacted"`
	Held     int `json:"held"`
}

// Purger tombstones entries whose retention period has elapsed. Legal
// holds win unconditionally: a held entry is skipped (and logged), not
// an error. Each redaction takes the tenant's append lock so purge and
// append never interleave on the same chain.
type Purger struct {
	Store    store.Store
	Holds    HoldRepo
	Locks    *appender.TenantLocks
	Recorder EventRecorder
	Policy   RedactionPolicy
	Logger   obs.Logger
	Metrics  obs.Metrics

	BatchSize int
	now       func() time.Time
}

// NewPurger creates a purge job sharing the appender's tenant locks.
func NewPurger(s store.Store, holds HoldRepo, locks *appender.TenantLocks, recorder EventRecorder, logger obs.Logger, metrics obs.Metrics) *Purger {
	if logger == nil {
		logger = obs.NewNoopLogger()
	}
	if metrics == nil {
		metrics = obs.NewNoopMetrics()
	}
	return &Purger{
		Store:     s,
		Holds:     holds,
		Locks:     locks,
		Recorder:  recorder,
		Policy:    DefaultRedactionPolicy(),
		Logger:    logger,
		Metrics:   metrics,
		BatchSize: defaultPurgeBatch,
		now:       time.Now,
	}
}

// Run scans expired entries in batches until exhausted or the context
// is canceled. Cancellation between entries is clean: completed
// redactions stay, pending ones wait for the next run.
func (p *Purger) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	now := p.now().UTC()

	batch := p.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}

	var cursor *store.PurgeKey
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		expired, err := p.Store.ExpiredEntries(ctx, now, cursor, batch)
		if err != nil {
			return stats, fmt.Errorf("list expired entries: %w", err)
		}
		if len(expired) == 0 {
			return stats, nil
		}

		for i := range expired {
			entry := &expired[i]
			cursor = &store.PurgeKey{TenantID: entry.TenantID, Sequence: entry.SequenceNumber}
			stats.Scanned++

			if err := ctx.Err(); err != nil {
				return stats, err
			}

			held, err := p.Holds.Active(ctx, entry.TenantID, entry.SequenceNumber)
			if err != nil {
				return stats, fmt.Errorf("check legal hold: %w", err)
			}
			if held {
				// Retention policy conflict: hold wins, purge skips.
				stats.Held++
				p.Metrics.IncCounter(obs.MetricPurgeSkippedTotal, 1,
					obs.Label{Key: "tenant", Value: string(entry.TenantID)})
				p.Logger.Warn(ctx, "purge skipped entry under legal hold", map[string]any{
					"tenant_id": entry.TenantID,
					"sequence":  entry.SequenceNumber,
				})
				continue
			}

			if err := p.redactEntry(ctx, entry); err != nil {
				return stats, err
			}
			stats.Redacted++
		}
	}
}

func (p *Purger) redactEntry(ctx context.Context, entry *domain.Entry) error {
	err := p.Locks.Do(string(entry.TenantID), func() error {
		tomb := Redact(entry, p.Policy)
		return p.Store.UpdateRedaction(ctx, tomb)
	})
	if err != nil {
		return fmt.Errorf("redact tenant %s sequence %d: %w",
			entry.TenantID, entry.SequenceNumber, err)
	}

	p.Metrics.IncCounter(obs.MetricRedactionsTotal, 1,
		obs.Label{Key: "tenant", Value: string(entry.TenantID)})
	p.Logger.Info(ctx, "entry redacted by retention purge", map[string]any{
		"tenant_id": entry.TenantID,
		"sequence":  entry.SequenceNumber,
	})

	// Redaction is itself auditable: record a synthetic compliance
	// event referencing the tombstoned position.
	if p.Recorder != nil {
		_, err := p.Recorder.Append(ctx, &domain.Event{
			TenantID: entry.TenantID,
			Type:     domain.EventTypeCompliance,
			Name:     "audit.entry_redacted",
			Details: map[string]any{
				"redacted_sequence": entry.SequenceNumber,
				"redacted_entry_id": string(entry.ID),
			},
		})
		if err != nil {
			return fmt.Errorf("record redaction event: %w", err)
		}
	}
	return nil
}
