// Package appender is the single write path into the audit ledger. It
// validates incoming events, seals them against the tenant's chain
// state and persists entry plus state as one atomic unit.
package appender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/ledger"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/store"
)

const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 10 * time.Millisecond
)

// RetentionSchedule computes when an entry becomes purge-eligible.
// Implemented by retention.Policy.
type RetentionSchedule interface {
	Until(createdAt time.Time, tags []string) time.Time
}

// Appender validates and appends audit events.
type Appender struct {
	Store     store.Store
	Locks     *TenantLocks
	Retention RetentionSchedule
	Logger    obs.Logger
	Metrics   obs.Metrics

	// MaxRetries bounds CAS retry attempts after the first try.
	MaxRetries int
	// RetryBackoff is the base delay between attempts, doubled each retry.
	RetryBackoff time.Duration

	now   func() time.Time
	newID func() string
}

// New creates an Appender with default retry settings.
func New(s store.Store, locks *TenantLocks, schedule RetentionSchedule, logger obs.Logger, metrics obs.Metrics) *Appender {
	if locks == nil {
		locks = NewTenantLocks()
	}
	if logger == nil {
		logger = obs.NewNoopLogger()
	}
	if metrics == nil {
		metrics = obs.NewNoopMetrics()
	}
	return &Appender{
		Store:        s,
		Locks:        locks,
		Retention:    schedule,
		Logger:       logger,
		Metrics:      metrics,
		MaxRetries:   defaultMaxRetries,
		RetryBackoff: defaultRetryBackoff,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// Append validates, seals and persists one event, returning the sealed
// entry. Under concurrent appends to the same tenant exactly one
// caller wins each sequence slot; losers retry against the advanced
// chain state up to MaxRetries before surfacing
// domain.ErrConcurrentWriteConflict.
func (a *Appender) Append(ctx context.Context, event *domain.Event) (*domain.Entry, error) {
	if err := ValidateEvent(event); err != nil {
		return nil, err
	}

	start := a.now()
	var entry *domain.Entry
	err := a.Locks.Do(string(event.TenantID), func() error {
		var err error
		entry, err = a.appendLocked(ctx, event)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.Metrics.IncCounter(obs.MetricAppendsTotal, 1,
		obs.Label{Key: "tenant", Value: string(event.TenantID)},
		obs.Label{Key: "event_type", Value: string(event.Type)})
	a.Metrics.ObserveHistogram(obs.MetricAppendSeconds, a.now().Sub(start).Seconds())
	a.Logger.Info(ctx, "audit entry appended", map[string]any{
		"tenant_id":  entry.TenantID,
		"sequence":   entry.SequenceNumber,
		"event_name": entry.EventName,
	})
	return entry, nil
}

func (a *Appender) appendLocked(ctx context.Context, event *domain.Event) (*domain.Entry, error) {
	backoff := a.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	for attempt := 0; ; attempt++ {
		state, err := a.Store.ChainState(ctx, event.TenantID)
		if err != nil {
			return nil, fmt.Errorf("read chain state: %w", err)
		}

		entry, err := a.buildEntry(event, state)
		if err != nil {
			return nil, err
		}

		hash, _, err := ledger.Seal(entry, state)
		if err != nil {
			return nil, err
		}
		entry.EntryHash = hash

		err = a.Store.AppendEntry(ctx, entry, state)
		if err == nil {
			return entry, nil
		}
		if !isConflict(err) {
			return nil, err
		}

		a.Metrics.IncCounter(obs.MetricAppendConflicts, 1,
			obs.Label{Key: "tenant", Value: string(event.TenantID)})
		if attempt >= a.MaxRetries {
			return nil, fmt.Errorf("append tenant %s after %d attempts: %w",
				event.TenantID, attempt+1, domain.ErrConcurrentWriteConflict)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (a *Appender) buildEntry(event *domain.Event, state domain.ChainState) (*domain.Entry, error) {
	// Normalize details through the storage codec so numeric literals
	// canonicalize identically at seal time and on later verification.
	raw, err := ledger.EncodeDetails(event.Details)
	if err != nil {
		return nil, domain.NewInvalidEventError("details", "is not serializable")
	}
	details, err := ledger.DecodeDetails(raw)
	if err != nil {
		return nil, domain.NewInvalidEventError("details", "is not serializable")
	}

	created := a.now().UTC()
	entry := &domain.Entry{
		ID:             domain.EntryID(a.newID()),
		TenantID:       event.TenantID,
		SequenceNumber: state.LastSequence + 1,
		EventType:      event.Type,
		EventName:      event.Name,
		ResourceType:   event.ResourceType,
		ResourceID:     event.ResourceID,
		ActorUserID:    event.ActorUserID,
		IPAddress:      event.IPAddress,
		UserAgent:      event.UserAgent,
		Details:        details,
		ComplianceTags: append([]string(nil), event.ComplianceTags...),
		CreatedAt:      created,
		PrevHash:       state.LastHash,
	}
	if a.Retention != nil {
		entry.RetentionUntil = a.Retention.Until(created, entry.ComplianceTags)
	}
	return entry, nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConcurrentWriteConflict) ||
		errors.Is(err, domain.ErrChainStateMismatch)
}

// ValidateEvent checks the required fields of an incoming event.
func ValidateEvent(event *domain.Event) error {
	if event == nil {
		return domain.NewInvalidEventError("event", "is required")
	}
	if strings.TrimSpace(string(event.TenantID)) == "" {
		return domain.NewInvalidEventError("tenant_id", "is required")
	}
	if event.Type == "" {
		return domain.NewInvalidEventError("event_type", "is required")
	}
	if !event.Type.Valid() {
		return domain.NewInvalidEventError("event_type",
			"must be one of "+knownEventTypes())
	}
	if strings.TrimSpace(event.Name) == "" {
		return domain.NewInvalidEventError("event_name", "is required")
	}
	return nil
}

func knownEventTypes() string {
	types := []domain.EventType{
		domain.EventTypeAccess, domain.EventTypeCreate, domain.EventTypeUpdate,
		domain.EventTypeDelete, domain.EventTypeAuth, domain.EventTypeSecurity,
		domain.EventTypeCompliance,
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.Quote(string(t))
	}
	return strings.Join(parts, ", ")
}
