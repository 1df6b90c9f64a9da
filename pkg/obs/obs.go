// Package obs carries the logging and metrics seams the audit
// components depend on, so wiring stays swappable between production
// adapters and test doubles.
package obs

import "context"

type Label struct {
	Key   string
	Value string
}

type Metrics interface {
	IncCounter(name string, value float64, labels ...Label)
	ObserveHistogram(name string, value float64, labels ...Label)
	SetGauge(name string, value float64, labels ...Label)
}

type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, fields map[string]any)
}

// Metric names emitted by the audit subsystem.
const (
	MetricAppendsTotal      = "audit_appends_total"
	MetricAppendConflicts   = "audit_append_conflicts_total"
	MetricAppendSeconds     = "audit_append_duration_seconds"
	MetricBrokenLinksTotal  = "audit_broken_links_total"
	MetricRedactionsTotal   = "audit_redactions_total"
	MetricPurgeSkippedTotal = "audit_purge_skipped_total"
	MetricExportsTotal      = "audit_exports_total"
)
