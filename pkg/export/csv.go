package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
)

// fixedColumns precede the flattened details columns in every CSV
// export, in this order.
var fixedColumns = []string{
	"id", "tenant_id", "sequence_number", "event_type", "event_name",
	"resource_type", "resource_id", "actor_user_id", "ip_address",
	"user_agent", "compliance_tags", "created_at", "retention_until",
	"redacted", "prev_hash", "entry_hash",
}

// CSVExporter writes one row per entry with a header row. Nested
// details keys are flattened with "." and appear as "details.<key>"
// columns, the union across all exported entries, sorted.
type CSVExporter struct{}

func (e *CSVExporter) ContentType() string { return "text/csv" }

func (e *CSVExporter) Export(w io.Writer, entries []domain.Entry) error {
	detailKeys := map[string]bool{}
	flattened := make([]map[string]string, len(entries))
	for i := range entries {
		flat := map[string]string{}
		flattenDetails("", entries[i].Details, flat)
		flattened[i] = flat
		for k := range flat {
			detailKeys[k] = true
		}
	}

	keys := make([]string, 0, len(detailKeys))
	for k := range detailKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := append([]string(nil), fixedColumns...)
	for _, k := range keys {
		header = append(header, "details."+k)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i := range entries {
		entry := &entries[i]
		row := []string{
			string(entry.ID),
			string(entry.TenantID),
			strconv.FormatUint(entry.SequenceNumber, 10),
			string(entry.EventType),
			entry.EventName,
			entry.ResourceType,
			entry.ResourceID,
			entry.ActorUserID,
			entry.IPAddress,
			entry.UserAgent,
			strings.Join(entry.ComplianceTags, ";"),
			entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			formatOptionalTime(entry.RetentionUntil),
			strconv.FormatBool(entry.Redacted),
			entry.PrevHash,
			entry.EntryHash,
		}
		for _, k := range keys {
			row = append(row, flattened[i][k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv export: %w", err)
	}
	return nil
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func flattenDetails(prefix string, value map[string]any, out map[string]string) {
	for k, v := range value {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenDetails(key, nested, out)
			continue
		}
		out[key] = detailString(v)
	}
}

func detailString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case json.Number:
		return val.String()
	default:
		// Arrays and other composites render as compact JSON rather
		// than Go syntax so downstream CSV consumers can parse them.
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
