package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-sec/verity/pkg/domain"
)

func sampleEntries(t *testing.T) []domain.Entry {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	entries := make([]domain.Entry, 0, 5)
	prev := "a0a0"
	for i := uint64(1); i <= 5; i++ {
		e := domain.Entry{
			ID:             domain.EntryID("00000000-0000-0000-0000-00000000000" + string(rune('0'+i))),
			TenantID:       "acme",
			SequenceNumber: i,
			EventType:      domain.EventTypeAccess,
			EventName:      "document.viewed",
			ResourceType:   "document",
			ResourceID:     "doc-7",
			ActorUserID:    "user-42",
			IPAddress:      "10.0.0.8",
			UserAgent:      "curl/8.5",
			Details: map[string]any{
				"path":  "/reports/q1",
				"bytes": json.Number("2048"),
				"meta":  map[string]any{"region": "eu-west-1"},
			},
			ComplianceTags: []string{"GDPR", "SOC2"},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			RetentionUntil: base.AddDate(7, 0, 0),
			PrevHash:       prev,
			EntryHash:      "b1b1" + string(rune('0'+i)),
		}
		prev = e.EntryHash
		entries = append(entries, e)
	}
	return entries
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "csv", "siem"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, Format(name), f)
	}
	_, err := ParseFormat("xml")
	assert.ErrorIs(t, err, domain.ErrExportFormatUnsupported)

	_, err = New(Format("yaml"), Options{})
	assert.ErrorIs(t, err, domain.ErrExportFormatUnsupported)
}

func TestJSONExport_RoundTrip(t *testing.T) {
	entries := sampleEntries(t)
	exp, err := New(FormatJSON, Options{})
	require.NoError(t, err)
	assert.Equal(t, "application/json", exp.ContentType())

	var buf bytes.Buffer
	require.NoError(t, exp.Export(&buf, entries))

	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var decoded []domain.Entry
	require.NoError(t, dec.Decode(&decoded))
	require.Len(t, decoded, 5)

	for i := range entries {
		assert.Equal(t, entries[i].ID, decoded[i].ID)
		assert.Equal(t, entries[i].SequenceNumber, decoded[i].SequenceNumber)
		assert.Equal(t, entries[i].EventName, decoded[i].EventName)
		assert.Equal(t, entries[i].ComplianceTags, decoded[i].ComplianceTags)
		assert.Equal(t, entries[i].PrevHash, decoded[i].PrevHash)
		assert.Equal(t, entries[i].EntryHash, decoded[i].EntryHash)
		assert.True(t, entries[i].CreatedAt.Equal(decoded[i].CreatedAt))
		assert.Equal(t, "/reports/q1", decoded[i].Details["path"])
	}
}

func TestJSONExport_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	exp := &JSONExporter{}
	require.NoError(t, exp.Export(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestCSVExport(t *testing.T) {
	entries := sampleEntries(t)
	exp, err := New(FormatCSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", exp.ContentType())

	var buf bytes.Buffer
	require.NoError(t, exp.Export(&buf, entries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)

	header := records[0]
	require.Equal(t, len(fixedColumns)+3, len(header))
	assert.Equal(t, "id", header[0])
	// Flattened details columns sorted after the fixed set.
	assert.Equal(t, "details.bytes", header[len(fixedColumns)])
	assert.Equal(t, "details.meta.region", header[len(fixedColumns)+1])
	assert.Equal(t, "details.path", header[len(fixedColumns)+2])

	row := records[1]
	assert.Equal(t, "acme", row[1])
	assert.Equal(t, "1", row[2])
	assert.Equal(t, "GDPR;SOC2", row[10])
	assert.Equal(t, "2048", row[len(fixedColumns)])
	assert.Equal(t, "eu-west-1", row[len(fixedColumns)+1])
	assert.Equal(t, "/reports/q1", row[len(fixedColumns)+2])
}

func TestCSVExport_SparseDetails(t *testing.T) {
	entries := sampleEntries(t)[:2]
	entries[1].Details = map[string]any{"outcome": "ok"}

	var buf bytes.Buffer
	require.NoError(t, (&CSVExporter{}).Export(&buf, entries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Union of keys: bytes, meta.region, outcome, path.
	require.Equal(t, len(fixedColumns)+4, len(records[0]))
	assert.Equal(t, "details.outcome", records[0][len(fixedColumns)+2])
	assert.Equal(t, "", records[1][len(fixedColumns)+2])
	assert.Equal(t, "ok", records[2][len(fixedColumns)+2])
}

func TestCSVExport_ArrayDetails(t *testing.T) {
	entries := sampleEntries(t)[:1]
	entries[0].Details = map[string]any{
		"scopes": []any{"read", "write", json.Number("3")},
	}

	var buf bytes.Buffer
	require.NoError(t, (&CSVExporter{}).Export(&buf, entries))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "details.scopes", records[0][len(fixedColumns)])
	assert.Equal(t, `["read","write",3]`, records[1][len(fixedColumns)])
}

func TestCEFExport_Line(t *testing.T) {
	entries := sampleEntries(t)[:1]
	exp, err := New(FormatSIEM, Options{})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", exp.ContentType())

	var buf bytes.Buffer
	require.NoError(t, exp.Export(&buf, entries))

	line := strings.TrimSuffix(buf.String(), "\n")
	assert.True(t, strings.HasPrefix(line, "CEF:0|Verity|AuditLedger|1.0|document.viewed|document.viewed|3|"), line)
	assert.Contains(t, line, "cs1Label=tenantID cs1=acme")
	assert.Contains(t, line, "cn1Label=sequenceNumber cn1=1")
	assert.Contains(t, line, "suser=user-42")
	assert.Contains(t, line, "src=10.0.0.8")
	assert.Contains(t, line, "requestClientApplication=curl/8.5")
	assert.Contains(t, line, "cs2Label=complianceTags cs2=GDPR;SOC2")
	assert.Contains(t, line, "cs3Label=resource cs3=document/doc-7")
	assert.Contains(t, line, "cat=ACCESS")
}

func TestCEFSeverity(t *testing.T) {
	exp := &CEFExporter{SeverityOverrides: map[string]int{"billing.exported": 6}}
	cases := []struct {
		eventType domain.EventType
		eventName string
		want      int
	}{
		{domain.EventTypeSecurity, "security.breach", 10},
		{domain.EventTypeSecurity, "security.intrusion", 9},
		{domain.EventTypeSecurity, "security.alert", 8},
		{domain.EventTypeSecurity, "security.scan", 7},
		{domain.EventTypeAuth, "auth.login.failed", 5},
		{domain.EventTypeAuth, "auth.login.denied", 5},
		{domain.EventTypeAuth, "auth.login.success", 3},
		{domain.EventTypeAccess, "document.viewed", 3},
		{domain.EventTypeAccess, "billing.exported", 6},
	}
	for _, tc := range cases {
		got := exp.severity(&domain.Entry{EventType: tc.eventType, EventName: tc.eventName})
		assert.Equal(t, tc.want, got, tc.eventName)
	}
}

func TestCEFEscaping(t *testing.T) {
	entry := domain.Entry{
		ID:             "e1",
		TenantID:       "acme",
		SequenceNumber: 3,
		EventType:      domain.EventTypeAccess,
		EventName:      `pipe|name\here`,
		ActorUserID:    "a=b",
		CreatedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer
	require.NoError(t, (&CEFExporter{}).Export(&buf, []domain.Entry{entry}))
	line := buf.String()
	assert.Contains(t, line, `|pipe\|name\\here|`)
	assert.Contains(t, line, `suser=a\=b`)
}
