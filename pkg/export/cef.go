package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/verity-sec/verity/pkg/domain"
)

const (
	cefVersion = "0"
	cefVendor  = "Verity"
	cefProduct = "AuditLedger"
	cefDevVer  = "1.0"
)

// CEFExporter writes one CEF line per entry:
//
//	CEF:0|Verity|AuditLedger|1.0|<event_name>|<event_name>|<severity>|<extensions>
//
// Extension mapping:
//
//	suser                    actor_user_id
//	src                      ip_address
//	requestClientApplication user_agent
//	end                      created_at (epoch milliseconds)
//	externalId               id
//	cs1/cs1Label             tenant_id
//	cs2/cs2Label             compliance_tags (";"-joined)
//	cs3/cs3Label             resource_type "/" resource_id
//	cn1/cn1Label             sequence_number
//	cat                      event_type
//	msg                      details (compact JSON)
//
// Severity derivation: SECURITY events map onto the 7..10 band by
// their sub-type (the last dotted segment of event_name), AUTH
// failures to 5, everything else to 3. SeverityOverrides wins over the
// rule for exact event names.
type CEFExporter struct {
	SeverityOverrides map[string]int
}

func (e *CEFExporter) ContentType() string { return "text/plain" }

func (e *CEFExporter) Export(w io.Writer, entries []domain.Entry) error {
	for i := range entries {
		if _, err := io.WriteString(w, e.line(&entries[i])+"\n"); err != nil {
			return fmt.Errorf("write cef line %d: %w", i, err)
		}
	}
	return nil
}

func (e *CEFExporter) line(entry *domain.Entry) string {
	name := cefHeaderEscape(entry.EventName)
	var b strings.Builder
	fmt.Fprintf(&b, "CEF:%s|%s|%s|%s|%s|%s|%d|",
		cefVersion, cefVendor, cefProduct, cefDevVer,
		name, name, e.severity(entry))

	ext := []string{
		"externalId=" + cefExtEscape(string(entry.ID)),
		"cat=" + cefExtEscape(string(entry.EventType)),
		fmt.Sprintf("end=%d", entry.CreatedAt.UTC().UnixMilli()),
		"cs1Label=tenantID",
		"cs1=" + cefExtEscape(string(entry.TenantID)),
		fmt.Sprintf("cn1Label=sequenceNumber cn1=%d", entry.SequenceNumber),
	}
	if entry.ActorUserID != "" {
		ext = append(ext, "suser="+cefExtEscape(entry.ActorUserID))
	}
	if entry.IPAddress != "" {
		ext = append(ext, "src="+cefExtEscape(entry.IPAddress))
	}
	if entry.UserAgent != "" {
		ext = append(ext, "requestClientApplication="+cefExtEscape(entry.UserAgent))
	}
	if len(entry.ComplianceTags) > 0 {
		ext = append(ext, "cs2Label=complianceTags cs2="+cefExtEscape(strings.Join(entry.ComplianceTags, ";")))
	}
	if entry.ResourceType != "" {
		resource := entry.ResourceType
		if entry.ResourceID != "" {
			resource += "/" + entry.ResourceID
		}
		ext = append(ext, "cs3Label=resource cs3="+cefExtEscape(resource))
	}
	if len(entry.Details) > 0 {
		if data, err := json.Marshal(entry.Details); err == nil {
			ext = append(ext, "msg="+cefExtEscape(string(data)))
		}
	}

	b.WriteString(strings.Join(ext, " "))
	return b.String()
}

// securitySeverities maps a SECURITY event's sub-type onto the 7..10
// band. Unlisted sub-types use the band floor.
var securitySeverities = map[string]int{
	"breach":    10,
	"tamper":    10,
	"intrusion": 9,
	"alert":     8,
	"violation": 8,
}

func (e *CEFExporter) severity(entry *domain.Entry) int {
	if sev, ok := e.SeverityOverrides[entry.EventName]; ok {
		return sev
	}
	switch entry.EventType {
	case domain.EventTypeSecurity:
		sub := entry.EventName
		if idx := strings.LastIndexByte(sub, '.'); idx >= 0 {
			sub = sub[idx+1:]
		}
		if sev, ok := securitySeverities[sub]; ok {
			return sev
		}
		return 7
	case domain.EventTypeAuth:
		if isAuthFailure(entry.EventName) {
			return 5
		}
	}
	return 3
}

func isAuthFailure(name string) bool {
	return strings.HasSuffix(name, ".failure") ||
		strings.HasSuffix(name, ".failed") ||
		strings.HasSuffix(name, ".denied") ||
		strings.HasSuffix(name, ".lockout")
}

// Header fields escape backslash and pipe; extension values escape
// backslash, equals and newlines.
func cefHeaderEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `|`, `\|`)
}

func cefExtEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `=`, `\=`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return strings.ReplaceAll(s, "\r", `\r`)
}
