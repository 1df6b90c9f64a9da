package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
)

// Canonicalize renders an entry's immutable fields as a deterministic
// byte string for hashing. Field order is fixed by the schema, nested
// detail maps are recursively sorted by key, numbers use a fixed
// textual form, and absent optional fields are omitted. Two logically
// identical entries always canonicalize to identical bytes.
//
// The entry_hash and original_hash fields are excluded: both are
// derived from the canonical bytes, not part of them.
func Canonicalize(e *domain.Entry) []byte {
	var b bytes.Buffer
	b.WriteByte('{')

	w := fieldWriter{buf: &b}
	w.str("id", string(e.ID))
	w.str("tenant_id", string(e.TenantID))
	w.uint("sequence_number", e.SequenceNumber)
	w.str("event_type", string(e.EventType))
	w.str("event_name", e.EventName)
	w.optStr("resource_type", e.ResourceType)
	w.optStr("resource_id", e.ResourceID)
	w.optStr("actor_user_id", e.ActorUserID)
	w.optStr("ip_address", e.IPAddress)
	w.optStr("user_agent", e.UserAgent)
	if len(e.Details) > 0 {
		w.key("details")
		writeValue(&b, e.Details)
	}
	if len(e.ComplianceTags) > 0 {
		tags := append([]string(nil), e.ComplianceTags...)
		sort.Strings(tags)
		w.key("compliance_tags")
		b.WriteByte('[')
		for i, tag := range tags {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(&b, tag)
		}
		b.WriteByte(']')
	}
	w.str("created_at", canonicalTime(e.CreatedAt))
	if !e.RetentionUntil.IsZero() {
		w.str("retention_until", canonicalTime(e.RetentionUntil))
	}
	w.bool("redacted", e.Redacted)
	w.str("prev_hash", e.PrevHash)

	b.WriteByte('}')
	return b.Bytes()
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type fieldWriter struct {
	buf   *bytes.Buffer
	wrote bool
}

func (w *fieldWriter) key(name string) {
	if w.wrote {
		w.buf.WriteByte(',')
	}
	w.wrote = true
	writeString(w.buf, name)
	w.buf.WriteByte(':')
}

func (w *fieldWriter) str(name, v string) {
	w.key(name)
	writeString(w.buf, v)
}

func (w *fieldWriter) optStr(name, v string) {
	if v == "" {
		return
	}
	w.str(name, v)
}

func (w *fieldWriter) uint(name string, v uint64) {
	w.key(name)
	w.buf.WriteString(strconv.FormatUint(v, 10))
}

func (w *fieldWriter) bool(name string, v bool) {
	w.key(name)
	w.buf.WriteString(strconv.FormatBool(v))
}

// writeValue renders an arbitrary details value. Maps are sorted by
// key so insertion order never leaks into the canonical form.
func writeValue(b *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		writeString(b, val)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case json.Number:
		// Preserve the literal form from the wire.
		b.WriteString(val.String())
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float64:
		// Shortest round-trip form, host independent.
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeString(b, k)
			b.WriteByte(':')
			writeValue(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	default:
		// Uncommon scalar types fall back to their JSON encoding.
		data, err := json.Marshal(val)
		if err != nil {
			writeString(b, fmt.Sprintf("%v", val))
			return
		}
		b.Write(data)
	}
}

func writeString(b *bytes.Buffer, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}

// DecodeDetails parses a JSON details document preserving numeric
// literals, so canonicalization of stored entries reproduces the bytes
// hashed at append time.
func DecodeDetails(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return out, nil
}

// EncodeDetails is the storage counterpart of DecodeDetails.
func EncodeDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	return json.Marshal(details)
}
