package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/export"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/query"
)

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&event); err != nil {
		s.writeError(w, r, domain.NewInvalidEventError("body", "is not valid JSON"))
		return
	}

	entry, err := s.Appender.Append(r.Context(), &event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              entry.ID,
		"sequence_number": entry.SequenceNumber,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, domain.NewInvalidFilterError("limit is not an integer"))
			return
		}
	}

	page, err := s.Query.List(r.Context(), domain.TenantID(q.Get("tenant_id")), filter, q.Get("cursor"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := domain.TenantID(q.Get("tenant_id"))
	if tenantID == "" {
		s.writeError(w, r, domain.NewInvalidFilterError("tenant_id is required"))
		return
	}

	from, err := parseSeq(q.Get("start"), 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseSeq(q.Get("end"), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to == 0 {
		state, err := s.Store.ChainState(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("resolve chain head: %w", err))
			return
		}
		if state.LastSequence == 0 {
			writeJSON(w, http.StatusOK, &domain.VerificationResult{
				TenantID: tenantID, Verified: true, BrokenLinks: []domain.BrokenLink{},
			})
			return
		}
		to = state.LastSequence
	}

	result, err := s.Verifier.Verify(r.Context(), tenantID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.BrokenLinks == nil {
		result.BrokenLinks = []domain.BrokenLink{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := domain.TenantID(q.Get("tenant_id"))

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := parseFilter(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Drain all pages before writing: export either succeeds with a
	// complete payload or fails with a JSON error, never a torn body.
	var entries []domain.Entry
	cursor := ""
	for {
		page, err := s.Query.List(r.Context(), tenantID, filter, cursor, query.MaxLimit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entries = append(entries, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	exporter, err := export.New(format, s.ExportOptions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	if err := exporter.Export(w, entries); err != nil {
		s.Logger.Error(r.Context(), "export write failed", map[string]any{
			"tenant_id": tenantID,
			"format":    format,
			"error":     err.Error(),
		})
		return
	}
	s.Metrics.IncCounter(obs.MetricExportsTotal, 1,
		obs.Label{Key: "tenant", Value: string(tenantID)},
		obs.Label{Key: "format", Value: string(format)})
}

func (s *Server) handleSetHold(w http.ResponseWriter, r *http.Request) {
	var hold domain.LegalHold
	if err := json.NewDecoder(r.Body).Decode(&hold); err != nil {
		s.writeError(w, r, domain.NewInvalidFilterError("body is not valid JSON"))
		return
	}
	if hold.TenantID == "" {
		s.writeError(w, r, domain.NewInvalidFilterError("tenant_id is required"))
		return
	}
	if hold.CreatedAt.IsZero() {
		hold.CreatedAt = time.Now().UTC()
	}
	if err := s.Holds.Set(r.Context(), hold); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

func (s *Server) handleClearHold(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := domain.TenantID(q.Get("tenant_id"))
	if tenantID == "" {
		s.writeError(w, r, domain.NewInvalidFilterError("tenant_id is required"))
		return
	}
	seq, err := parseSeq(q.Get("sequence"), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Holds.Clear(r.Context(), tenantID, seq); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHolds(w http.ResponseWriter, r *http.Request) {
	tenantID := domain.TenantID(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		s.writeError(w, r, domain.NewInvalidFilterError("tenant_id is required"))
		return
	}
	holds, err := s.Holds.List(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if holds == nil {
		holds = []domain.LegalHold{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": holds})
}

// handleArchive snapshots a sealed sequence range into cold storage
// and returns the manifest. Internal admin surface; end defaults to
// the chain head.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := domain.TenantID(q.Get("tenant_id"))
	if tenantID == "" {
		s.writeError(w, r, domain.NewInvalidFilterError("tenant_id is required"))
		return
	}

	from, err := parseSeq(q.Get("start"), 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseSeq(q.Get("end"), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to == 0 {
		state, err := s.Store.ChainState(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("resolve chain head: %w", err))
			return
		}
		to = state.LastSequence
	}

	manifest, err := s.Archiver.Archive(r.Context(), tenantID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, manifest)
}

// handlePurge runs one retention sweep synchronously. Internal admin
// surface; the scheduler drives the same sweep in the background.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Purger.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseFilter(q url.Values) (domain.Filter, error) {
	f := domain.Filter{
		EventType:     domain.EventType(q.Get("event_type")),
		ResourceType:  q.Get("resource_type"),
		ResourceID:    q.Get("resource_id"),
		ComplianceTag: q.Get("compliance_tag"),
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, domain.NewInvalidFilterError("start is not an RFC 3339 timestamp")
		}
		f.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, domain.NewInvalidFilterError("end is not an RFC 3339 timestamp")
		}
		f.End = t
	}
	return f, nil
}

func parseSeq(raw string, fallback uint64) (uint64, error) {
	if raw == "" {
		return fallback, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, domain.NewInvalidFilterError(fmt.Sprintf("%q is not a sequence number", raw))
	}
	return seq, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrentWriteConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.Logger.Error(r.Context(), "request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
