// Package api exposes the audit subsystem over HTTP: event ingestion,
// paginated queries, integrity verification, compliance export and
// legal-hold administration.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verity-sec/verity/pkg/appender"
	"github.com/verity-sec/verity/pkg/archive"
	"github.com/verity-sec/verity/pkg/export"
	"github.com/verity-sec/verity/pkg/obs"
	"github.com/verity-sec/verity/pkg/query"
	"github.com/verity-sec/verity/pkg/retention"
	"github.com/verity-sec/verity/pkg/store"
	"github.com/verity-sec/verity/pkg/verifier"
)

// Server wires the audit components onto an http.ServeMux.
type Server struct {
	Appender *appender.Appender
	Query    *query.Service
	Verifier *verifier.Verifier
	Purger   *retention.Purger
	Holds    retention.HoldRepo
	Store    store.Store
	Archiver *archive.Archiver
	Logger   obs.Logger
	Metrics  obs.Metrics

	// ExportOptions carries CEF severity overrides into the exporter.
	ExportOptions export.Options

	// Registry, when set, serves /metrics via promhttp.
	Registry *prometheus.Registry
}

// New fills in noop observability for any nil seam.
func New(s Server) *Server {
	if s.Logger == nil {
		s.Logger = obs.NewNoopLogger()
	}
	if s.Metrics == nil {
		s.Metrics = obs.NewNoopMetrics()
	}
	return &s
}

// Routes assembles the mux with request logging around every handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /audit/events", s.handleAppend)
	mux.HandleFunc("GET /audit/logs", s.handleLogs)
	mux.HandleFunc("GET /audit/verify", s.handleVerify)
	mux.HandleFunc("GET /audit/export", s.handleExport)
	mux.HandleFunc("PUT /audit/legal-hold", s.handleSetHold)
	mux.HandleFunc("DELETE /audit/legal-hold", s.handleClearHold)
	mux.HandleFunc("GET /audit/legal-hold", s.handleListHolds)
	mux.HandleFunc("POST /audit/purge", s.handlePurge)
	if s.Archiver != nil {
		mux.HandleFunc("POST /audit/archive", s.handleArchive)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}

	return s.withLogging(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
