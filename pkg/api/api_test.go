package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-sec/verity/pkg/appender"
	"github.com/verity-sec/verity/pkg/archive"
	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/query"
	"github.com/verity-sec/verity/pkg/retention"
	"github.com/verity-sec/verity/pkg/store"
	"github.com/verity-sec/verity/pkg/verifier"
)

type fixture struct {
	server *httptest.Server
	store  *store.MemoryStore
	app    *appender.Appender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	locks := appender.NewTenantLocks()
	app := appender.New(st, locks, retention.DefaultPolicy(), nil, nil)
	holds := retention.NewMemoryHoldRepo()
	purger := retention.NewPurger(st, holds, locks, app, nil, nil)
	blobs, err := archive.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srv := New(Server{
		Appender: app,
		Query:    query.New(st, nil),
		Verifier: verifier.New(st, nil, nil),
		Purger:   purger,
		Holds:    holds,
		Store:    st,
		Archiver: archive.New(st, blobs, nil),
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, store: st, app: app}
}

func (f *fixture) appendEvents(t *testing.T, tenant string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.app.Append(context.Background(), &domain.Event{
			TenantID:    domain.TenantID(tenant),
			Type:        domain.EventTypeAccess,
			Name:        "document.viewed",
			ActorUserID: "user-1",
		})
		require.NoError(t, err)
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAppendEndpoint(t *testing.T) {
	f := newFixture(t)

	body := `{
		"tenant_id": "acme",
		"event_type": "AUTH",
		"event_name": "auth.login.success",
		"actor_user_id": "user-9",
		"ip_address": "10.1.2.3",
		"details": {"mfa": true}
	}`
	resp, err := http.Post(f.server.URL+"/audit/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ID             string `json:"id"`
		SequenceNumber uint64 `json:"sequence_number"`
	}
	decodeBody(t, resp, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, uint64(1), out.SequenceNumber)
}

func TestAppendEndpoint_Invalid(t *testing.T) {
	f := newFixture(t)

	cases := []string{
		`{"tenant_id": "", "event_type": "AUTH", "event_name": "auth.login.success"}`,
		`{"tenant_id": "acme", "event_type": "BOGUS", "event_name": "x"}`,
		`{"tenant_id": "acme", "event_type": "AUTH", "event_name": ""}`,
		`not json`,
	}
	for _, body := range cases {
		resp, err := http.Post(f.server.URL+"/audit/events", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 5)

	resp, err := http.Get(f.server.URL + "/audit/logs?tenant_id=acme&limit=3")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Entries    []domain.Entry `json:"entries"`
		NextCursor string         `json:"next_cursor"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Entries, 3)
	require.NotEmpty(t, page.NextCursor)

	resp, err = http.Get(f.server.URL + "/audit/logs?tenant_id=acme&limit=3&cursor=" + url.QueryEscape(page.NextCursor))
	require.NoError(t, err)
	page.Entries, page.NextCursor = nil, ""
	decodeBody(t, resp, &page)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, uint64(4), page.Entries[0].SequenceNumber)
	assert.Empty(t, page.NextCursor)
}

func TestLogsEndpoint_BadFilter(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{
		"tenant_id=acme&event_type=BOGUS",
		"tenant_id=acme&start=yesterday",
		"tenant_id=acme&limit=ten",
		"event_type=AUTH",
	} {
		resp, err := http.Get(f.server.URL + "/audit/logs?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 4)

	resp, err := http.Get(f.server.URL + "/audit/verify?tenant_id=acme")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result domain.VerificationResult
	decodeBody(t, resp, &result)
	assert.True(t, result.Verified)
	assert.Equal(t, uint64(4), result.Scanned)
	assert.Empty(t, result.BrokenLinks)
}

func TestVerifyEndpoint_DetectsTampering(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 4)
	f.store.Tamper("acme", 2, func(e *domain.Entry) {
		e.ActorUserID = "mallory"
	})

	resp, err := http.Get(f.server.URL + "/audit/verify?tenant_id=acme&start=1&end=4")
	require.NoError(t, err)

	var result domain.VerificationResult
	decodeBody(t, resp, &result)
	assert.False(t, result.Verified)
	require.Len(t, result.BrokenLinks, 1)
	assert.Equal(t, uint64(2), result.BrokenLinks[0].Sequence)
	assert.Equal(t, domain.BreakHashMismatch, result.BrokenLinks[0].Kind)
}

func TestVerifyEndpoint_EmptyTenant(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/audit/verify?tenant_id=ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result domain.VerificationResult
	decodeBody(t, resp, &result)
	assert.True(t, result.Verified)
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 3)

	resp, err := http.Get(f.server.URL + "/audit/export?tenant_id=acme&format=json")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var entries []domain.Entry
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 3)

	resp, err = http.Get(f.server.URL + "/audit/export?tenant_id=acme&format=csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	resp, err = http.Get(f.server.URL + "/audit/export?tenant_id=acme&format=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLegalHoldEndpoints(t *testing.T) {
	f := newFixture(t)
	client := f.server.Client()

	put := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, f.server.URL+"/audit/legal-hold", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := put(`{"tenant_id": "acme", "sequence": 3, "reason": "litigation"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(f.server.URL + "/audit/legal-hold?tenant_id=acme")
	require.NoError(t, err)
	var listing struct {
		Holds []domain.LegalHold `json:"holds"`
	}
	decodeBody(t, resp, &listing)
	require.Len(t, listing.Holds, 1)
	assert.Equal(t, "litigation", listing.Holds[0].Reason)

	req, err := http.NewRequest(http.MethodDelete, f.server.URL+"/audit/legal-hold?tenant_id=acme&sequence=3", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/audit/legal-hold?tenant_id=acme")
	require.NoError(t, err)
	decodeBody(t, resp, &listing)
	assert.Empty(t, listing.Holds)

	resp = put(`{"sequence": 1}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurgeEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 2)

	resp, err := http.Post(f.server.URL+"/audit/purge", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats retention.Stats
	decodeBody(t, resp, &stats)
	// Fresh entries are inside their retention window.
	assert.Equal(t, 0, stats.Redacted)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConcurrentAppendsThroughAPI(t *testing.T) {
	f := newFixture(t)
	const n = 16

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			body := fmt.Sprintf(`{"tenant_id": "acme", "event_type": "ACCESS", "event_name": "document.viewed", "details": {"i": %d}}`, i)
			resp, err := http.Post(f.server.URL+"/audit/events", "application/json", strings.NewReader(body))
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode != http.StatusCreated {
					err = fmt.Errorf("status %d", resp.StatusCode)
				}
			}
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	resp, err := http.Get(f.server.URL + "/audit/verify?tenant_id=acme")
	require.NoError(t, err)
	var result domain.VerificationResult
	decodeBody(t, resp, &result)
	assert.True(t, result.Verified)
	assert.Equal(t, uint64(n), result.Scanned)
}

func TestArchiveEndpoint(t *testing.T) {
	f := newFixture(t)
	f.appendEvents(t, "acme", 5)

	resp, err := http.Post(f.server.URL+"/audit/archive?tenant_id=acme", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var manifest archive.Manifest
	decodeBody(t, resp, &manifest)
	assert.Equal(t, domain.TenantID("acme"), manifest.TenantID)
	assert.Equal(t, uint64(1), manifest.From)
	assert.Equal(t, uint64(5), manifest.To)
	assert.Equal(t, 5, manifest.Entries)
	assert.Equal(t, "audit/acme/1-5.json", manifest.Key)
	assert.NotEmpty(t, manifest.HeadHash)

	resp, err = http.Post(f.server.URL+"/audit/archive", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
