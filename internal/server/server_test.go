package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/PaperDigest/internal/database"
	"github.com/TobiSchelling/PaperDigest/internal/logging"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB, opts Options) *Server {
	t.Helper()
	opts.Logger = logging.Discard()
	srv, err := New(db, opts)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC) }
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func insertDigest(t *testing.T, db *database.DB, date, body string) {
	t.Helper()
	_, err := db.InsertDigest(context.Background(), database.Digest{
		RunID: "run-" + date, Date: date, Title: "Digest " + date, BodyMarkdown: body, PaperCount: 2,
	})
	require.NoError(t, err)
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	insertDigest(t, db, "2026-02-05", "# One")
	srv := newTestServer(t, db, Options{})

	rec := get(t, srv, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Digest Archive")
	assert.Contains(t, body, `href="/digest/2026-02-05"`)
	assert.Contains(t, body, "Feb 05, 2026")
}

func TestIndexRouteEmpty(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), Options{})

	rec := get(t, srv, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No digests yet.")
}

func TestDigestRoute(t *testing.T) {
	db := openTestDB(t)
	insertDigest(t, db, "2026-02-04", "# Earlier")
	insertDigest(t, db, "2026-02-05", "# Swift & iOS Paper Digest\n\n**SwiftUI** layout paper")
	srv := newTestServer(t, db, Options{})

	rec := get(t, srv, "/digest/2026-02-05")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>Swift &amp; iOS Paper Digest</h1>")
	assert.Contains(t, body, "<strong>SwiftUI</strong>")
	assert.Contains(t, body, `href="/digest/2026-02-04"`)
}

func TestDigestRouteMissingAndInvalid(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), Options{})

	rec := get(t, srv, "/digest/2026-01-01")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No digest was sent on this date.")

	rec = get(t, srv, "/digest/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRoute(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.RecordDailyStats(context.Background(), database.DailyStats{
		Date: "2026-02-06", Seen: 10, Analyzed: 8, Passed: 3, Delivered: 2,
		Categories: map[string]int{database.CategoryUIFrameworks: 2},
		Keywords:   map[string]int{"swiftui": 4, "xcode": 1},
	}))
	srv := newTestServer(t, db, Options{})

	rec := get(t, srv, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2026-01-08", got.Since)
	assert.Equal(t, 1, got.Days)
	assert.Equal(t, 10, got.Seen)
	assert.Equal(t, 2, got.Delivered)
	assert.Equal(t, []database.KeywordCount{{Keyword: "swiftui", Count: 4}, {Keyword: "xcode", Count: 1}}, got.TopKeywords)

	rec = get(t, srv, "/stats?days=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsRouteEmptyRange(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), Options{})

	rec := get(t, srv, "/stats?days=7")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2026-01-31", got.Since)
	assert.Zero(t, got.Days)
	assert.NotNil(t, got.Categories)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_runs_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	srv := newTestServer(t, openTestDB(t), Options{Gatherer: registry})

	rec := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	rec = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_runs_total 1")
}

func TestMetricsRouteDisabled(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), Options{})
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/metrics").Code)
}

func TestStaticRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), Options{})

	rec := get(t, srv, "/static/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "font-sans"), "expected CSS content")
}
