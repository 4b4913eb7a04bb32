package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/event"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/metrics"
	"github.com/sells-group/geo-events/internal/search"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubSearch struct {
	cfg     search.Config
	results []search.Result
	err     error
	got     *search.Query
}

func (s *stubSearch) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	s.got = &q
	return s.results, s.err
}

func (s *stubSearch) Config() search.Config { return s.cfg }

type stubStats struct {
	snap search.Snapshot
	err  error
}

func (s stubStats) Stats(context.Context) (search.Snapshot, error) { return s.snap, s.err }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newTestRouter(s *stubSearch, st stubStats, p stubPinger) http.Handler {
	if s.cfg.DefaultRadiusKm == 0 {
		s.cfg = search.Config{DefaultRadiusKm: 30, DefaultDays: 30, MaxResults: 500}
	}
	return NewRouter(Deps{Search: s, Stats: st, Store: p})
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestNearby_Success(t *testing.T) {
	end := day(2026, 10, 18)
	s := &stubSearch{results: []search.Result{{
		ID: "ev-1", Name: "Festival", Locality: "Toulouse", URL: "https://example.org",
		Latitude: 43.6047, Longitude: 1.4442,
		StartsAt: day(2026, 10, 16), EndsAt: &end, DistanceKm: 1.23,
	}}}
	h := newTestRouter(s, stubStats{}, stubPinger{})

	rec, body := get(t, h, "/api/events/nearby?lat=43.6&lon=1.44&radiusKm=12.5&days=7&limit=20")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, s.got)
	assert.Equal(t, event.Point{Lat: 43.6, Lon: 1.44}, s.got.Center)
	assert.InDelta(t, 12.5, s.got.RadiusKm, 1e-9)
	assert.Equal(t, 7, s.got.HorizonDays)
	assert.Equal(t, 20, s.got.Limit)

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, map[string]any{"latitude": 43.6, "longitude": 1.44}, body["center"])
	assert.Equal(t, 12.5, body["radiusKm"])
	assert.Equal(t, float64(7), body["days"])
	assert.Equal(t, float64(1), body["count"])

	events := body["events"].([]any)
	ev := events[0].(map[string]any)
	assert.Equal(t, "ev-1", ev["id"])
	assert.Equal(t, "2026-10-16", ev["startsAt"])
	assert.Equal(t, "2026-10-18", ev["endsAt"])
	assert.Equal(t, 1.23, ev["distanceKm"])
	assert.Equal(t, "https://example.org", ev["url"])
}

func TestNearby_Defaults(t *testing.T) {
	s := &stubSearch{}
	h := newTestRouter(s, stubStats{}, stubPinger{})

	rec, body := get(t, h, "/api/events/nearby?lat=43.6&lon=1.44")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 30, s.got.RadiusKm, 1e-9)
	assert.Equal(t, 30, s.got.HorizonDays)
	assert.Equal(t, 0, s.got.Limit)
	assert.Equal(t, []any{}, body["events"])
	assert.Equal(t, float64(0), body["count"])
}

func TestNearby_BadRequests(t *testing.T) {
	tests := map[string]string{
		"missing lat":      "/api/events/nearby?lon=1.44",
		"missing both":     "/api/events/nearby",
		"lat out of range": "/api/events/nearby?lat=999&lon=1.44",
		"lon out of range": "/api/events/nearby?lat=43&lon=-181",
		"lat not numeric":  "/api/events/nearby?lat=abc&lon=1.44",
		"nan":              "/api/events/nearby?lat=NaN&lon=1.44",
		"zero radius":      "/api/events/nearby?lat=43&lon=1&radiusKm=0",
		"negative days":    "/api/events/nearby?lat=43&lon=1&days=-1",
		"days not int":     "/api/events/nearby?lat=43&lon=1&days=1.5",
		"negative limit":   "/api/events/nearby?lat=43&lon=1&limit=-5",
	}
	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			s := &stubSearch{}
			rec, body := get(t, newTestRouter(s, stubStats{}, stubPinger{}), target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", body["error"])
			assert.Nil(t, s.got, "store never queried")
		})
	}
}

func TestNearby_MissingLatMessage(t *testing.T) {
	_, body := get(t, newTestRouter(&stubSearch{}, stubStats{}, stubPinger{}), "/api/events/nearby?lon=1")
	assert.Equal(t, "lat is required", body["message"])
}

func TestNearby_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{eris.Wrap(search.ErrInvalidInput, "radius"), http.StatusBadRequest, "invalid_request"},
		{eris.Wrapf(search.ErrUnavailable, "query within: %v", context.DeadlineExceeded), http.StatusServiceUnavailable, "unavailable"},
		{eris.New("search: query within: syntax error"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		s := &stubSearch{err: tt.err}
		rec, body := get(t, newTestRouter(s, stubStats{}, stubPinger{}), "/api/events/nearby?lat=43&lon=1")
		assert.Equal(t, tt.status, rec.Code)
		assert.Equal(t, tt.code, body["error"])
		assert.Equal(t, "error", body["status"])
	}
}

func TestStats(t *testing.T) {
	st := stubStats{snap: search.Snapshot{
		AsOf: day(2026, 10, 15),
		Stats: geospatial.Stats{
			TotalCount:    3,
			UpcomingCount: 2,
			TopLocalities: []geospatial.LocalityCount{{Locality: "Toulouse", Count: 2}},
			StorageBytes:  8192,
		},
	}}
	rec, body := get(t, newTestRouter(&stubSearch{}, st, stubPinger{}), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "2026-10-15", body["as_of"])
	assert.Equal(t, float64(3), body["total_events"])
	assert.Equal(t, float64(2), body["upcoming_events"])
	assert.Equal(t, []any{map[string]any{"locality": "Toulouse", "count": float64(2)}}, body["top_localities"])
}

func TestStats_EmptyCatalog(t *testing.T) {
	_, body := get(t, newTestRouter(&stubSearch{}, stubStats{}, stubPinger{}), "/api/stats")
	assert.Equal(t, []any{}, body["top_localities"])
	assert.Equal(t, float64(0), body["total_events"])
}

func TestStats_Unavailable(t *testing.T) {
	st := stubStats{err: eris.Wrap(search.ErrUnavailable, "stats")}
	rec, body := get(t, newTestRouter(&stubSearch{}, st, stubPinger{}), "/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["error"])
}

func TestHealth(t *testing.T) {
	rec, body := get(t, newTestRouter(&stubSearch{}, stubStats{}, stubPinger{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = get(t, newTestRouter(&stubSearch{}, stubStats{}, stubPinger{err: eris.New("refused")}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disconnected", body["database"])
}

func TestNotFoundAndMethod(t *testing.T) {
	h := newTestRouter(&stubSearch{}, stubStats{}, stubPinger{})

	rec, body := get(t, h, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Deps{
		Search:      &stubSearch{},
		Stats:       stubStats{},
		Store:       stubPinger{},
		CORSOrigins: []string{"https://carte.example.org"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/events/nearby", nil)
	req.Header.Set("Origin", "https://carte.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://carte.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SearchRequests.WithLabelValues("ok").Inc()

	h := NewRouter(Deps{Search: &stubSearch{}, Stats: stubStats{}, Store: stubPinger{}, Gatherer: reg})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geo_events_search_requests_total")
}

// End to end over a real SQLite catalog.
func TestNearby_SQLite(t *testing.T) {
	store, err := geospatial.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	toulouse := event.Point{Lat: 43.6047, Lon: 1.4442}
	paris := event.Point{Lat: 48.8566, Lon: 2.3522}
	_, err = store.UpsertBatch(ctx, []event.Event{
		{ExternalID: "tls", Name: "Capitole", Locality: "Toulouse", Location: toulouse, StartsAt: day(2026, 10, 16)},
		{ExternalID: "par", Name: "Louvre", Locality: "Paris", Location: paris, StartsAt: day(2026, 10, 16)},
		{ExternalID: "old", Name: "Hier", Locality: "Toulouse", Location: toulouse, StartsAt: day(2026, 10, 14)},
	})
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))
	cal, err := search.NewCalendar(clock, "")
	require.NoError(t, err)

	h := NewRouter(Deps{
		Search: search.NewEngine(store, cal, search.Config{}),
		Stats:  search.NewStatsService(store, cal, 0),
		Store:  store,
	})

	rec, body := get(t, h, "/api/events/nearby?lat=43.6047&lon=1.4442")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
	ev := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "tls", ev["id"])
	assert.Equal(t, float64(0), ev["distanceKm"])
	assert.Nil(t, ev["endsAt"])

	rec, body = get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total_events"])
	assert.Equal(t, float64(2), body["upcoming_events"])

	rec, _ = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
