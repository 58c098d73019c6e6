package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meteo-dashboard/services/internal/devicemeta"
	"meteo-dashboard/services/internal/respcache"
	"meteo-dashboard/services/internal/series"
	"meteo-dashboard/services/internal/store"
	"meteo-dashboard/services/internal/timekey"
)

var testNow = time.Date(2026, time.March, 10, 14, 25, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	members   map[string][]string
	err       error
	fetches   atomic.Int32
	lastStart time.Time
	lastEnd   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: map[string][]string{}}
}

func (f *fakeStore) ListDevices(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.members))
	for id := range f.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) BatchRangeQuery(ctx context.Context, ids []string, start, end time.Time) (map[string][]string, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastStart, f.lastEnd = start, end
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		out[id] = f.members[id]
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) add(t *testing.T, id string, at time.Time, rec store.Record) {
	t.Helper()
	rec.Datetime = timekey.Encode(at)
	member, err := rec.Encode()
	require.NoError(t, err)
	f.mu.Lock()
	f.members[id] = append(f.members[id], member)
	f.mu.Unlock()
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeMeta map[string]devicemeta.Metadata

func (m fakeMeta) Get(ctx context.Context, id string) devicemeta.Metadata {
	if meta, ok := m[id]; ok {
		return meta
	}
	return devicemeta.Metadata{ID: id}
}

func (m fakeMeta) All(ctx context.Context) []devicemeta.Metadata {
	out := make([]devicemeta.Metadata, 0, len(m))
	for _, meta := range m {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fixture struct {
	store  *fakeStore
	meta   fakeMeta
	svc    *Service
	server *httptest.Server
}

func newFixture(t *testing.T, cacheTTL time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := newFakeStore()
	meta := fakeMeta{
		"salon": {ID: "salon", Label: "Salon", TempColor: "#aa0000"},
		"cave":  {ID: "cave"},
	}
	engine := series.New(st, meta,
		series.WithLocation(time.UTC),
		series.WithClock(func() time.Time { return testNow }),
		series.WithLogger(logger),
	)
	svc := NewService(engine, meta, respcache.New[cached](respcache.DefaultSize, cacheTTL), logger)

	mux := http.NewServeMux()
	NewAPIHandler(svc, st, logger).RegisterRoutes(mux, "/rasp")
	server := httptest.NewServer(Chain(mux, RequestID, AccessLog(logger), Compress, CORS([]string{"*"})))
	t.Cleanup(server.Close)

	return &fixture{store: st, meta: meta, svc: svc, server: server}
}

func (f *fixture) seedDay(t *testing.T) {
	t.Helper()
	hour := timekey.Hour(testNow)
	for h := 24; h >= 0; h-- {
		at := hour.Add(-time.Duration(h) * time.Hour)
		f.store.add(t, "salon", at, store.Record{Temp: store.Some(20 + float64(h%5)), Hum: store.Some(50)})
		f.store.add(t, "cave", at, store.Record{Temp: store.Some(12), Hum: store.Some(80)})
	}
}

func get(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type chartResponse struct {
	ChartData struct {
		Labels   []string `json:"labels"`
		Datasets []struct {
			Label string     `json:"label"`
			Data  []*float64 `json:"data"`
		} `json:"datasets"`
		BorderWidth int `json:"borderWidth"`
	} `json:"chartdata"`
	Summary   []series.SummaryRow `json:"summary"`
	Timestamp string              `json:"timestamp"`
}

func TestDataFullDayTwoDevices(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	var body chartResponse
	resp := get(t, f.server.URL+"/rasp/data?depth=24&forecast=0&device=all", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Len(t, body.ChartData.Labels, 25)
	require.Len(t, body.ChartData.Datasets, 4)
	for _, ds := range body.ChartData.Datasets {
		assert.Len(t, ds.Data, 25, ds.Label)
	}
	assert.Equal(t, "Temp: cave", body.ChartData.Datasets[0].Label)
	assert.Equal(t, "Temp: Salon", body.ChartData.Datasets[2].Label)
	assert.Equal(t, "10/03/2026 14h", body.Timestamp)
	assert.Equal(t, 1, body.ChartData.BorderWidth)
}

func TestDataUnknownDevice(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	resp, err := http.Get(f.server.URL + "/rasp/data?depth=24&forecast=0&device=ghost123")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"chartdata":{"labels":[],"datasets":[],"borderWidth":1},"summary":[],"timestamp":""}`, string(raw))
}

func TestDataDefaults(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	var body chartResponse
	resp := get(t, f.server.URL+"/rasp/data", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.ChartData.Datasets, 4)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, 24*time.Hour, f.store.lastEnd.Sub(f.store.lastStart))
}

func TestDataBadParameters(t *testing.T) {
	f := newFixture(t, time.Minute)

	for _, q := range []string{"depth=abc", "depth=-1", "forecast=1.5", "forecast=-2", "forecast=3000000", "depth=87601"} {
		var body ErrorDTO
		resp := get(t, f.server.URL+"/rasp/data?"+q, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body.Error, q)
	}
	assert.Equal(t, int32(0), f.store.fetches.Load())
}

func TestDataYearlyAllIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	var body map[string]any
	resp := get(t, f.server.URL+"/rasp/data?depth=8760&forecast=0&device=all", &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "error")
	assert.NotContains(t, body, "chartdata")
	assert.NotContains(t, body, "labels")
}

func TestYearDataAllIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)

	for _, q := range []string{"?device=All", ""} {
		var body ErrorDTO
		resp := get(t, f.server.URL+"/rasp/yeardata"+q, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Contains(t, body.Error, "single device")
	}
}

func TestYearDataSingleDevice(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	var body series.YearResult
	resp := get(t, f.server.URL+"/rasp/data?depth=8760&device=salon", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "candlestick", body.ChartType)
	assert.Equal(t, "Salon", body.DeviceLabel)
	assert.Equal(t, "#aa0000", body.TempColor)
	assert.Equal(t, series.DefaultHumColor, body.HumColor)
	assert.Equal(t, []string{"09-Mar"}, body.Labels)
	require.Len(t, body.TempData, 1)
	assert.Equal(t, 20.0, body.TempData[0].Min)
	assert.Equal(t, 24.0, body.TempData[0].Max)
}

func TestDataStoreFailure(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.store.fail(&store.UnavailableError{Op: "list devices", Err: errors.New("connection refused")})

	resp, err := http.Get(f.server.URL + "/rasp/data?depth=24&device=all")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"chartdata":{"labels":[],"datasets":[],"borderWidth":1},"summary":[],"timestamp":""}`, string(raw))

	var rows []series.SummaryRow
	resp = get(t, f.server.URL+"/rasp/summary", &rows)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, rows)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	var rows []series.SummaryRow
	resp := get(t, f.server.URL+"/rasp/summary?depth=24&device=salon", &rows)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 2)
	assert.Equal(t, "&#127777; Salon", rows[0].Label)
	assert.Equal(t, 20.0, *rows[0].Min)
	assert.Equal(t, 24.0, *rows[0].Max)
	assert.Equal(t, 20.0, *rows[0].Curr)
	assert.Equal(t, "&#x1F4A7; Salon", rows[1].Label)
}

func TestDevices(t *testing.T) {
	f := newFixture(t, time.Minute)

	var devices []DeviceDTO
	resp := get(t, f.server.URL+"/rasp/devices", &devices)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []DeviceDTO{{ID: "cave", Label: "cave"}, {ID: "salon", Label: "Salon"}}, devices)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, time.Minute)

	var body HealthDTO
	resp := get(t, f.server.URL+"/rasp/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)

	f.store.fail(errors.New("down"))
	resp = get(t, f.server.URL+"/rasp/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unreachable", body.Store)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)
	get(t, f.server.URL+"/rasp/data", nil)

	resp, err := http.Get(f.server.URL + "/rasp/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "meteo_query_duration_seconds")
	assert.Contains(t, string(raw), "meteo_response_cache_total")
}

func TestResponseCacheTTL(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.seedDay(t)
	ctx := context.Background()
	w := series.Window{Depth: 24, Forecast: 0, Device: "all"}

	first, err := f.svc.Window(ctx, w)
	require.NoError(t, err)
	second, err := f.svc.Window(ctx, w)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.store.fetches.Load())

	time.Sleep(150 * time.Millisecond)
	third, err := f.svc.Window(ctx, w)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), f.store.fetches.Load())
}

func TestResponseCacheFoldsAllSpellings(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)

	get(t, f.server.URL+"/rasp/data?depth=24&device=all", nil)
	get(t, f.server.URL+"/rasp/data?depth=24&device=All", nil)
	get(t, f.server.URL+"/rasp/data?depth=24", nil)
	assert.Equal(t, int32(1), f.store.fetches.Load())
}

func TestFailuresAreNotCached(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seedDay(t)
	ctx := context.Background()
	w := series.Window{Depth: 24, Device: "all"}

	f.store.fail(&store.UnavailableError{Op: "list devices", Err: errors.New("timeout")})
	_, err := f.svc.Window(ctx, w)
	require.Error(t, err)

	f.store.fail(nil)
	res, err := f.svc.Window(ctx, w)
	require.NoError(t, err)
	assert.Len(t, res.ChartData.Labels, 25)
}

func TestRequestIDIsKept(t *testing.T) {
	f := newFixture(t, time.Minute)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/rasp/devices", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, time.Minute)

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/rasp/data", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://raspberrypi.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDataIsGzipped(t *testing.T) {
	f := newFixture(t, time.Minute)
	hour := timekey.Hour(testNow)
	for h := 168; h >= 0; h-- {
		f.store.add(t, "salon", hour.Add(-time.Duration(h)*time.Hour), store.Record{Temp: store.Some(20), Hum: store.Some(50)})
	}
	url := f.server.URL + "/rasp/data?depth=168&device=salon"

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	var body chartResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&body))
	assert.Len(t, body.ChartData.Labels, 169)

	req, err = http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")
	plain, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer plain.Body.Close()
	assert.Empty(t, plain.Header.Get("Content-Encoding"))
	require.NoError(t, json.NewDecoder(plain.Body).Decode(&body))
	assert.Len(t, body.ChartData.Labels, 169)
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(1, 1)(ok)

	do := func(path string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.168.1.20:5555"
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/rasp/data"))
	assert.Equal(t, http.StatusTooManyRequests, do("/rasp/data"))
	assert.Equal(t, http.StatusOK, do("/rasp/health"))

	other := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rasp/data", nil)
	req.RemoteAddr = "192.168.1.21:5555"
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(0, 0)(ok)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rasp/data", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	assert.Equal(t, "10.0.0.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
