package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/hermes"
	"github.com/MikeSquared-Agency/Mashup/internal/lookup"
	"github.com/MikeSquared-Agency/Mashup/internal/metrics"
	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/scoring"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
	"github.com/MikeSquared-Agency/Mashup/internal/store"
)

const adminToken = "admin-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dataAPI serves the catalog and a linear distribution: the value at
// percentile p is 100p.
func dataAPI(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/analytes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"analytes": []map[string]string{
				{"analytename": "Total Suspended Solids", "unit": "mg/L"},
				{"analytename": "TP", "unit": "mg/L"},
				{"analytename": "Zn", "unit": "ug/L"},
			},
		})
	})
	mux.HandleFunc("/threshval", func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.ParseFloat(r.URL.Query().Get("percentile"), 64)
		writeJSON(w, http.StatusOK, map[string]float64{"threshval": p * 100})
	})
	mux.HandleFunc("/percentileval", func(w http.ResponseWriter, r *http.Request) {
		v, _ := strconv.ParseFloat(r.URL.Query().Get("threshval"), 64)
		writeJSON(w, http.StatusOK, map[string]float64{"percentile_rank": v / 100})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// scoringAPI fails every request for site "broken".
func scoringAPI(t *testing.T) *httptest.Server {
	record := func(req scoring.Request) map[string]interface{} {
		return map[string]interface{}{
			"n_params":             len(req.Analytes),
			"ahp_mashup_score":     0.61,
			"ranksum_mashup_score": 0.58,
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/direct-comparison-data", func(w http.ResponseWriter, r *http.Request) {
		var req scoring.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Site == "broken" {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ValueError", "message": "no data for site"})
			return
		}
		writeJSON(w, http.StatusOK, record(req))
	})
	mux.HandleFunc("/threshcomparison", func(w http.ResponseWriter, r *http.Request) {
		var req scoring.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([]map[string]interface{}, len(req.Thresholds))
		for i, p := range req.Thresholds {
			out[i] = record(req)
			out[i]["threshold_percentile"] = p
		}
		writeJSON(w, http.StatusOK, out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	handler http.Handler
	mgr     *session.Manager
	events  *hermes.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithKV(t, store.NewMemoryStore())
}

func newTestServerWithKV(t *testing.T, kv store.KV) *testServer {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	events := hermes.NewRecorder()
	mgr := session.NewManager(context.Background(), session.Config{
		DefaultPercentile: 0.25,
		LookupTimeout:     2 * time.Second,
	}, session.Deps{
		Lookup:     lookup.NewHTTPClient(dataAPI(t).URL, 2*time.Second),
		Scorer:     scoring.NewHTTPClient(scoringAPI(t).URL, 2*time.Second),
		IndexCache: resultcache.New(kv, store.KeyIndexPlotData, discardLogger(), resultcache.WithObserver(m)),
		BandCache:  resultcache.New(kv, store.KeyBandPlotData, discardLogger(), resultcache.WithObserver(m)),
		BandConfig: bands.NewStore(kv, discardLogger()),
		Events:     events,
		Observer:   m,
	}, discardLogger())
	t.Cleanup(mgr.Wait)
	return &testServer{
		handler: NewRouter(mgr, adminToken, 0, discardLogger()),
		mgr:     mgr,
		events:  events,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

// open creates a session and waits for its seeded lookups.
func (ts *testServer) open(t *testing.T, site string) session.View {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/sessions", OpenSessionRequest{Site: site, BMP: "bmp1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var v session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	s, err := ts.mgr.Get(v.ID)
	require.NoError(t, err)
	s.Wait()
	return v
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) session.View {
	t.Helper()
	var v session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestOpenAndGetSession(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")

	w := ts.do(t, "GET", "/api/v1/sessions/"+v.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeView(t, w)
	assert.Equal(t, "site1", got.Site)
	require.Len(t, got.Analytes, 3)
	assert.Equal(t, "Total Suspended Solids", got.Analytes[0].Name)
	assert.Equal(t, 25.0, got.Analytes[0].ThresholdValue)
	assert.Equal(t, 0.25, got.Analytes[0].ThresholdPercentile)
	assert.Equal(t, 3, got.Analytes[2].Rank)
}

func TestOpenValidation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/api/v1/sessions", OpenSessionRequest{Site: "site1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/v1/sessions", OpenSessionRequest{Site: "s", BMP: "b", Mode: "loose"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownSessionAndAnalyte(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	v := ts.open(t, "site1")
	w = ts.do(t, "POST", "/api/v1/sessions/"+v.ID+"/analytes/Pb/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRankEditing(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")
	base := "/api/v1/sessions/" + v.ID

	w := ts.do(t, "POST", base+"/analytes/Total%20Suspended%20Solids/deactivate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeView(t, w)
	assert.False(t, got.Analytes[0].IsActive)
	assert.Equal(t, 1, got.Analytes[1].Rank)
	assert.Equal(t, 2, got.Analytes[2].Rank)

	w = ts.do(t, "PUT", base+"/analytes/Zn/rank", RankRequest{Rank: 1})
	require.Equal(t, http.StatusOK, w.Code)
	got = decodeView(t, w)
	assert.Equal(t, 2, got.Analytes[1].Rank)
	assert.Equal(t, 1, got.Analytes[2].Rank)

	w = ts.do(t, "PUT", base+"/mode", ModeRequest{Mode: "free"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "free", string(decodeView(t, w).Mode))
}

func TestThresholdEditing(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")
	base := "/api/v1/sessions/" + v.ID
	s, err := ts.mgr.Get(v.ID)
	require.NoError(t, err)

	w := ts.do(t, "PUT", base+"/analytes/TP/value", map[string]float64{"value": 40})
	require.Equal(t, http.StatusOK, w.Code)
	s.Wait()

	w = ts.do(t, "GET", base, nil)
	got := decodeView(t, w)
	assert.InDelta(t, 0.4, got.Analytes[1].ThresholdPercentile, 1e-9)

	w = ts.do(t, "PUT", base+"/analytes/TP/percentile", map[string]float64{"percentile": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "PUT", base+"/analytes/TP/percentile", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "PUT", base+"/percentiles", map[string]float64{"percentile": 0.9})
	require.Equal(t, http.StatusOK, w.Code)
	s.Wait()
	for _, a := range decodeView(t, ts.do(t, "GET", base, nil)).Analytes {
		assert.InDelta(t, 90, a.ThresholdValue, 1e-9)
	}
}

func TestSubmitFlow(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")
	base := "/api/v1/sessions/" + v.ID

	w := ts.do(t, "POST", base+"/submit", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res session.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Added)
	n, ok := res.Outcomes[0].Scores.Float("n_params")
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)

	w = ts.do(t, "GET", base+"/submission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st session.SubmissionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, session.StatusSettled, st.Status)

	w = ts.do(t, "GET", "/api/v1/results/index?sitename=site1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []resultcache.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, res.Outcomes[0].Fingerprint, recs[0].Fingerprint)

	w = ts.do(t, "GET", "/api/v1/results/index/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 3)
}

func TestSubmitMultiBand(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")

	w := ts.do(t, "POST", "/api/v1/sessions/"+v.ID+"/submit", SubmitRequest{MultiBand: true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res session.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, store.KeyBandPlotData, res.Dataset)
	assert.Len(t, res.Outcomes, len(bands.Defaults()))

	w = ts.do(t, "GET", "/api/v1/results/bands", nil)
	var recs []resultcache.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, len(bands.Defaults()))
}

func TestSubmitRejectedAndConfirmation(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")
	base := "/api/v1/sessions/" + v.ID

	ts.do(t, "PUT", base+"/mode", ModeRequest{Mode: "free"})
	ts.do(t, "PUT", base+"/analytes/Zn/rank", RankRequest{Rank: 7})

	w := ts.do(t, "POST", base+"/submit", SubmitRequest{})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["confirmation_required"])

	w = ts.do(t, "POST", base+"/submit", SubmitRequest{Confirm: true})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	ts.do(t, "POST", base+"/analytes/TP/deactivate", nil)
	ts.do(t, "POST", base+"/analytes/Zn/deactivate", nil)
	w = ts.do(t, "POST", base+"/submit", SubmitRequest{Confirm: true})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["reasons"])
}

func TestSubmitUpstreamFailure(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "broken")

	w := ts.do(t, "POST", "/api/v1/sessions/"+v.ID+"/submit", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
	assert.Equal(t, "no data for site", body["message"])

	w = ts.do(t, "GET", "/api/v1/results/index", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestClearResults(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")
	ts.do(t, "POST", "/api/v1/sessions/"+v.ID+"/submit", nil)

	w := ts.do(t, "DELETE", "/api/v1/results/index", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "DELETE", "/api/v1/results/index?sitename=site1&bmpname=bmp1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":1}`, w.Body.String())

	w = ts.do(t, "DELETE", "/api/v1/results/nope?sitename=site1&bmpname=bmp1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type unreadableKV struct {
	*store.MemoryStore
}

func (unreadableKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestClearWithUnreadableStoreIsRefused(t *testing.T) {
	ts := newTestServerWithKV(t, unreadableKV{store.NewMemoryStore()})

	w := ts.do(t, "DELETE", "/api/v1/results/index?sitename=site1&bmpname=bmp1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = ts.do(t, "PUT", "/api/v1/bands/0", bands.Band{Percentile: 0.4, PlotColor: "#123456"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	ts.open(t, "site1")

	w := ts.do(t, "GET", "/api/v1/admin/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/api/v1/admin/stats", nil, "Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 5, stats.Bands)

	w = ts.do(t, "DELETE", "/api/v1/admin/results/bands", nil, "Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":0}`, w.Body.String())
}

func TestBandsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/api/v1/bands", nil)
	var got []bands.Band
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, bands.Defaults(), got)

	w = ts.do(t, "PUT", "/api/v1/bands/1", bands.Band{Percentile: 0.3, PlotColor: "#abcdef"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 0.3, got[1].Percentile)

	w = ts.do(t, "PUT", "/api/v1/bands/1", bands.Band{Percentile: 0.3, PlotColor: "blue"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "PUT", "/api/v1/bands/x", bands.Band{Percentile: 0.3, PlotColor: "#abcdef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "PUT", "/api/v1/bands", []bands.Band{{Percentile: 0.5, PlotColor: "#000000"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "POST", "/api/v1/bands/reset", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, bands.Defaults(), got)

	assert.Len(t, ts.events.Messages(), 3)
}

func TestCloseSession(t *testing.T) {
	ts := newTestServer(t)
	v := ts.open(t, "site1")

	w := ts.do(t, "DELETE", "/api/v1/sessions/"+v.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, "DELETE", "/api/v1/sessions/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Submission(metrics.OutcomeRecorded, "single")
	h := NewMetricsRouter(reg)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mashup_submissions_total")
}
