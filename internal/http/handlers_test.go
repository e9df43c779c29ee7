package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/agent"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/ghouf2005/Agriculture-project/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// bandOracle flags values above 35 with window 1
type bandOracle struct{}

func (bandOracle) Scale(x ml.FeatureVector) (ml.FeatureVector, error) { return x, nil }
func (bandOracle) Score(x ml.FeatureVector) (float64, error) {
	if x[0] > 35 {
		return -1, nil
	}
	return 0.1, nil
}
func (bandOracle) Calibration() ml.Calibration {
	return ml.Calibration{RawStart: -0.5, RawStop: -0.2, MinConsecutive: 2, ConfidenceScale: 7, WindowSize: 1}
}

type testServer struct {
	router   *chi.Mux
	store    *store.Store
	detector *ml.Detector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewStore(1000)
	reg := ml.NewRegistry()
	reg.Swap(models.SensorTemperature, bandOracle{})
	det := ml.NewDetector(reg, nil)
	pub := services.NewPublisher(s, agent.New(s, s, time.Second, nil), nil)

	router := SetupRoutes(Dependencies{
		Store:     s,
		Pipeline:  services.NewPipeline(s, det, pub, nil),
		Publisher: pub,
		Detector:  det,
		Registry:  reg,
	})
	return &testServer{router: router, store: s, detector: det}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decodeData(t *testing.T, resp APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (ts *testServer) postTemperature(t *testing.T, plot int64, value float64, at time.Time) DetectionResponse {
	t.Helper()
	rec, resp := ts.do(t, http.MethodPost, "/api/v1/readings", map[string]interface{}{
		"plot_id":     plot,
		"sensor_type": "temperature",
		"value":       value,
		"observed_at": at,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out DetectionResponse
	decodeData(t, resp, &out)
	return out
}

// driveToAnomaly warms a stream up and pushes it into the anomalous state
func (ts *testServer) driveToAnomaly(t *testing.T, plot int64) DetectionResponse {
	t.Helper()
	warm := ml.WarmupFloor(1)
	for i := 0; i < warm; i++ {
		out := ts.postTemperature(t, plot, 22, t0.Add(time.Duration(i)*time.Minute))
		require.Empty(t, out.AnomalyID)
	}
	ts.postTemperature(t, plot, 38, t0.Add(time.Duration(warm)*time.Minute))
	return ts.postTemperature(t, plot, 38, t0.Add(time.Duration(warm+1)*time.Minute))
}

func TestIngestReading_DetectsAndRecommends(t *testing.T) {
	ts := newTestServer(t)

	out := ts.driveToAnomaly(t, 5)
	assert.Equal(t, ml.StatusAnomalous, out.Status)
	assert.Equal(t, ml.TransitionEntered, out.Transition)
	require.NotEmpty(t, out.AnomalyID)
	require.NotNil(t, out.Recommendation)
	assert.Equal(t, string(agent.TemplateHeatStress), out.Recommendation.Template)

	rec, resp := ts.do(t, http.MethodGet, "/api/v1/anomalies/"+out.AnomalyID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ev models.AnomalyEvent
	decodeData(t, resp, &ev)
	assert.Equal(t, models.AnomalyHighTemperature, ev.AnomalyType)
	assert.Equal(t, int64(5), ev.PlotID)

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/anomalies/"+out.AnomalyID+"/recommendation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored models.AgentRecommendation
	decodeData(t, resp, &stored)
	assert.Equal(t, out.Recommendation.ID, stored.ID)

	// triggering again is idempotent
	rec, resp = ts.do(t, http.MethodPost, "/api/v1/anomalies/"+out.AnomalyID+"/recommendation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again models.AgentRecommendation
	decodeData(t, resp, &again)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, stored.Explanation, again.Explanation)
}

func TestIngestReading_Validation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body interface{}
	}{
		{"missing value", map[string]interface{}{"plot_id": 1, "sensor_type": "TEMPERATURE"}},
		{"unknown sensor", map[string]interface{}{"plot_id": 1, "sensor_type": "PH", "value": 7}},
		{"bad plot", map[string]interface{}{"plot_id": 0, "sensor_type": "TEMPERATURE", "value": 20}},
		{"not json", "value=3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := ts.do(t, http.MethodPost, "/api/v1/readings", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestIngestReading_NoOracleIsUnknown(t *testing.T) {
	ts := newTestServer(t)

	rec, resp := ts.do(t, http.MethodPost, "/api/v1/readings", map[string]interface{}{
		"plot_id": 1, "sensor_type": "HUMIDITY", "value": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, resp.Message, "no oracle")

	var out DetectionResponse
	decodeData(t, resp, &out)
	assert.Equal(t, ml.StatusUnknown, out.Status)
	assert.False(t, out.IsAnomaly)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, 1, ts.store.GetReadingCount())
}

func TestAnomalyRoutes_NotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/v1/anomalies/not-a-uuid",
		"/api/v1/anomalies/3b241101-e2bb-4255-8caf-4136c566a962",
		"/api/v1/anomalies/3b241101-e2bb-4255-8caf-4136c566a962/recommendation",
	} {
		rec, _ := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/anomalies/3b241101-e2bb-4255-8caf-4136c566a962/recommendation", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndStats(t *testing.T) {
	ts := newTestServer(t)
	ts.driveToAnomaly(t, 1)
	ts.driveToAnomaly(t, 2)

	rec, resp := ts.do(t, http.MethodGet, "/api/v1/anomalies?plot=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.AnomalyEvent
	decodeData(t, resp, &events)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].PlotID)

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.AnomalyStats
	decodeData(t, resp, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByType[models.AnomalyHighTemperature])

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/recommendations?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []models.AgentRecommendation
	decodeData(t, resp, &recs)
	assert.Len(t, recs, 1)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/anomalies?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetDetector(t *testing.T) {
	ts := newTestServer(t)
	ts.driveToAnomaly(t, 7)

	key := models.SeriesKey{PlotID: 7, Sensor: models.SensorTemperature}
	_, inAnomaly := ts.detector.State(key)
	require.True(t, inAnomaly)

	rec, _ := ts.do(t, http.MethodPost, "/api/v1/detectors/reset", ResetRequest{PlotID: 7, SensorType: "temperature"})
	require.Equal(t, http.StatusOK, rec.Code)
	exists, _ := ts.detector.State(key)
	assert.False(t, exists)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/detectors/reset", ResetRequest{PlotID: 7, SensorType: "ph"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.postTemperature(t, 8, 22, t0)
	rec, _ = ts.do(t, http.MethodPost, "/api/v1/detectors/reset-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, ts.detector.Streams())
}

func TestExportAndOps(t *testing.T) {
	ts := newTestServer(t)
	ts.driveToAnomaly(t, 1)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/export/anomalies.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/export/anomalies.csv?plot=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "HIGH_TEMPERATURE")

	rec, resp := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	var health struct {
		Sensors []models.SensorType `json:"sensors"`
		Streams int                 `json:"streams"`
	}
	decodeData(t, resp, &health)
	assert.Equal(t, []models.SensorType{models.SensorTemperature}, health.Sensors)
	assert.Equal(t, 1, health.Streams)

	rec, _ = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agri_http_requests_total")
}

func TestHealth_StoreDown(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReloadOracle(t *testing.T) {
	dir := t.TempDir()
	artifact, err := os.ReadFile(filepath.Join("..", "ml", "testdata", "model_moisture.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_moisture.yaml"), artifact, 0o644))

	s := store.NewStore(100)
	reg := ml.NewRegistry()
	det := ml.NewDetector(reg, nil)
	pub := services.NewPublisher(s, agent.New(s, s, time.Second, nil), nil)
	ts := &testServer{store: s, detector: det, router: SetupRoutes(Dependencies{
		Store:     s,
		Pipeline:  services.NewPipeline(s, det, pub, nil),
		Publisher: pub,
		Detector:  det,
		Registry:  reg,
		ModelDir:  dir,
	})}

	rec, resp := ts.do(t, http.MethodPost, "/api/v1/detectors/reload?sensor_type=moisture", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cal ml.Calibration
	decodeData(t, resp, &cal)
	assert.Equal(t, 5, cal.WindowSize)
	assert.Equal(t, 3, cal.MinConsecutive)

	_, ok := reg.Get(models.SensorMoisture)
	assert.True(t, ok)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/detectors/reload?sensor_type=humidity", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/detectors/reload?sensor_type=ph", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadOracle_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/detectors/reload?sensor_type=moisture", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPlotRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.driveToAnomaly(t, 4)
	ts.postTemperature(t, 6, 21, t0)

	rec, resp := ts.do(t, http.MethodGet, "/api/v1/plots/4/readings?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var readings []models.SensorReading
	decodeData(t, resp, &readings)
	require.Len(t, readings, 2)
	assert.Equal(t, 38.0, readings[0].Value)
	assert.True(t, readings[0].ObservedAt.After(readings[1].ObservedAt) || readings[0].ObservedAt.Equal(readings[1].ObservedAt))

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/plots/4/detectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states []DetectorState
	decodeData(t, resp, &states)
	require.Len(t, states, len(models.SensorTypes))
	for _, st := range states {
		if st.SensorType == models.SensorTemperature {
			assert.True(t, st.Active)
			assert.True(t, st.InAnomaly)
		} else {
			assert.False(t, st.Active, st.SensorType)
		}
	}

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/plots/abc/readings", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/plots/0/detectors", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// brokenOracle panics on every score
type brokenOracle struct{ bandOracle }

func (brokenOracle) Score(ml.FeatureVector) (float64, error) { panic("corrupt tree") }

func TestIngestReading_OracleFailureReachesDashboard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewStore(1000)
	reg := ml.NewRegistry()
	reg.Swap(models.SensorHumidity, brokenOracle{})
	det := ml.NewDetector(reg, nil)
	pub := services.NewPublisher(s, agent.New(s, s, time.Second, nil), nil)
	hub := ws.NewHub(nil)
	go hub.Run(ctx)

	ts := &testServer{store: s, detector: det, router: SetupRoutes(Dependencies{
		Store:     s,
		Pipeline:  services.NewPipeline(s, det, pub, nil),
		Publisher: pub,
		Detector:  det,
		Hub:       hub,
	})}
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?plot_id=3", nil)
	require.NoError(t, err)
	defer conn.Close()

	readMsg := func() ws.Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	assert.Equal(t, ws.TypeConnected, readMsg().Type)

	var last APIResponse
	for i := 0; i < ml.WarmupFloor(1); i++ {
		rec, resp := ts.do(t, http.MethodPost, "/api/v1/readings", map[string]interface{}{
			"plot_id": 3, "sensor_type": "humidity", "value": 60, "observed_at": t0.Add(time.Duration(i) * time.Minute),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		last = resp
	}
	assert.Contains(t, last.Message, "oracle")

	msg := readMsg()
	assert.Equal(t, ws.TypeError, msg.Type)
	assert.Equal(t, int64(3), msg.PlotID)
}
