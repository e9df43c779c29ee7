package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/agent"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// funcOracle scores the raw value (window of 1) with score
type funcOracle struct {
	score func(v float64) float64
}

func (o funcOracle) Scale(x ml.FeatureVector) (ml.FeatureVector, error) { return x, nil }
func (o funcOracle) Score(x ml.FeatureVector) (float64, error)          { return o.score(x[0]), nil }
func (o funcOracle) Calibration() ml.Calibration {
	return ml.Calibration{RawStart: -0.5, RawStop: -0.2, MinConsecutive: 2, ConfidenceScale: 7, WindowSize: 1}
}

// outsideBand flags anything below 20 or above 80
func outsideBand(v float64) float64 {
	if v < 20 || v > 80 {
		return -1
	}
	return 0
}

// flagsAll flags every value, including ones inside the normal band
func flagsAll(float64) float64 { return -1 }

type recordingNotifier struct {
	anomalies       []string
	recommendations []string
	err             error
}

func (n *recordingNotifier) NotifyAnomaly(_ context.Context, ev *models.AnomalyEvent) error {
	n.anomalies = append(n.anomalies, ev.ID)
	return n.err
}

func (n *recordingNotifier) NotifyRecommendation(_ context.Context, ev *models.AnomalyEvent, rec *models.AgentRecommendation) error {
	n.recommendations = append(n.recommendations, rec.AnomalyID)
	return n.err
}

type failingRecommender struct{}

func (failingRecommender) Recommend(context.Context, *models.AnomalyEvent) (*models.AgentRecommendation, bool, error) {
	return nil, false, errors.New("database is down")
}

type fixture struct {
	store     *store.Store
	detector  *ml.Detector
	publisher *Publisher
	pipeline  *Pipeline
}

func newFixture(t *testing.T, score func(float64) float64) *fixture {
	t.Helper()
	s := store.NewStore(1000)
	reg := ml.NewRegistry()
	for _, sensor := range models.SensorTypes {
		reg.Swap(sensor, funcOracle{score: score})
	}
	det := ml.NewDetector(reg, nil)
	pub := NewPublisher(s, agent.New(s, s, time.Second, nil), nil)
	return &fixture{store: s, detector: det, publisher: pub, pipeline: NewPipeline(s, det, pub, nil)}
}

func (f *fixture) feed(t *testing.T, plot int64, sensor models.SensorType, start time.Time, values ...float64) []*Result {
	t.Helper()
	out := make([]*Result, 0, len(values))
	for i, v := range values {
		res, err := f.pipeline.Process(context.Background(), &models.SensorReading{
			PlotID:     plot,
			SensorType: sensor,
			Value:      v,
			ObservedAt: start.Add(time.Duration(i) * time.Minute),
			Source:     SourceHTTP,
		})
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPipeline_PublishesOnEntryAndRecommends(t *testing.T) {
	f := newFixture(t, outsideBand)
	notes := &recordingNotifier{}
	f.publisher.AddNotifier("test", notes)

	warm := ml.WarmupFloor(1)
	results := f.feed(t, 1, models.SensorMoisture, t0, append(repeat(55, warm), 10, 10, 10)...)

	for _, r := range results[:warm] {
		assert.Nil(t, r.Anomaly)
	}
	assert.Equal(t, ml.StatusNormal, results[warm-1].Outcome.Status)

	entry := results[warm+1]
	assert.Equal(t, ml.TransitionEntered, entry.Outcome.Transition)
	require.NotNil(t, entry.Anomaly)
	assert.Equal(t, models.AnomalyLowMoisture, entry.Anomaly.AnomalyType)
	assert.Equal(t, models.SeverityHigh, entry.Anomaly.Severity)
	assert.Equal(t, t0.Add(time.Duration(warm+1)*time.Minute), entry.Anomaly.Timestamp)
	assert.LessOrEqual(t, entry.Anomaly.ModelConfidence, 1.0)

	require.NotNil(t, entry.Recommendation)
	assert.Equal(t, string(agent.TemplateIrrigationCheck), entry.Recommendation.Template)
	assert.Equal(t, entry.Anomaly.ID, entry.Recommendation.AnomalyID)

	// staying anomalous does not publish again
	assert.Nil(t, results[warm+2].Anomaly)
	assert.Equal(t, []string{entry.Anomaly.ID}, notes.anomalies)
	assert.Equal(t, []string{entry.Anomaly.ID}, notes.recommendations)
}

func TestPipeline_MagnitudeGateSuppresses(t *testing.T) {
	f := newFixture(t, flagsAll)
	key := models.SeriesKey{PlotID: 2, Sensor: models.SensorMoisture}

	results := f.feed(t, 2, models.SensorMoisture, t0, repeat(45, ml.WarmupFloor(1)+1)...)
	last := results[len(results)-1]

	assert.Equal(t, ml.TransitionEntered, last.Outcome.Transition)
	assert.Nil(t, last.Anomaly, "value inside the normal band must not publish")

	// the detector keeps its anomalous state
	exists, inAnomaly := f.detector.State(key)
	assert.True(t, exists)
	assert.True(t, inAnomaly)

	list, err := f.store.ListAnomalies(context.Background(), models.AnomalyFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPipeline_RejectsInvalidReading(t *testing.T) {
	f := newFixture(t, outsideBand)

	_, err := f.pipeline.Process(context.Background(), &models.SensorReading{PlotID: 0, SensorType: models.SensorMoisture, Value: 1})
	assert.ErrorIs(t, err, ml.ErrInvalidReading)

	_, err = f.pipeline.Process(context.Background(), &models.SensorReading{PlotID: 1, SensorType: "PH", Value: 1})
	assert.ErrorIs(t, err, ml.ErrInvalidReading)
	assert.Zero(t, f.store.GetReadingCount())
}

func TestPipeline_NoOracleIsUnknown(t *testing.T) {
	s := store.NewStore(10)
	det := ml.NewDetector(ml.NewRegistry(), nil)
	p := NewPipeline(s, det, NewPublisher(s, failingRecommender{}, nil), nil)

	res, err := p.Process(context.Background(), &models.SensorReading{PlotID: 1, SensorType: models.SensorHumidity, Value: 60})
	assert.ErrorIs(t, err, ml.ErrNoOracle)
	require.NotNil(t, res)
	assert.Equal(t, ml.StatusUnknown, res.Outcome.Status)
	assert.False(t, res.Reading.ObservedAt.IsZero())
}

func TestPublisher_RecommendationFailureKeepsEvent(t *testing.T) {
	s := store.NewStore(10)
	pub := NewPublisher(s, failingRecommender{}, nil)
	failing := &recordingNotifier{err: errors.New("sink offline")}
	pub.AddNotifier("broken", failing)

	reading := &models.SensorReading{PlotID: 3, SensorType: models.SensorTemperature, Value: 40, ObservedAt: t0}
	ev, rec, err := pub.Publish(context.Background(), reading, ml.Outcome{Confidence: 1.7})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Nil(t, rec)
	assert.Equal(t, 1.0, ev.ModelConfidence, "confidence is clamped")
	assert.Equal(t, models.AnomalyHighTemperature, ev.AnomalyType)
	assert.Len(t, failing.anomalies, 1)

	pending, err := s.AnomaliesWithoutRecommendation(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].ID)
}

func TestBackfill_CompletesPendingOnce(t *testing.T) {
	s := store.NewStore(10)
	ctx := context.Background()
	for i, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateAnomaly(ctx, &models.AnomalyEvent{
			ID:              id,
			PlotID:          1,
			SensorType:      models.SensorHumidity,
			AnomalyType:     models.AnomalyHighHumidity,
			Severity:        models.SeverityMedium,
			ModelConfidence: 0.7,
			Value:           90,
			Timestamp:       t0.Add(time.Duration(i) * time.Hour * 3),
		}))
	}

	notes := &recordingNotifier{}
	pub := NewPublisher(s, agent.New(s, s, time.Second, nil), nil)
	pub.AddNotifier("test", notes)
	b := NewBackfill(s, pub, time.Minute, 10, nil)

	assert.Equal(t, 2, b.RunOnce(ctx))
	assert.Equal(t, 0, b.RunOnce(ctx))
	assert.ElementsMatch(t, []string{"a", "b"}, notes.recommendations)

	recs, err := s.ListRecommendations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestBackfill_RunStopsOnCancel(t *testing.T) {
	s := store.NewStore(10)
	b := NewBackfill(s, NewPublisher(s, failingRecommender{}, nil), 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("backfill did not stop")
	}
}
