package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() *models.AnomalyEvent {
	return &models.AnomalyEvent{
		ID:              "ev-1",
		PlotID:          12,
		SensorType:      models.SensorMoisture,
		AnomalyType:     models.AnomalyLowMoisture,
		Severity:        models.SeverityHigh,
		ModelConfidence: 0.91,
		Value:           22,
		Timestamp:       time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifier_KeysByPlot(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{writer: w}
	ctx := context.Background()

	ev := sampleEvent()
	require.NoError(t, n.NotifyAnomaly(ctx, ev))
	require.NoError(t, n.NotifyRecommendation(ctx, ev, &models.AgentRecommendation{ID: "r", AnomalyID: ev.ID, Action: "Irrigate"}))

	require.Len(t, w.msgs, 2)
	for _, msg := range w.msgs {
		assert.Equal(t, "12", string(msg.Key))
	}

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	assert.Equal(t, KindRecommendation, env.Kind)
	assert.Equal(t, "ev-1", env.Anomaly.ID)
	assert.Equal(t, "Irrigate", env.Recommendation.Action)
	assert.Equal(t, "recommendation", string(w.msgs[1].Headers[0].Value))
}

func TestKafkaNotifier_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := &KafkaNotifier{writer: w}

	err := n.NotifyAnomaly(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "broker down")

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, n.NotifyAnomaly(context.Background(), sampleEvent()), ErrClosed)
	assert.NoError(t, n.Close())
}
