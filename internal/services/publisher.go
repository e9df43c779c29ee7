package services

import (
	"context"
	"math"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/metrics"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives anomalies and recommendations after they are persisted
type Notifier interface {
	NotifyAnomaly(ctx context.Context, ev *models.AnomalyEvent) error
	NotifyRecommendation(ctx context.Context, ev *models.AnomalyEvent, rec *models.AgentRecommendation) error
}

// AnomalyStore persists anomaly events
type AnomalyStore interface {
	CreateAnomaly(ctx context.Context, event *models.AnomalyEvent) error
}

// Recommender produces the recommendation for a persisted anomaly
type Recommender interface {
	Recommend(ctx context.Context, ev *models.AnomalyEvent) (*models.AgentRecommendation, bool, error)
}

type namedNotifier struct {
	name string
	Notifier
}

// Publisher turns detector entries into persisted anomaly events and
// hands each committed event to the agent
type Publisher struct {
	anomalies AnomalyStore
	agent     Recommender
	notifiers []namedNotifier
	logger    *zap.Logger
	newID     func() string
}

// NewPublisher creates a publisher writing to anomalies and recommending through agent
func NewPublisher(anomalies AnomalyStore, agent Recommender, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		anomalies: anomalies,
		agent:     agent,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// AddNotifier registers a sink; name labels its failure metric.
// Not safe to call once publishing has started.
func (p *Publisher) AddNotifier(name string, n Notifier) {
	p.notifiers = append(p.notifiers, namedNotifier{name: name, Notifier: n})
}

// Publish handles one NORMAL to ANOMALOUS entry. It returns a nil event
// when the reading is inside its sensor's normal band (plus margin); the
// detector state is left as is in that case. A recommendation failure is
// logged and left to the backfill, the event itself stays published.
func (p *Publisher) Publish(ctx context.Context, reading *models.SensorReading, out ml.Outcome) (*models.AnomalyEvent, *models.AgentRecommendation, error) {
	band, ok := models.BandFor(reading.SensorType)
	if !ok || !band.Exceeds(reading.Value) {
		metrics.GateSuppressed.WithLabelValues(string(reading.SensorType)).Inc()
		p.logger.Info("detection suppressed by magnitude gate",
			zap.Int64("plot_id", reading.PlotID),
			zap.String("sensor_type", string(reading.SensorType)),
			zap.Float64("value", reading.Value),
			zap.Float64("confidence", out.Confidence))
		return nil, nil, nil
	}

	confidence := clamp01(out.Confidence)
	ev := &models.AnomalyEvent{
		ID:              p.newID(),
		PlotID:          reading.PlotID,
		SensorType:      reading.SensorType,
		AnomalyType:     models.ClassifyAnomaly(reading.SensorType, reading.Value),
		Severity:        models.SeverityFromConfidence(confidence),
		ModelConfidence: confidence,
		Value:           reading.Value,
		Timestamp:       reading.ObservedAt,
		CreatedAt:       time.Now().UTC(),
	}

	if err := p.anomalies.CreateAnomaly(ctx, ev); err != nil {
		return nil, nil, err
	}
	metrics.AnomaliesPublished.WithLabelValues(string(ev.AnomalyType), string(ev.Severity)).Inc()
	p.logger.Info("anomaly published",
		zap.String("anomaly_id", ev.ID),
		zap.Int64("plot_id", ev.PlotID),
		zap.String("anomaly_type", string(ev.AnomalyType)),
		zap.String("severity", string(ev.Severity)),
		zap.Float64("confidence", ev.ModelConfidence))

	for _, n := range p.notifiers {
		if err := n.NotifyAnomaly(ctx, ev); err != nil {
			p.notifyFailed(n.name, ev, err)
		}
	}

	rec, err := p.Recommend(ctx, ev)
	if err != nil {
		p.logger.Warn("recommendation deferred to backfill", zap.String("anomaly_id", ev.ID), zap.Error(err))
		return ev, nil, nil
	}
	return ev, rec, nil
}

// Recommend runs the agent for a committed event and notifies the sinks
// when a new recommendation was created
func (p *Publisher) Recommend(ctx context.Context, ev *models.AnomalyEvent) (*models.AgentRecommendation, error) {
	rec, created, err := p.agent.Recommend(ctx, ev)
	if err != nil {
		return nil, err
	}
	if created {
		for _, n := range p.notifiers {
			if err := n.NotifyRecommendation(ctx, ev, rec); err != nil {
				p.notifyFailed(n.name, ev, err)
			}
		}
	}
	return rec, nil
}

func (p *Publisher) notifyFailed(sink string, ev *models.AnomalyEvent, err error) {
	metrics.NotifyFailures.WithLabelValues(sink).Inc()
	p.logger.Warn("notification failed",
		zap.String("sink", sink), zap.String("anomaly_id", ev.ID), zap.Error(err))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
