package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/metrics"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"go.uber.org/zap"
)

// ReadingStore persists raw readings so the rule engine can look back at them
type ReadingStore interface {
	AddReading(ctx context.Context, reading *models.SensorReading) error
}

// Result is what one reading produced
type Result struct {
	Reading        *models.SensorReading      `json:"reading"`
	Outcome        ml.Outcome                 `json:"outcome"`
	Anomaly        *models.AnomalyEvent       `json:"anomaly,omitempty"`
	Recommendation *models.AgentRecommendation `json:"recommendation,omitempty"`
}

// Pipeline runs a reading through storage, the detector and, on a
// confirmed entry, the publisher
type Pipeline struct {
	readings  ReadingStore
	detector  *ml.Detector
	publisher *Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline wires the ingest path
func NewPipeline(readings ReadingStore, detector *ml.Detector, publisher *Publisher, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		readings:  readings,
		detector:  detector,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one reading. Errors wrapping ml.ErrInvalidReading mean
// the reading was rejected before reaching the detector; ml.ErrNoOracle
// and ml.ErrOracleFailure come back with an "unknown" outcome.
func (p *Pipeline) Process(ctx context.Context, reading *models.SensorReading) (*Result, error) {
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = p.now()
	}
	if err := reading.ValidateReading(); err != nil {
		return nil, fmt.Errorf("%w: %w", ml.ErrInvalidReading, err)
	}

	if err := p.readings.AddReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to store reading: %w", err)
	}
	metrics.ReadingsProcessed.WithLabelValues(string(reading.SensorType), reading.Source).Inc()

	result := &Result{Reading: reading}
	out, err := p.detector.Observe(reading.Key(), reading.Value)
	result.Outcome = out
	metrics.ActiveStreams.Set(float64(p.detector.Streams()))
	if err != nil {
		metrics.Predictions.WithLabelValues(string(reading.SensorType), "error").Inc()
		if !errors.Is(err, ml.ErrOracleFailure) {
			p.logger.Warn("reading not scored",
				zap.Stringer("key", reading.Key()), zap.Error(err))
		}
		return result, err
	}
	metrics.Predictions.WithLabelValues(string(reading.SensorType), string(out.Status)).Inc()

	if out.Transition == ml.TransitionNone {
		return result, nil
	}
	metrics.StateTransitions.WithLabelValues(string(reading.SensorType), string(out.Transition)).Inc()
	if out.Transition != ml.TransitionEntered {
		return result, nil
	}

	ev, rec, err := p.publisher.Publish(ctx, reading, out)
	if err != nil {
		return result, fmt.Errorf("failed to publish anomaly: %w", err)
	}
	result.Anomaly = ev
	result.Recommendation = rec
	return result, nil
}

// IsProcessingFailure reports whether err from Process is a fault in the
// backend rather than a rejected reading or an unconfigured sensor type
func IsProcessingFailure(err error) bool {
	return err != nil && !errors.Is(err, ml.ErrInvalidReading) && !errors.Is(err, ml.ErrNoOracle)
}
