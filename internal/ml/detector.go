package ml

import (
	"fmt"
	"sync"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"go.uber.org/zap"
)

// Status is the detector's view of a stream after one observation
type Status string

const (
	StatusUnknown   Status = "unknown" // warming up or scoring failed
	StatusNormal    Status = "normal"
	StatusAnomalous Status = "anomalous"
)

// Transition describes the state change caused by one observation
type Transition string

const (
	TransitionNone    Transition = "none"
	TransitionEntered Transition = "entered"
	TransitionExited  Transition = "exited"
)

// Outcome is the full result of one observation
type Outcome struct {
	Key        models.SeriesKey `json:"key"`
	Status     Status           `json:"status"`
	IsAnomaly  bool             `json:"is_anomaly"`
	Confidence float64          `json:"confidence"`
	RawScore   float64          `json:"raw_score"`
	Hit        bool             `json:"hit"`
	Transition Transition       `json:"transition"`
	Features   FeatureVector    `json:"features"`
	Points     int              `json:"points"`
}

// series is the per-key state: the feature window plus the two-state
// machine. It keeps the oracle it was created with until reset.
type series struct {
	mu        sync.Mutex
	oracle    Oracle
	cal       Calibration
	warmup    int
	window    *FeatureWindow
	hits      *hitRing
	inAnomaly bool
}

func newSeries(oracle Oracle) *series {
	cal := oracle.Calibration()
	return &series{
		oracle: oracle,
		cal:    cal,
		warmup: WarmupFloor(cal.WindowSize),
		window: NewFeatureWindow(cal.WindowSize),
		hits:   newHitRing(cal.MinConsecutive),
	}
}

// Detector runs one hysteresis state machine per (plot, sensor) stream.
// Observations for the same key are serialized; different keys proceed
// in parallel.
type Detector struct {
	registry *Registry
	logger   *zap.Logger

	mu     sync.RWMutex
	series map[models.SeriesKey]*series
}

// NewDetector creates a detector scoring against the oracles in registry
func NewDetector(registry *Registry, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		registry: registry,
		logger:   logger,
		series:   make(map[models.SeriesKey]*series),
	}
}

// Predict observes value and reports whether the stream is anomalous
// afterwards along with the model confidence. Errors are logged and
// reported as (false, 0).
func (d *Detector) Predict(key models.SeriesKey, value float64) (bool, float64) {
	out, err := d.Observe(key, value)
	if err != nil {
		return false, 0
	}
	return out.IsAnomaly, out.Confidence
}

// Observe feeds one value into the stream for key and returns the outcome.
// The value is appended to the window even when scoring fails; the
// hysteresis state is only touched by successful scores.
func (d *Detector) Observe(key models.SeriesKey, value float64) (Outcome, error) {
	out := Outcome{Key: key, Status: StatusUnknown, Transition: TransitionNone}

	s, err := d.seriesFor(key)
	if err != nil {
		return out, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	features, err := s.window.Observe(value)
	if err != nil {
		return out, err
	}
	out.Features = features
	out.Points = s.window.Len()

	if out.Points < s.warmup {
		return out, nil
	}

	raw, err := s.score(features)
	if err != nil {
		d.logger.Error("scoring failed, observation skipped",
			zap.Stringer("key", key), zap.Float64("value", value), zap.Error(err))
		return out, err
	}

	hit := raw < s.cal.RawStart
	if s.inAnomaly {
		hit = raw < s.cal.RawStop
	}
	s.hits.push(hit)

	switch {
	case !s.inAnomaly && s.hits.all(true):
		s.inAnomaly = true
		out.Transition = TransitionEntered
	case s.inAnomaly && s.hits.all(false):
		s.inAnomaly = false
		out.Transition = TransitionExited
	}

	out.RawScore = raw
	out.Hit = hit
	out.IsAnomaly = s.inAnomaly
	out.Confidence = s.cal.Confidence(raw)
	out.Status = StatusNormal
	if s.inAnomaly {
		out.Status = StatusAnomalous
	}

	if out.Transition != TransitionNone {
		d.logger.Info("stream state changed",
			zap.Stringer("key", key),
			zap.String("transition", string(out.Transition)),
			zap.Float64("raw_score", raw),
			zap.Float64("confidence", out.Confidence))
	}
	return out, nil
}

// score scales and scores a feature vector, converting panics into errors
func (s *series) score(features FeatureVector) (raw float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrOracleFailure, r)
		}
	}()

	scaled, err := s.oracle.Scale(features)
	if err != nil {
		return 0, fmt.Errorf("%w: scale: %w", ErrOracleFailure, err)
	}
	raw, err = s.oracle.Score(scaled)
	if err != nil {
		return 0, fmt.Errorf("%w: score: %w", ErrOracleFailure, err)
	}
	return raw, nil
}

func (d *Detector) seriesFor(key models.SeriesKey) (*series, error) {
	d.mu.RLock()
	s, ok := d.series[key]
	d.mu.RUnlock()
	if ok {
		return s, nil
	}

	oracle, ok := d.registry.Get(key.Sensor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoOracle, key.Sensor)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.series[key]; ok {
		return s, nil
	}
	s = newSeries(oracle)
	d.series[key] = s
	return s, nil
}

// Reset clears the window and state machine for one stream
func (d *Detector) Reset(key models.SeriesKey) {
	d.mu.Lock()
	delete(d.series, key)
	d.mu.Unlock()
	d.logger.Info("stream reset", zap.Stringer("key", key))
}

// ResetAll clears every stream
func (d *Detector) ResetAll() {
	d.mu.Lock()
	n := len(d.series)
	d.series = make(map[models.SeriesKey]*series)
	d.mu.Unlock()
	d.logger.Info("all streams reset", zap.Int("streams", n))
}

// SwapOracle installs a new oracle for a sensor type and resets the
// streams of that type so they rebuild against it
func (d *Detector) SwapOracle(sensor models.SensorType, oracle Oracle) {
	d.registry.Swap(sensor, oracle)

	d.mu.Lock()
	for key := range d.series {
		if key.Sensor == sensor {
			delete(d.series, key)
		}
	}
	d.mu.Unlock()
	d.logger.Info("oracle swapped", zap.String("sensor_type", string(sensor)))
}

// State reports whether a stream exists and is currently anomalous
func (d *Detector) State(key models.SeriesKey) (exists, inAnomaly bool) {
	d.mu.RLock()
	s, ok := d.series[key]
	d.mu.RUnlock()
	if !ok {
		return false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return true, s.inAnomaly
}

// Streams returns the number of live streams
func (d *Detector) Streams() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.series)
}
