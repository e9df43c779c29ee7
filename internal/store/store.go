package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

// Store is an in-memory DataStore used when no database is configured
// and by the replay command
type Store struct {
	mu              sync.RWMutex
	readings        map[models.SeriesKey][]models.SensorReading // ordered by ObservedAt
	nextReadingID   int64
	maxReadings     int // per series
	anomalies       map[string]models.AnomalyEvent
	anomalyOrder    []string // creation order
	recommendations map[string]models.AgentRecommendation // by anomaly id
	recOrder        []string
}

// NewStore creates a new in-memory store
func NewStore(maxReadings int) *Store {
	if maxReadings <= 0 {
		maxReadings = 1000 // Default to keeping the last 1000 readings per series
	}

	return &Store{
		readings:        make(map[models.SeriesKey][]models.SensorReading),
		maxReadings:     maxReadings,
		anomalies:       make(map[string]models.AnomalyEvent),
		recommendations: make(map[string]models.AgentRecommendation),
	}
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// AddReading stores a reading and assigns its ID
func (s *Store) AddReading(ctx context.Context, reading *models.SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextReadingID++
	reading.ID = s.nextReadingID

	key := reading.Key()
	series := s.readings[key]

	// Readings normally arrive in order; late ones are inserted in place
	i := sort.Search(len(series), func(i int) bool {
		return series[i].ObservedAt.After(reading.ObservedAt)
	})
	series = append(series, models.SensorReading{})
	copy(series[i+1:], series[i:])
	series[i] = *reading

	// Maintain maximum size by removing oldest entries
	if len(series) > s.maxReadings {
		series = series[len(series)-s.maxReadings:]
	}
	s.readings[key] = series
	return nil
}

// ReadingsInRange returns readings with from <= observed_at <= to, oldest first
func (s *Store) ReadingsInRange(ctx context.Context, plotID int64, sensor models.SensorType, from, to time.Time) ([]models.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SensorReading
	for _, r := range s.readings[models.SeriesKey{PlotID: plotID, Sensor: sensor}] {
		if r.ObservedAt.Before(from) || r.ObservedAt.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// RecentReadings returns the latest readings of every sensor on a plot, newest first
func (s *Store) RecentReadings(ctx context.Context, plotID int64, limit int) ([]models.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []models.SensorReading
	for _, sensor := range models.SensorTypes {
		out = append(out, s.readings[models.SeriesKey{PlotID: plotID, Sensor: sensor}]...)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.After(out[j].ObservedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateAnomaly stores a new anomaly event
func (s *Store) CreateAnomaly(ctx context.Context, event *models.AnomalyEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.anomalies[event.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAnomaly, event.ID)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.anomalies[event.ID] = *event
	s.anomalyOrder = append(s.anomalyOrder, event.ID)
	return nil
}

// GetAnomaly returns one anomaly event by id
func (s *Store) GetAnomaly(ctx context.Context, id string) (*models.AnomalyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.anomalies[id]
	if !ok {
		return nil, fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
	}
	return &ev, nil
}

// ListAnomalies returns anomaly events newest first
func (s *Store) ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.AnomalyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]models.AnomalyEvent, 0, len(s.anomalies))
	for _, ev := range s.anomalies {
		if filter.PlotID != 0 && ev.PlotID != filter.PlotID {
			continue
		}
		out = append(out, ev)
	}
	s.mu.RUnlock()

	sortAnomalies(out, true)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AnomaliesInRange returns events for plot with from <= timestamp < to, oldest first
func (s *Store) AnomaliesInRange(ctx context.Context, plotID int64, from, to time.Time) ([]models.AnomalyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []models.AnomalyEvent
	for _, ev := range s.anomalies {
		if ev.PlotID != plotID || ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.RUnlock()

	sortAnomalies(out, false)
	return out, nil
}

// AnomaliesWithoutRecommendation returns events still missing a recommendation, oldest first
func (s *Store) AnomaliesWithoutRecommendation(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AnomalyEvent
	for _, id := range s.anomalyOrder {
		if _, ok := s.recommendations[id]; ok {
			continue
		}
		out = append(out, s.anomalies[id])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetAnomalyStats summarizes anomalies, optionally for one plot
func (s *Store) GetAnomalyStats(ctx context.Context, plotID int64) (*models.AnomalyStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := NewStats()
	sum := 0.0
	for _, ev := range s.anomalies {
		if plotID != 0 && ev.PlotID != plotID {
			continue
		}
		stats.Total++
		stats.BySeverity[ev.Severity]++
		stats.ByType[ev.AnomalyType]++
		sum += ev.ModelConfidence
	}
	if stats.Total > 0 {
		stats.AverageConfidence = RoundConfidence(sum / float64(stats.Total))
	}
	return stats, nil
}

// GetRecommendation returns the recommendation attached to an anomaly
func (s *Store) GetRecommendation(ctx context.Context, anomalyID string) (*models.AgentRecommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recommendations[anomalyID]
	if !ok {
		return nil, fmt.Errorf("recommendation for anomaly %s: %w", anomalyID, ErrNotFound)
	}
	return &rec, nil
}

// GetOrCreateRecommendation stores rec unless the anomaly already has one
func (s *Store) GetOrCreateRecommendation(ctx context.Context, rec *models.AgentRecommendation) (*models.AgentRecommendation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.anomalies[rec.AnomalyID]; !ok {
		return nil, false, fmt.Errorf("anomaly %s: %w", rec.AnomalyID, ErrNotFound)
	}
	if existing, ok := s.recommendations[rec.AnomalyID]; ok {
		return &existing, false, nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.recommendations[rec.AnomalyID] = *rec
	s.recOrder = append(s.recOrder, rec.AnomalyID)
	saved := *rec
	return &saved, true, nil
}

// ListRecommendations returns recommendations newest first
func (s *Store) ListRecommendations(ctx context.Context, limit int) ([]models.AgentRecommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AgentRecommendation, 0, len(s.recOrder))
	for i := len(s.recOrder) - 1; i >= 0; i-- {
		out = append(out, s.recommendations[s.recOrder[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetReadingCount returns the number of readings currently held
func (s *Store) GetReadingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, series := range s.readings {
		count += len(series)
	}
	return count
}

func sortAnomalies(events []models.AnomalyEvent, newestFirst bool) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if newestFirst {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

var _ DataStore = (*Store)(nil)
