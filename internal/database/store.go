package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const (
	readingColumns        = `id, plot_id, sensor_type, value, observed_at, source`
	anomalyColumns        = `id, plot_id, sensor_type, anomaly_type, severity, model_confidence, value, timestamp, created_at`
	recommendationColumns = `id, anomaly_id, action, explanation, confidence, template, timestamp, created_at`
)

// DatabaseStore implements persistent storage using PostgreSQL
type DatabaseStore struct {
	db *sqlx.DB
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(db *sqlx.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Ping checks the database connection
func (s *DatabaseStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddReading stores a sensor reading and assigns its ID
func (s *DatabaseStore) AddReading(ctx context.Context, reading *models.SensorReading) error {
	query := `
		INSERT INTO sensor_readings (plot_id, sensor_type, value, observed_at, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		reading.PlotID, reading.SensorType, reading.Value, reading.ObservedAt, reading.Source,
	).Scan(&reading.ID)
	if err != nil {
		return fmt.Errorf("failed to store sensor reading: %w", err)
	}
	return nil
}

// ReadingsInRange returns readings with from <= observed_at <= to, oldest first
func (s *DatabaseStore) ReadingsInRange(ctx context.Context, plotID int64, sensor models.SensorType, from, to time.Time) ([]models.SensorReading, error) {
	query := `SELECT ` + readingColumns + `
		FROM sensor_readings
		WHERE plot_id = $1 AND sensor_type = $2 AND observed_at >= $3 AND observed_at <= $4
		ORDER BY observed_at ASC, id ASC`

	var readings []models.SensorReading
	if err := s.db.SelectContext(ctx, &readings, query, plotID, sensor, from, to); err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

// RecentReadings returns the latest readings of every sensor on a plot, newest first
func (s *DatabaseStore) RecentReadings(ctx context.Context, plotID int64, limit int) ([]models.SensorReading, error) {
	query := `SELECT ` + readingColumns + `
		FROM sensor_readings
		WHERE plot_id = $1
		ORDER BY observed_at DESC, id DESC
		LIMIT $2`

	var readings []models.SensorReading
	if err := s.db.SelectContext(ctx, &readings, query, plotID, limitOrAll(limit)); err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	return readings, nil
}

// CreateAnomaly stores a new anomaly event
func (s *DatabaseStore) CreateAnomaly(ctx context.Context, event *models.AnomalyEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO anomaly_events (` + anomalyColumns + `)
		VALUES (:id, :plot_id, :sensor_type, :anomaly_type, :severity, :model_confidence, :value, :timestamp, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrDuplicateAnomaly, event.ID)
		}
		return fmt.Errorf("failed to store anomaly event: %w", err)
	}
	return nil
}

// GetAnomaly returns one anomaly event by id
func (s *DatabaseStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyEvent, error) {
	var ev models.AnomalyEvent
	err := s.db.GetContext(ctx, &ev, `SELECT `+anomalyColumns+` FROM anomaly_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("anomaly %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly %s: %w", id, err)
	}
	return &ev, nil
}

// ListAnomalies returns anomaly events newest first
func (s *DatabaseStore) ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.AnomalyEvent, error) {
	query := `SELECT ` + anomalyColumns + `
		FROM anomaly_events
		WHERE ($1::bigint = 0 OR plot_id = $1::bigint)
		ORDER BY timestamp DESC, id ASC
		LIMIT $2`

	var events []models.AnomalyEvent
	if err := s.db.SelectContext(ctx, &events, query, filter.PlotID, limitOrAll(filter.Limit)); err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return events, nil
}

// AnomaliesInRange returns events for plot with from <= timestamp < to, oldest first
func (s *DatabaseStore) AnomaliesInRange(ctx context.Context, plotID int64, from, to time.Time) ([]models.AnomalyEvent, error) {
	query := `SELECT ` + anomalyColumns + `
		FROM anomaly_events
		WHERE plot_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC, id ASC`

	var events []models.AnomalyEvent
	if err := s.db.SelectContext(ctx, &events, query, plotID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query plot anomalies: %w", err)
	}
	return events, nil
}

// AnomaliesWithoutRecommendation returns events still missing a recommendation, oldest first
func (s *DatabaseStore) AnomaliesWithoutRecommendation(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	query := `
		SELECT a.id, a.plot_id, a.sensor_type, a.anomaly_type, a.severity, a.model_confidence,
		       a.value, a.timestamp, a.created_at
		FROM anomaly_events a
		LEFT JOIN agent_recommendations r ON r.anomaly_id = a.id
		WHERE r.id IS NULL
		ORDER BY a.created_at ASC
		LIMIT $1`

	var events []models.AnomalyEvent
	if err := s.db.SelectContext(ctx, &events, query, limitOrAll(limit)); err != nil {
		return nil, fmt.Errorf("failed to query pending anomalies: %w", err)
	}
	return events, nil
}

// GetAnomalyStats summarizes anomalies, optionally for one plot
func (s *DatabaseStore) GetAnomalyStats(ctx context.Context, plotID int64) (*models.AnomalyStats, error) {
	query := `
		SELECT severity, anomaly_type, COUNT(*) AS n, SUM(model_confidence) AS confidence_sum
		FROM anomaly_events
		WHERE ($1::bigint = 0 OR plot_id = $1::bigint)
		GROUP BY severity, anomaly_type`

	var rows []struct {
		Severity      models.Severity    `db:"severity"`
		AnomalyType   models.AnomalyType `db:"anomaly_type"`
		N             int                `db:"n"`
		ConfidenceSum float64            `db:"confidence_sum"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, plotID); err != nil {
		return nil, fmt.Errorf("failed to compute anomaly stats: %w", err)
	}

	stats := store.NewStats()
	sum := 0.0
	for _, r := range rows {
		stats.Total += r.N
		stats.BySeverity[r.Severity] += r.N
		stats.ByType[r.AnomalyType] += r.N
		sum += r.ConfidenceSum
	}
	if stats.Total > 0 {
		stats.AverageConfidence = store.RoundConfidence(sum / float64(stats.Total))
	}
	return stats, nil
}

// GetRecommendation returns the recommendation attached to an anomaly
func (s *DatabaseStore) GetRecommendation(ctx context.Context, anomalyID string) (*models.AgentRecommendation, error) {
	var rec models.AgentRecommendation
	err := s.db.GetContext(ctx, &rec,
		`SELECT `+recommendationColumns+` FROM agent_recommendations WHERE anomaly_id = $1`, anomalyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recommendation for anomaly %s: %w", anomalyID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation for %s: %w", anomalyID, err)
	}
	return &rec, nil
}

// GetOrCreateRecommendation inserts rec unless the anomaly already has a
// recommendation; on conflict the stored row is returned unchanged
func (s *DatabaseStore) GetOrCreateRecommendation(ctx context.Context, rec *models.AgentRecommendation) (*models.AgentRecommendation, bool, error) {
	err := s.insertRecommendation(ctx, rec)
	if err == nil {
		saved := *rec
		return &saved, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateRecommendation) {
		return nil, false, err
	}

	existing, err := s.GetRecommendation(ctx, rec.AnomalyID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *DatabaseStore) insertRecommendation(ctx context.Context, rec *models.AgentRecommendation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agent_recommendations (` + recommendationColumns + `)
		VALUES (:id, :anomaly_id, :action, :explanation, :confidence, :template, :timestamp, :created_at)
		ON CONFLICT (anomaly_id) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("anomaly %s: %w", rec.AnomalyID, store.ErrNotFound)
		}
		return fmt.Errorf("failed to store recommendation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return store.ErrDuplicateRecommendation
	}
	return nil
}

// ListRecommendations returns recommendations newest first
func (s *DatabaseStore) ListRecommendations(ctx context.Context, limit int) ([]models.AgentRecommendation, error) {
	query := `SELECT ` + recommendationColumns + `
		FROM agent_recommendations
		ORDER BY created_at DESC
		LIMIT $1`

	var recs []models.AgentRecommendation
	if err := s.db.SelectContext(ctx, &recs, query, limitOrAll(limit)); err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	return recs, nil
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no limit
func limitOrAll(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

func pgCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

var _ store.DataStore = (*DatabaseStore)(nil)
