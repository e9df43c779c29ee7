package store

import (
	"context"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

// DataStore defines the interface for data storage operations
type DataStore interface {
	// Health check
	Ping(ctx context.Context) error

	// Readings
	AddReading(ctx context.Context, reading *models.SensorReading) error
	// ReadingsInRange returns readings with from <= observed_at <= to, oldest first
	ReadingsInRange(ctx context.Context, plotID int64, sensor models.SensorType, from, to time.Time) ([]models.SensorReading, error)
	RecentReadings(ctx context.Context, plotID int64, limit int) ([]models.SensorReading, error)

	// Anomaly events
	CreateAnomaly(ctx context.Context, event *models.AnomalyEvent) error
	GetAnomaly(ctx context.Context, id string) (*models.AnomalyEvent, error)
	ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.AnomalyEvent, error)
	// AnomaliesInRange returns events for plot with from <= timestamp < to, oldest first
	AnomaliesInRange(ctx context.Context, plotID int64, from, to time.Time) ([]models.AnomalyEvent, error)
	AnomaliesWithoutRecommendation(ctx context.Context, limit int) ([]models.AnomalyEvent, error)
	GetAnomalyStats(ctx context.Context, plotID int64) (*models.AnomalyStats, error)

	// Recommendations
	GetRecommendation(ctx context.Context, anomalyID string) (*models.AgentRecommendation, error)
	// GetOrCreateRecommendation stores rec unless one already exists for
	// rec.AnomalyID, in which case the existing one is returned unchanged
	GetOrCreateRecommendation(ctx context.Context, rec *models.AgentRecommendation) (*models.AgentRecommendation, bool, error)
	ListRecommendations(ctx context.Context, limit int) ([]models.AgentRecommendation, error)
}
