package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var schema = []struct {
	name string
	ddl  string
}{
	{
		name: "sensor_readings",
		ddl: `
	CREATE TABLE IF NOT EXISTS sensor_readings (
		id BIGSERIAL PRIMARY KEY,
		plot_id BIGINT NOT NULL CHECK (plot_id > 0),
		sensor_type VARCHAR(20) NOT NULL CHECK (sensor_type IN ('MOISTURE', 'TEMPERATURE', 'HUMIDITY')),
		value DOUBLE PRECISION NOT NULL,
		observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		source VARCHAR(20) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`,
	},
	{
		name: "anomaly_events",
		ddl: `
	CREATE TABLE IF NOT EXISTS anomaly_events (
		id UUID PRIMARY KEY,
		plot_id BIGINT NOT NULL,
		sensor_type VARCHAR(20) NOT NULL,
		anomaly_type VARCHAR(30) NOT NULL,
		severity VARCHAR(10) NOT NULL CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH')),
		model_confidence DOUBLE PRECISION NOT NULL CHECK (model_confidence >= 0 AND model_confidence <= 1),
		value DOUBLE PRECISION NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`,
	},
	{
		name: "agent_recommendations",
		ddl: `
	CREATE TABLE IF NOT EXISTS agent_recommendations (
		id UUID PRIMARY KEY,
		anomaly_id UUID NOT NULL REFERENCES anomaly_events(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		explanation TEXT NOT NULL,
		confidence VARCHAR(10) NOT NULL CHECK (confidence IN ('LOW', 'MEDIUM', 'HIGH')),
		template VARCHAR(40) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CONSTRAINT unique_recommendation_per_anomaly UNIQUE (anomaly_id)
	);`,
	},
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_sensor_readings_series ON sensor_readings(plot_id, sensor_type, observed_at);",
	"CREATE INDEX IF NOT EXISTS idx_anomaly_events_plot_time ON anomaly_events(plot_id, timestamp);",
	"CREATE INDEX IF NOT EXISTS idx_anomaly_events_created ON anomaly_events(created_at);",
}

// CreateTables creates all necessary tables for the plot monitoring system
func CreateTables(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	logger.Info("creating database tables")

	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			logger.Warn("failed to create index", zap.String("sql", indexSQL), zap.Error(err))
		}
	}

	logger.Info("database tables created successfully")
	return nil
}

// DropTables drops all tables (useful for testing)
func DropTables(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	logger.Warn("dropping database tables")

	for i := len(schema) - 1; i >= 0; i-- {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", schema[i].name)); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", schema[i].name, err)
		}
	}

	logger.Info("database tables dropped successfully")
	return nil
}

// CheckTablesExist reports whether every table of the schema exists
func CheckTablesExist(ctx context.Context, db *sqlx.DB) (bool, error) {
	for _, t := range schema {
		var exists bool
		err := db.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, t.name)
		if err != nil {
			return false, fmt.Errorf("failed to check %s table: %w", t.name, err)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}
