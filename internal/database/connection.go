package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect establishes connection to PostgreSQL database
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sqlx.DB, error) {
	if cfg.URL != "" {
		logger.Info("using DATABASE_URL from environment")
	} else {
		logger.Info("connecting to database",
			zap.String("host", cfg.Host), zap.String("port", cfg.Port), zap.String("dbname", cfg.DBName))
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("successfully connected to PostgreSQL database")
	return db, nil
}
