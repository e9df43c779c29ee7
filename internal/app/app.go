package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/agent"
	"github.com/ghouf2005/Agriculture-project/internal/cache"
	"github.com/ghouf2005/Agriculture-project/internal/database"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/notify"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const inMemoryReadings = 10000

// Options select which external systems are wired in
type Options struct {
	// InMemory skips PostgreSQL, Redis and Kafka entirely
	InMemory bool
	// RequireDatabase fails instead of falling back to memory when PostgreSQL is unreachable
	RequireDatabase bool
}

// App is the composed detection and recommendation core shared by the
// server and the CLI
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     store.DataStore
	DB        *sqlx.DB
	Registry  *ml.Registry
	Detector  *ml.Detector
	Agent     *agent.Agent
	Publisher *services.Publisher
	Pipeline  *services.Pipeline

	closers []func() error
}

// New builds the application from configuration
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(ctx, opts); err != nil {
		return nil, err
	}

	registry, err := ml.LoadRegistry(cfg.Detector.ModelDir, logger.Named("ml"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registry
	a.Detector = ml.NewDetector(registry, logger.Named("detector"))

	var history agent.History = a.Store
	var index *cache.AnomalyIndex
	if cfg.Redis.Addr != "" && !opts.InMemory {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("anomaly cache unavailable, reading history from the store", zap.Error(err))
		} else {
			a.closers = append(a.closers, client.Close)
			index = cache.NewAnomalyIndex(client, cfg.Redis.AnomalyTTL, a.Store, logger.Named("cache"))
			history = index
			logger.Info("anomaly cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	a.Agent = agent.New(history, a.Store, cfg.Detector.HistoryWait, logger.Named("agent"))
	a.Publisher = services.NewPublisher(a.Store, a.Agent, logger.Named("publisher"))
	if index != nil {
		a.Publisher.AddNotifier("redis", index)
	}

	if len(cfg.Kafka.Brokers) > 0 && !opts.InMemory {
		kafka := notify.NewKafkaNotifier(cfg.Kafka)
		a.closers = append(a.closers, kafka.Close)
		a.Publisher.AddNotifier("kafka", kafka)
		logger.Info("kafka notifications enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	a.Pipeline = services.NewPipeline(a.Store, a.Detector, a.Publisher, logger.Named("pipeline"))
	return a, nil
}

func (a *App) openStore(ctx context.Context, opts Options) error {
	cfg := a.Config
	if opts.InMemory || !cfg.Database.DatabaseEnabled() {
		if opts.RequireDatabase {
			return errors.New("database is not configured; set DATABASE_URL or DB_HOST")
		}
		a.Store = store.NewStore(inMemoryReadings)
		a.Logger.Info("using in-memory data store")
		return nil
	}

	db, err := database.Connect(ctx, cfg.Database, a.Logger.Named("database"))
	if err != nil {
		if opts.RequireDatabase {
			return err
		}
		a.Logger.Warn("falling back to in-memory storage", zap.Error(err))
		a.Store = store.NewStore(inMemoryReadings)
		return nil
	}

	if err := database.CreateTables(ctx, db, a.Logger.Named("database")); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Store = database.NewDatabaseStore(db)
	return nil
}

// Close releases external connections in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
