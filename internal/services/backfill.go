package services

import (
	"context"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"go.uber.org/zap"
)

// PendingSource lists anomalies that still have no recommendation
type PendingSource interface {
	AnomaliesWithoutRecommendation(ctx context.Context, limit int) ([]models.AnomalyEvent, error)
}

// Backfill periodically creates recommendations for anomalies that were
// committed without one, e.g. after a crash between the two writes
type Backfill struct {
	pending   PendingSource
	publisher *Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewBackfill creates a backfill loop
func NewBackfill(pending PendingSource, publisher *Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Backfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Backfill{
		pending:   pending,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run checks immediately and then every interval until ctx is cancelled
func (b *Backfill) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("recommendation backfill started", zap.Duration("interval", b.interval))
	b.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			b.RunOnce(ctx)
		case <-ctx.Done():
			b.logger.Info("recommendation backfill stopped")
			return nil
		}
	}
}

// RunOnce processes one batch and returns how many recommendations it completed
func (b *Backfill) RunOnce(ctx context.Context) int {
	events, err := b.pending.AnomaliesWithoutRecommendation(ctx, b.batchSize)
	if err != nil {
		b.logger.Error("failed to list anomalies without recommendation", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	done := 0
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		if _, err := b.publisher.Recommend(ctx, &events[i]); err != nil {
			b.logger.Warn("backfill recommendation failed",
				zap.String("anomaly_id", events[i].ID), zap.Error(err))
			continue
		}
		done++
	}

	b.logger.Info("recommendation backfill pass",
		zap.Int("pending", len(events)), zap.Int("completed", done))
	return done
}
