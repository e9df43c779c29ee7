package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/metrics"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecommendationStore persists recommendations at most once per anomaly
type RecommendationStore interface {
	GetRecommendation(ctx context.Context, anomalyID string) (*models.AgentRecommendation, error)
	GetOrCreateRecommendation(ctx context.Context, rec *models.AgentRecommendation) (*models.AgentRecommendation, bool, error)
}

// Agent turns confirmed anomalies into explained recommendations
type Agent struct {
	engine      *Engine
	renderer    *Renderer
	recs        RecommendationStore
	historyWait time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an agent reading history from h and persisting into recs.
// historyWait bounds the history reads of one evaluation.
func New(h History, recs RecommendationStore, historyWait time.Duration, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		engine:      NewEngine(h, logger),
		renderer:    NewRenderer(),
		recs:        recs,
		historyWait: historyWait,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Recommend returns the recommendation for ev, creating it on first call.
// Later calls return the persisted recommendation unchanged.
func (a *Agent) Recommend(ctx context.Context, ev *models.AnomalyEvent) (*models.AgentRecommendation, bool, error) {
	existing, err := a.recs.GetRecommendation(ctx, ev.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up recommendation for %s: %w", ev.ID, err)
	}

	decision := a.decide(ctx, ev)

	explanation, err := a.renderer.Render(decision.Context)
	if err != nil {
		return nil, false, err
	}

	rec := &models.AgentRecommendation{
		ID:          uuid.NewString(),
		AnomalyID:   ev.ID,
		Action:      decision.Action,
		Explanation: explanation,
		Confidence:  decision.Confidence,
		Template:    string(decision.Template()),
		Timestamp:   ev.Timestamp,
		CreatedAt:   a.now(),
	}

	saved, created, err := a.recs.GetOrCreateRecommendation(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save recommendation for %s: %w", ev.ID, err)
	}

	if created {
		metrics.Recommendations.WithLabelValues(saved.Template).Inc()
		a.logger.Info("recommendation created",
			zap.String("anomaly_id", ev.ID),
			zap.Int64("plot_id", ev.PlotID),
			zap.String("template", saved.Template),
			zap.String("confidence", string(saved.Confidence)))
	}
	return saved, created, nil
}

// preview evaluates the rules for ev without persisting anything
func (a *Agent) preview(ctx context.Context, ev *models.AnomalyEvent) (Decision, string, error) {
	decision := a.decide(ctx, ev)
	explanation, err := a.renderer.Render(decision.Context)
	return decision, explanation, err
}

func (a *Agent) decide(ctx context.Context, ev *models.AnomalyEvent) Decision {
	hctx := ctx
	if a.historyWait > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, a.historyWait)
		defer cancel()
	}
	return a.engine.Evaluate(hctx, ev)
}
