package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/metrics"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"go.uber.org/zap"
)

const (
	lowConfidenceCutoff = 0.6
	moistureDropPercent = 10.0
	heatStressDelta     = 5.0 // °C assumed above normal when the reading gives no better figure
	historyWindow       = time.Hour
)

// History is read access to recent plot data
type History interface {
	// ReadingsInRange returns readings for (plot, sensor) with from <= t <= to, oldest first
	ReadingsInRange(ctx context.Context, plotID int64, sensor models.SensorType, from, to time.Time) ([]models.SensorReading, error)
	// AnomaliesInRange returns anomaly events for plot with from <= t < to, oldest first
	AnomaliesInRange(ctx context.Context, plotID int64, from, to time.Time) ([]models.AnomalyEvent, error)
}

// Rule is one step of the decision tree. A nil decision means the rule
// does not apply and evaluation moves on.
type Rule interface {
	ID() TemplateID
	Evaluate(ctx context.Context, ev *models.AnomalyEvent, h History) (*Decision, error)
}

// DefaultRules returns the rules in evaluation order. Earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		lowConfidenceRule{},
		irrigationRule{},
		heatStressRule{},
		multiAnomalyRule{},
	}
}

// Engine evaluates rules first-match against an anomaly and its history
type Engine struct {
	rules   []Rule
	history History
	logger  *zap.Logger
}

// NewEngine creates an engine over the default rule set
func NewEngine(history History, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rules: DefaultRules(), history: history, logger: logger}
}

// Evaluate selects a decision for ev. It never fails: a history read error
// degrades to the default rule.
func (e *Engine) Evaluate(ctx context.Context, ev *models.AnomalyEvent) Decision {
	start := time.Now()
	defer func() { metrics.RuleLatency.Observe(time.Since(start).Seconds()) }()

	for _, rule := range e.rules {
		d, err := rule.Evaluate(ctx, ev, e.history)
		if err != nil {
			metrics.HistoryFallbacks.Inc()
			e.logger.Warn("rule evaluation failed, using default rule",
				zap.String("rule", string(rule.ID())),
				zap.String("anomaly_id", ev.ID),
				zap.Error(err))
			return defaultDecision(ev)
		}
		if d != nil {
			return *d
		}
	}
	return defaultDecision(ev)
}

func baseFor(ev *models.AnomalyEvent, action string, confidence models.AgentConfidence) Base {
	return Base{Timestamp: ev.Timestamp, PlotID: ev.PlotID, Action: action, Confidence: confidence}
}

type lowConfidenceRule struct{}

func (lowConfidenceRule) ID() TemplateID { return TemplateLowConfidence }

func (lowConfidenceRule) Evaluate(_ context.Context, ev *models.AnomalyEvent, _ History) (*Decision, error) {
	if ev.ModelConfidence >= lowConfidenceCutoff {
		return nil, nil
	}
	action := "Monitor closely — verify with manual inspection."
	return &Decision{
		Action:     action,
		Confidence: models.ConfidenceLow,
		Context: LowConfidenceContext{
			Base:            baseFor(ev, action, models.ConfidenceLow),
			AnomalyType:     ev.AnomalyType.Label(),
			ModelConfidence: ev.ModelConfidence,
		},
	}, nil
}

type irrigationRule struct{}

func (irrigationRule) ID() TemplateID { return TemplateIrrigationCheck }

func (irrigationRule) Evaluate(ctx context.Context, ev *models.AnomalyEvent, h History) (*Decision, error) {
	if ev.AnomalyType.Sensor() != models.SensorMoisture {
		return nil, nil
	}

	readings, err := h.ReadingsInRange(ctx, ev.PlotID, models.SensorMoisture, ev.Timestamp.Add(-historyWindow), ev.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: moisture readings: %w", ErrHistoryUnavailable, err)
	}
	if len(readings) < 2 {
		return nil, nil
	}

	first, last := readings[0].Value, readings[len(readings)-1].Value
	if first <= 0 {
		return nil, nil
	}
	drop := (first - last) / first * 100
	if drop <= moistureDropPercent {
		return nil, nil
	}

	action := "Irrigation check — possible leak or pump failure."
	return &Decision{
		Action:     action,
		Confidence: models.ConfidenceHigh,
		Context: IrrigationContext{
			Base:            baseFor(ev, action, models.ConfidenceHigh),
			ModelConfidence: ev.ModelConfidence,
			MoistureDelta:   drop,
		},
	}, nil
}

type heatStressRule struct{}

func (heatStressRule) ID() TemplateID { return TemplateHeatStress }

func (heatStressRule) Evaluate(_ context.Context, ev *models.AnomalyEvent, _ History) (*Decision, error) {
	if ev.AnomalyType.Sensor() != models.SensorTemperature || ev.Severity != models.SeverityHigh {
		return nil, nil
	}

	delta := heatStressDelta
	if band, ok := models.BandFor(models.SensorTemperature); ok && ev.Value-band.Max > 0 {
		delta = ev.Value - band.Max
	}

	action := "Heat stress mitigation — increase shade or irrigation frequency."
	return &Decision{
		Action:     action,
		Confidence: models.ConfidenceMedium,
		Context: HeatStressContext{
			Base:            baseFor(ev, action, models.ConfidenceMedium),
			ModelConfidence: ev.ModelConfidence,
			TempDelta:       delta,
		},
	}, nil
}

type multiAnomalyRule struct{}

func (multiAnomalyRule) ID() TemplateID { return TemplateMultiAnomaly }

func (multiAnomalyRule) Evaluate(ctx context.Context, ev *models.AnomalyEvent, h History) (*Decision, error) {
	recent, err := h.AnomaliesInRange(ctx, ev.PlotID, ev.Timestamp.Add(-historyWindow), ev.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: plot anomalies: %w", ErrHistoryUnavailable, err)
	}

	factors := map[string]struct{}{string(ev.AnomalyType): {}}
	others := 0
	for _, other := range recent {
		if other.ID == ev.ID || !other.Timestamp.Before(ev.Timestamp) {
			continue
		}
		factors[string(other.AnomalyType)] = struct{}{}
		others++
	}
	if others == 0 {
		return nil, nil
	}

	action := "Comprehensive plot inspection — multiple stress factors detected."
	return &Decision{
		Action:     action,
		Confidence: models.ConfidenceHigh,
		Context: MultiAnomalyContext{
			Base:    baseFor(ev, action, models.ConfidenceHigh),
			Factors: joinSorted(factors),
		},
	}, nil
}

func joinSorted(set map[string]struct{}) string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func defaultDecision(ev *models.AnomalyEvent) Decision {
	action := fmt.Sprintf("Investigate '%s' on plot %d.", ev.AnomalyType.Label(), ev.PlotID)
	return Decision{
		Action:     action,
		Confidence: models.ConfidenceMedium,
		Context: DefaultContext{
			Base:            baseFor(ev, action, models.ConfidenceMedium),
			AnomalyType:     ev.AnomalyType.Label(),
			ModelConfidence: ev.ModelConfidence,
		},
	}
}
