package agent

import (
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

// TemplateID names an explanation template
type TemplateID string

const (
	TemplateIrrigationCheck TemplateID = "IRRIGATION_CHECK"
	TemplateHeatStress      TemplateID = "HEAT_STRESS"
	TemplateMultiAnomaly    TemplateID = "MULTI_ANOMALY"
	TemplateLowConfidence   TemplateID = "LOW_CONFIDENCE_MONITOR"
	TemplateDefault         TemplateID = "DEFAULT"
)

// Base carries the fields every explanation needs
type Base struct {
	Timestamp  time.Time
	PlotID     int64
	Action     string
	Confidence models.AgentConfidence
}

// Minute formats the timestamp the way explanations print it
func (b Base) Minute() string {
	return b.Timestamp.Format("2006-01-02 15:04")
}

// RuleContext is the template-specific data a rule hands to the renderer.
// The set of implementations is closed.
type RuleContext interface {
	Template() TemplateID
	base() Base
}

// IrrigationContext backs IRRIGATION_CHECK
type IrrigationContext struct {
	Base
	ModelConfidence float64
	MoistureDelta   float64 // percentage drop over the last hour
}

// HeatStressContext backs HEAT_STRESS
type HeatStressContext struct {
	Base
	ModelConfidence float64
	TempDelta       float64 // degrees above the normal band
}

// MultiAnomalyContext backs MULTI_ANOMALY
type MultiAnomalyContext struct {
	Base
	Factors string // sorted, comma separated anomaly type codes
}

// LowConfidenceContext backs LOW_CONFIDENCE_MONITOR
type LowConfidenceContext struct {
	Base
	AnomalyType     string
	ModelConfidence float64
}

// DefaultContext backs DEFAULT
type DefaultContext struct {
	Base
	AnomalyType     string
	ModelConfidence float64
}

func (IrrigationContext) Template() TemplateID    { return TemplateIrrigationCheck }
func (HeatStressContext) Template() TemplateID    { return TemplateHeatStress }
func (MultiAnomalyContext) Template() TemplateID  { return TemplateMultiAnomaly }
func (LowConfidenceContext) Template() TemplateID { return TemplateLowConfidence }
func (DefaultContext) Template() TemplateID       { return TemplateDefault }

func (c IrrigationContext) base() Base    { return c.Base }
func (c HeatStressContext) base() Base    { return c.Base }
func (c MultiAnomalyContext) base() Base  { return c.Base }
func (c LowConfidenceContext) base() Base { return c.Base }
func (c DefaultContext) base() Base       { return c.Base }

// Decision is the outcome of rule evaluation
type Decision struct {
	Action     string
	Confidence models.AgentConfidence
	Context    RuleContext
}

// Template returns the template the decision renders with
func (d Decision) Template() TemplateID {
	return d.Context.Template()
}
