package agent

import (
	"fmt"
	"strings"
	"text/template"
)

var explanationTexts = map[TemplateID]string{
	TemplateIrrigationCheck: `At {{.Minute}}, an irrigation-related anomaly was detected on plot {{.PlotID}} ` +
		`with model confidence {{printf "%.2f" .ModelConfidence}}. ` +
		`Soil moisture dropped by {{printf "%.1f" .MoistureDelta}}% over the last hour. ` +
		`Recommended action: {{sentence .Action}} Confidence: {{.Confidence}}.`,
	TemplateHeatStress: `At {{.Minute}}, a heat stress anomaly was detected on plot {{.PlotID}} ` +
		`with model confidence {{printf "%.2f" .ModelConfidence}}. ` +
		`Temperature has been sustained {{printf "%.1f" .TempDelta}}°C above normal. ` +
		`Recommended action: {{sentence .Action}} Confidence: {{.Confidence}}.`,
	TemplateMultiAnomaly: `At {{.Minute}}, multiple concurrent anomalies were detected on plot {{.PlotID}}. ` +
		`Factors include: {{.Factors}}. ` +
		`Recommended action: {{sentence .Action}} Confidence: {{.Confidence}}.`,
	TemplateLowConfidence: `At {{.Minute}}, a potential anomaly of type '{{.AnomalyType}}' was detected on plot {{.PlotID}} ` +
		`with low model confidence ({{printf "%.2f" .ModelConfidence}}). ` +
		`A manual check is advised to confirm the issue. ` +
		`Recommended action: {{sentence .Action}} Confidence: {{.Confidence}}.`,
	TemplateDefault: `At {{.Minute}}, an anomaly of type '{{.AnomalyType}}' was detected on plot {{.PlotID}} ` +
		`with model confidence {{printf "%.2f" .ModelConfidence}}. ` +
		`Recommended action: {{sentence .Action}} Confidence: {{.Confidence}}.`,
}

var templateFuncs = template.FuncMap{
	// sentence ends s with exactly one period
	"sentence": func(s string) string {
		return strings.TrimRight(s, ".") + "."
	},
}

// Renderer turns a rule context into explanation text
type Renderer struct {
	templates map[TemplateID]*template.Template
}

// NewRenderer parses the built-in explanation templates
func NewRenderer() *Renderer {
	r, err := newRenderer(explanationTexts)
	if err != nil {
		panic(err)
	}
	return r
}

func newRenderer(texts map[TemplateID]string) (*Renderer, error) {
	r := &Renderer{templates: make(map[TemplateID]*template.Template, len(texts))}
	for id, text := range texts {
		t, err := template.New(string(id)).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", id, err)
		}
		r.templates[id] = t
	}
	return r, nil
}

// Render fills the template named by c
func (r *Renderer) Render(c RuleContext) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: nil context", ErrUnknownTemplate)
	}
	t, ok := r.templates[c.Template()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, c.Template())
	}

	var sb strings.Builder
	if err := t.Execute(&sb, c); err != nil {
		return "", fmt.Errorf("failed to render %s for plot %d: %w", c.Template(), c.base().PlotID, err)
	}
	return sb.String(), nil
}
