package ml

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	defaultFeatureWindow   = 5
	defaultConfidenceScale = 7.0
)

// ArtifactMeta carries training diagnostics. It does not affect scoring.
type ArtifactMeta struct {
	TrainContamination float64 `yaml:"train_contamination" json:"train_contamination"`
	StartQuantile      float64 `yaml:"start_q" json:"start_q"`
	StopQuantile       float64 `yaml:"stop_q" json:"stop_q"`
	UsedPlots          []int64 `yaml:"used_plots" json:"used_plots"`
	Samples            int     `yaml:"n_samples" json:"n_samples"`
}

// Artifact is a scoring model exported from offline training
type Artifact struct {
	SensorType      models.SensorType `yaml:"sensor_type" json:"sensor_type"`
	FeatureWindow   int               `yaml:"feature_window" json:"feature_window"`
	RawStart        float64           `yaml:"raw_start" json:"raw_start"`
	RawStop         float64           `yaml:"raw_stop" json:"raw_stop"`
	MinConsecutive  int               `yaml:"min_consecutive" json:"min_consecutive"`
	ConfidenceScale float64           `yaml:"confidence_scale" json:"confidence_scale"`
	Scaler          RobustScaler      `yaml:"scaler" json:"scaler"`
	Forest          IsolationForest   `yaml:"forest" json:"forest"`
	Meta            *ArtifactMeta     `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// LoadArtifact reads and validates a YAML artifact from disk
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	a, err := ParseArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return a, nil
}

// ParseArtifact decodes and validates a YAML artifact. Unknown keys are rejected.
func ParseArtifact(data []byte) (*Artifact, error) {
	a := &Artifact{
		FeatureWindow:   defaultFeatureWindow,
		ConfidenceScale: defaultConfidenceScale,
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the artifact can be scored and keeps its hysteresis
func (a *Artifact) Validate() error {
	var errs []error
	if !a.SensorType.Valid() {
		errs = append(errs, fmt.Errorf("unknown sensor_type %q", a.SensorType))
	}
	if a.FeatureWindow < 1 {
		errs = append(errs, fmt.Errorf("feature_window must be >= 1, got %d", a.FeatureWindow))
	}
	if a.RawStop < a.RawStart {
		errs = append(errs, fmt.Errorf("raw_stop %.6f is stricter than raw_start %.6f", a.RawStop, a.RawStart))
	}
	if a.MinConsecutive < 1 {
		errs = append(errs, fmt.Errorf("min_consecutive must be >= 1, got %d", a.MinConsecutive))
	}
	if a.ConfidenceScale <= 0 {
		errs = append(errs, fmt.Errorf("confidence_scale must be positive, got %v", a.ConfidenceScale))
	}
	if len(a.Scaler.Center) != FeatureCount || len(a.Scaler.Scale) != FeatureCount {
		errs = append(errs, fmt.Errorf("scaler must have %d center and scale values", FeatureCount))
	}
	if a.Forest.MaxSamples < 2 {
		errs = append(errs, fmt.Errorf("forest max_samples must be >= 2, got %d", a.Forest.MaxSamples))
	}
	if len(a.Forest.Trees) == 0 {
		errs = append(errs, errors.New("forest has no trees"))
	}
	for ti, tree := range a.Forest.Trees {
		if len(tree.Nodes) == 0 {
			errs = append(errs, fmt.Errorf("tree %d is empty", ti))
			continue
		}
		for ni, node := range tree.Nodes {
			if node.Left < 0 {
				continue
			}
			if node.Left >= len(tree.Nodes) || node.Right < 0 || node.Right >= len(tree.Nodes) {
				errs = append(errs, fmt.Errorf("tree %d node %d has child outside the tree", ti, ni))
			}
			if node.Feature < 0 || node.Feature >= FeatureCount {
				errs = append(errs, fmt.Errorf("tree %d node %d splits on feature %d", ti, ni, node.Feature))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, errors.Join(errs...))
	}
	return nil
}

// Scale applies the fitted robust scaler
func (a *Artifact) Scale(x FeatureVector) (FeatureVector, error) {
	return a.Scaler.Transform(x)
}

// Score evaluates the isolation forest on a scaled vector
func (a *Artifact) Score(x FeatureVector) (float64, error) {
	return a.Forest.Score(x)
}

// Calibration returns the thresholds stored with the model
func (a *Artifact) Calibration() Calibration {
	return Calibration{
		RawStart:        a.RawStart,
		RawStop:         a.RawStop,
		MinConsecutive:  a.MinConsecutive,
		ConfidenceScale: a.ConfidenceScale,
		WindowSize:      a.FeatureWindow,
	}
}
