package ml

import "math"

// Oracle is a pre-calibrated scoring model for one sensor type. Scale and
// Score must be deterministic; lower scores are more anomalous.
type Oracle interface {
	Scale(x FeatureVector) (FeatureVector, error)
	Score(x FeatureVector) (float64, error)
	Calibration() Calibration
}

// Calibration holds the thresholds fitted alongside the model
type Calibration struct {
	RawStart        float64 `json:"raw_start"`        // entry allowed below this score
	RawStop         float64 `json:"raw_stop"`         // anomaly held below this score
	MinConsecutive  int     `json:"min_consecutive"`  // k
	ConfidenceScale float64 `json:"confidence_scale"` // logistic slope
	WindowSize      int     `json:"feature_window"`
}

// Confidence maps a raw score to [0,1] via sigmoid(-raw × scale)
func (c Calibration) Confidence(raw float64) float64 {
	return 1 / (1 + math.Exp(raw*c.ConfidenceScale))
}
