package ml

import (
	"fmt"
	"math"
)

// FeatureCount is the width of a feature vector
const FeatureCount = 5

// FeatureVector holds [value, roll_mean, roll_std, diff, derivative]
type FeatureVector [FeatureCount]float64

// WarmupFloor is the minimum number of observed points before a stream
// produces decisions
func WarmupFloor(windowSize int) int {
	floor := int(math.Ceil(1.5 * float64(windowSize)))
	if floor < 15 {
		floor = 15
	}
	return floor
}

// FeatureWindow is the bounded rolling buffer of raw values for one stream.
// It is not safe for concurrent use; the detector serializes access per key.
type FeatureWindow struct {
	size     int
	capacity int
	values   []float64
}

// NewFeatureWindow creates a window computing features over the last size
// values. Retention is 3×size, raised to the warmup floor so that short
// windows can still warm up.
func NewFeatureWindow(size int) *FeatureWindow {
	if size < 1 {
		size = 1
	}
	capacity := 3 * size
	if floor := WarmupFloor(size); capacity < floor {
		capacity = floor
	}
	return &FeatureWindow{
		size:     size,
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}
}

// Observe appends value and returns the feature vector for it
func (w *FeatureWindow) Observe(value float64) (FeatureVector, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return FeatureVector{}, fmt.Errorf("%w: value %v is not finite", ErrInvalidReading, value)
	}

	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, value)

	return w.features(), nil
}

// Len returns the number of retained values
func (w *FeatureWindow) Len() int {
	return len(w.values)
}

// Size returns the feature window size
func (w *FeatureWindow) Size() int {
	return w.size
}

// Reset drops all retained values
func (w *FeatureWindow) Reset() {
	w.values = w.values[:0]
}

func (w *FeatureWindow) features() FeatureVector {
	n := len(w.values)
	value := w.values[n-1]

	start := n - w.size
	if start < 0 {
		start = 0
	}
	window := w.values[start:]

	mean, std := meanStd(window)

	diff := 0.0
	if n > 1 {
		diff = value - w.values[n-2]
	}

	derivative := 0.0
	if len(window) > 1 {
		// consecutive differences telescope to (last - first)
		derivative = (window[len(window)-1] - window[0]) / float64(len(window)-1)
	}

	return FeatureVector{value, mean, std, diff, derivative}
}

// meanStd returns the mean and population standard deviation of values.
// The deviation is 0 for fewer than 2 points.
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range values {
		d := v - mean
		varianceSum += d * d
	}
	return mean, math.Sqrt(varianceSum / float64(len(values)))
}
