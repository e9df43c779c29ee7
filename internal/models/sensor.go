package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SensorType identifies the kind of sensor installed on a plot
type SensorType string

const (
	SensorMoisture    SensorType = "MOISTURE"
	SensorTemperature SensorType = "TEMPERATURE"
	SensorHumidity    SensorType = "HUMIDITY"
)

// SensorTypes lists every supported sensor type in a stable order
var SensorTypes = []SensorType{SensorMoisture, SensorTemperature, SensorHumidity}

// ParseSensorType accepts the canonical upper-case name or its lower-case form
func ParseSensorType(s string) (SensorType, error) {
	st := SensorType(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown sensor type %q", s)
	}
	return st, nil
}

// Valid reports whether the sensor type is one the system knows about
func (s SensorType) Valid() bool {
	switch s {
	case SensorMoisture, SensorTemperature, SensorHumidity:
		return true
	}
	return false
}

// Lower returns the lower-case form used in topics and artifact file names
func (s SensorType) Lower() string {
	return strings.ToLower(string(s))
}

// SeriesKey identifies one (plot, sensor) stream
type SeriesKey struct {
	PlotID int64      `json:"plot_id"`
	Sensor SensorType `json:"sensor_type"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("plot %d/%s", k.PlotID, k.Sensor.Lower())
}

// SensorReading is one accepted measurement for a plot
type SensorReading struct {
	ID         int64      `json:"id" db:"id"`
	PlotID     int64      `json:"plot_id" db:"plot_id"`
	SensorType SensorType `json:"sensor_type" db:"sensor_type"`
	Value      float64    `json:"value" db:"value"`
	ObservedAt time.Time  `json:"observed_at" db:"observed_at"`
	Source     string     `json:"source,omitempty" db:"source"` // "mqtt", "http", "replay"
}

// Key returns the stream identity of the reading
func (r *SensorReading) Key() SeriesKey {
	return SeriesKey{PlotID: r.PlotID, Sensor: r.SensorType}
}

// ValidateReading checks the reading can be fed to the detector
func (r *SensorReading) ValidateReading() error {
	if r.PlotID <= 0 {
		return fmt.Errorf("plot_id must be positive, got %d", r.PlotID)
	}
	if !r.SensorType.Valid() {
		return fmt.Errorf("unknown sensor type %q", r.SensorType)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("value must be finite, got %v", r.Value)
	}
	return nil
}

// NormalBand is the agronomic comfort range for a sensor type. A reading
// only counts as a confirmed anomaly when it lies outside the band by more
// than Margin.
type NormalBand struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Margin float64 `json:"margin"`
}

var normalBands = map[SensorType]NormalBand{
	SensorTemperature: {Min: 18, Max: 28, Margin: 3},
	SensorHumidity:    {Min: 50, Max: 75, Margin: 8},
	SensorMoisture:    {Min: 40, Max: 70, Margin: 8},
}

// BandFor returns the normal band for a sensor type
func BandFor(s SensorType) (NormalBand, bool) {
	b, ok := normalBands[s]
	return b, ok
}

// Exceeds reports whether value is outside the band by more than the margin
func (b NormalBand) Exceeds(value float64) bool {
	return value < b.Min-b.Margin || value > b.Max+b.Margin
}
