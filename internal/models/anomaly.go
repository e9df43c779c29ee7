package models

import (
	"time"
)

// AnomalyType is the high/low subtype of a confirmed anomaly
type AnomalyType string

const (
	AnomalyHighMoisture    AnomalyType = "HIGH_MOISTURE"
	AnomalyLowMoisture     AnomalyType = "LOW_MOISTURE"
	AnomalyHighTemperature AnomalyType = "HIGH_TEMPERATURE"
	AnomalyLowTemperature  AnomalyType = "LOW_TEMPERATURE"
	AnomalyHighHumidity    AnomalyType = "HIGH_HUMIDITY"
	AnomalyLowHumidity     AnomalyType = "LOW_HUMIDITY"
)

var anomalyLabels = map[AnomalyType]string{
	AnomalyHighMoisture:    "High Moisture",
	AnomalyLowMoisture:     "Low Moisture",
	AnomalyHighTemperature: "High Temperature",
	AnomalyLowTemperature:  "Low Temperature",
	AnomalyHighHumidity:    "High Humidity",
	AnomalyLowHumidity:     "Low Humidity",
}

// Label returns the human readable name shown in recommendations
func (a AnomalyType) Label() string {
	if l, ok := anomalyLabels[a]; ok {
		return l
	}
	return string(a)
}

// Sensor returns the sensor type the anomaly belongs to
func (a AnomalyType) Sensor() SensorType {
	switch a {
	case AnomalyHighMoisture, AnomalyLowMoisture:
		return SensorMoisture
	case AnomalyHighTemperature, AnomalyLowTemperature:
		return SensorTemperature
	case AnomalyHighHumidity, AnomalyLowHumidity:
		return SensorHumidity
	}
	return ""
}

// ClassifyAnomaly picks the HIGH_* subtype when the value is above the
// band maximum and LOW_* otherwise
func ClassifyAnomaly(sensor SensorType, value float64) AnomalyType {
	band := normalBands[sensor]
	high := value > band.Max
	switch sensor {
	case SensorTemperature:
		if high {
			return AnomalyHighTemperature
		}
		return AnomalyLowTemperature
	case SensorHumidity:
		if high {
			return AnomalyHighHumidity
		}
		return AnomalyLowHumidity
	default:
		if high {
			return AnomalyHighMoisture
		}
		return AnomalyLowMoisture
	}
}

// Severity grades a confirmed anomaly
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SeverityFromConfidence maps model confidence onto severity cut points
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence < 0.65:
		return SeverityLow
	case confidence < 0.80:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// AgentConfidence is the discretized confidence of a recommendation
type AgentConfidence string

const (
	ConfidenceLow    AgentConfidence = "LOW"
	ConfidenceMedium AgentConfidence = "MEDIUM"
	ConfidenceHigh   AgentConfidence = "HIGH"
)

// AnomalyEvent is a persisted, immutable record of one confirmed
// NORMAL to ANOMALOUS transition
type AnomalyEvent struct {
	ID              string      `json:"id" db:"id"`
	PlotID          int64       `json:"plot_id" db:"plot_id"`
	SensorType      SensorType  `json:"sensor_type" db:"sensor_type"`
	AnomalyType     AnomalyType `json:"anomaly_type" db:"anomaly_type"`
	Severity        Severity    `json:"severity" db:"severity"`
	ModelConfidence float64     `json:"model_confidence" db:"model_confidence"` // clamped to [0,1]
	Value           float64     `json:"value" db:"value"`                       // raw reading that confirmed the anomaly
	Timestamp       time.Time   `json:"timestamp" db:"timestamp"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// AgentRecommendation is the explained action attached to exactly one anomaly
type AgentRecommendation struct {
	ID          string          `json:"id" db:"id"`
	AnomalyID   string          `json:"anomaly_id" db:"anomaly_id"`
	Action      string          `json:"action" db:"action"`
	Explanation string          `json:"explanation" db:"explanation"`
	Confidence  AgentConfidence `json:"confidence" db:"confidence"`
	Template    string          `json:"template" db:"template"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AnomalyFilter narrows anomaly listings
type AnomalyFilter struct {
	PlotID int64 // 0 means all plots
	Limit  int
}

// AnomalyStats summarizes persisted anomalies
type AnomalyStats struct {
	Total             int                 `json:"total"`
	BySeverity        map[Severity]int    `json:"by_severity"`
	ByType            map[AnomalyType]int `json:"by_type"`
	AverageConfidence float64             `json:"average_confidence"`
}
