package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
)

// SourceMQTT, SourceHTTP and SourceReplay tag where a reading entered the system
const (
	SourceMQTT   = "mqtt"
	SourceHTTP   = "http"
	SourceReplay = "replay"
)

// SensorParser handles parsing of sensor data from gateways and replay files
type SensorParser struct {
	now func() time.Time
}

// NewSensorParser creates a new instance of SensorParser
func NewSensorParser() *SensorParser {
	return &SensorParser{now: func() time.Time { return time.Now().UTC() }}
}

type sensorPayload struct {
	Value      *float64   `json:"value"`
	ObservedAt *time.Time `json:"observed_at"`
}

// ParseTopic extracts the plot id and sensor type from a topic of the
// form agri/plots/{plot_id}/sensors/{sensor_type}
func (sp *SensorParser) ParseTopic(topic string) (int64, models.SensorType, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[1] != "plots" || parts[3] != "sensors" {
		return 0, "", fmt.Errorf("unexpected topic %q", topic)
	}

	plotID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || plotID <= 0 {
		return 0, "", fmt.Errorf("invalid plot id in topic %q", topic)
	}

	sensor, err := models.ParseSensorType(parts[4])
	if err != nil {
		return 0, "", err
	}
	return plotID, sensor, nil
}

// ParsePayload accepts {"value": 41.2, "observed_at": "<RFC3339>"} or a
// bare number. A missing timestamp means "now".
func (sp *SensorParser) ParsePayload(payload []byte) (float64, time.Time, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return 0, time.Time{}, errors.New("empty payload")
	}

	if trimmed[0] != '{' {
		value, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to parse sensor value %q: %w", trimmed, err)
		}
		return value, sp.now(), nil
	}

	var data sensorPayload
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to parse sensor JSON: %w", err)
	}
	if data.Value == nil {
		return 0, time.Time{}, errors.New("sensor JSON has no value")
	}

	observedAt := sp.now()
	if data.ObservedAt != nil && !data.ObservedAt.IsZero() {
		observedAt = data.ObservedAt.UTC()
	}
	return *data.Value, observedAt, nil
}

// ParseMessage builds a validated reading from an MQTT message
func (sp *SensorParser) ParseMessage(topic string, payload []byte) (*models.SensorReading, error) {
	plotID, sensor, err := sp.ParseTopic(topic)
	if err != nil {
		return nil, err
	}
	value, observedAt, err := sp.ParsePayload(payload)
	if err != nil {
		return nil, err
	}

	reading := &models.SensorReading{
		PlotID:     plotID,
		SensorType: sensor,
		Value:      value,
		ObservedAt: observedAt,
		Source:     SourceMQTT,
	}
	if err := reading.ValidateReading(); err != nil {
		return nil, fmt.Errorf("invalid sensor reading: %w", err)
	}
	return reading, nil
}

// ParseRecord parses one replay CSV row: plot_id,sensor_type,value,observed_at
func (sp *SensorParser) ParseRecord(record []string) (*models.SensorReading, error) {
	if len(record) != 4 {
		return nil, fmt.Errorf("expected 4 fields (plot_id,sensor_type,value,observed_at), got %d", len(record))
	}

	plotID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid plot_id %q", record[0])
	}
	sensor, err := models.ParseSensorType(record[1])
	if err != nil {
		return nil, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", record[2])
	}
	observedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(record[3]))
	if err != nil {
		return nil, fmt.Errorf("invalid observed_at %q: %w", record[3], err)
	}

	reading := &models.SensorReading{
		PlotID:     plotID,
		SensorType: sensor,
		Value:      value,
		ObservedAt: observedAt.UTC(),
		Source:     SourceReplay,
	}
	if err := reading.ValidateReading(); err != nil {
		return nil, fmt.Errorf("invalid sensor reading: %w", err)
	}
	return reading, nil
}

// FormatSensorReading formats sensor reading for logging or debugging
func (sp *SensorParser) FormatSensorReading(reading *models.SensorReading) string {
	return fmt.Sprintf("Plot: %d, Sensor: %s, Time: %s, Value: %.2f",
		reading.PlotID,
		reading.SensorType,
		reading.ObservedAt.Format("2006-01-02 15:04:05"),
		reading.Value)
}
