package models

import (
	"math"
	"testing"
	"time"
)

func TestParseSensorType(t *testing.T) {
	tests := []struct {
		in      string
		want    SensorType
		wantErr bool
	}{
		{"MOISTURE", SensorMoisture, false},
		{"temperature", SensorTemperature, false},
		{" humidity ", SensorHumidity, false},
		{"ph", "", true},
	}

	for _, tt := range tests {
		got, err := ParseSensorType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSensorType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Expected %v, got %v", tt.want, got)
		}
	}
}

func TestValidateReading(t *testing.T) {
	valid := SensorReading{PlotID: 1, SensorType: SensorMoisture, Value: 55, ObservedAt: time.Now()}
	if err := valid.ValidateReading(); err != nil {
		t.Errorf("Expected valid reading, got %v", err)
	}

	bad := []SensorReading{
		{PlotID: 0, SensorType: SensorMoisture, Value: 55},
		{PlotID: 1, SensorType: "PH", Value: 7},
		{PlotID: 1, SensorType: SensorHumidity, Value: math.NaN()},
		{PlotID: 1, SensorType: SensorHumidity, Value: math.Inf(1)},
	}
	for i, r := range bad {
		if err := r.ValidateReading(); err == nil {
			t.Errorf("Expected reading %d to be rejected", i)
		}
	}
}

func TestNormalBand_Exceeds(t *testing.T) {
	band, ok := BandFor(SensorTemperature)
	if !ok {
		t.Fatal("Expected a temperature band")
	}

	tests := []struct {
		value float64
		want  bool
	}{
		{23, false},
		{30, false}, // above max but inside margin
		{31.5, true},
		{15, false},
		{14.9, true},
	}
	for _, tt := range tests {
		if got := band.Exceeds(tt.value); got != tt.want {
			t.Errorf("Exceeds(%v): expected %v, got %v", tt.value, tt.want, got)
		}
	}
}

func TestClassifyAnomaly(t *testing.T) {
	if got := ClassifyAnomaly(SensorMoisture, 20); got != AnomalyLowMoisture {
		t.Errorf("Expected %v, got %v", AnomalyLowMoisture, got)
	}
	if got := ClassifyAnomaly(SensorMoisture, 85); got != AnomalyHighMoisture {
		t.Errorf("Expected %v, got %v", AnomalyHighMoisture, got)
	}
	if got := ClassifyAnomaly(SensorTemperature, 35); got != AnomalyHighTemperature {
		t.Errorf("Expected %v, got %v", AnomalyHighTemperature, got)
	}
	if got := ClassifyAnomaly(SensorHumidity, 30); got != AnomalyLowHumidity {
		t.Errorf("Expected %v, got %v", AnomalyLowHumidity, got)
	}
}

func TestSeverityFromConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Severity
	}{
		{0.1, SeverityLow},
		{0.649, SeverityLow},
		{0.65, SeverityMedium},
		{0.79, SeverityMedium},
		{0.80, SeverityHigh},
		{1.0, SeverityHigh},
	}
	for _, tt := range tests {
		if got := SeverityFromConfidence(tt.confidence); got != tt.want {
			t.Errorf("SeverityFromConfidence(%v): expected %v, got %v", tt.confidence, tt.want, got)
		}
	}
}

func TestAnomalyType_LabelAndSensor(t *testing.T) {
	if got := AnomalyLowTemperature.Label(); got != "Low Temperature" {
		t.Errorf("Expected Low Temperature, got %v", got)
	}
	if got := AnomalyHighHumidity.Sensor(); got != SensorHumidity {
		t.Errorf("Expected %v, got %v", SensorHumidity, got)
	}
	if got := AnomalyType("SPIKE").Label(); got != "SPIKE" {
		t.Errorf("Expected unknown type to fall back to its code, got %v", got)
	}
}
