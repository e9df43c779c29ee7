package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsProcessed counts readings handed to the pipeline
	ReadingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_readings_processed_total",
			Help: "Total number of sensor readings processed",
		},
		[]string{"sensor_type", "source"},
	)

	// Predictions counts detector outcomes
	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_predictions_total",
			Help: "Detector outcomes by status (unknown, normal, anomalous, error)",
		},
		[]string{"sensor_type", "status"},
	)

	// StateTransitions counts hysteresis state changes
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_state_transitions_total",
			Help: "Detector state transitions",
		},
		[]string{"sensor_type", "transition"},
	)

	// GateSuppressed counts detections rejected by the magnitude gate
	GateSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_magnitude_gate_suppressed_total",
			Help: "Detector entries discarded because the value was inside the normal band",
		},
		[]string{"sensor_type"},
	)

	// AnomaliesPublished counts persisted anomaly events
	AnomaliesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_anomalies_published_total",
			Help: "Total number of anomaly events persisted",
		},
		[]string{"anomaly_type", "severity"},
	)

	// Recommendations counts recommendations created per template
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_recommendations_total",
			Help: "Total number of agent recommendations created",
		},
		[]string{"template"},
	)

	// HistoryFallbacks counts rule evaluations degraded to the default rule
	HistoryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agri_history_fallbacks_total",
			Help: "Rule evaluations that fell back to the default rule after a history read failure",
		},
	)

	// RuleLatency measures rule evaluation including history reads
	RuleLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agri_rule_evaluation_seconds",
			Help:    "Rule engine evaluation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// ActiveStreams tracks live detector streams
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agri_active_streams",
			Help: "Number of (plot, sensor) streams held by the detector",
		},
	)

	// NotifyFailures counts failed downstream deliveries
	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_notify_failures_total",
			Help: "Failed anomaly/recommendation deliveries per sink",
		},
		[]string{"sink"},
	)

	// RequestsTotal counts HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agri_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration measures HTTP request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agri_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
