package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/export"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/ghouf2005/Agriculture-project/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	store         store.DataStore
	pipeline      *services.Pipeline
	publisher     *services.Publisher
	detector      *ml.Detector
	registry      *ml.Registry
	modelDir      string
	hub           *ws.Hub
	exportService *export.ExportService
	logger        *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:         deps.Store,
		pipeline:      deps.Pipeline,
		publisher:     deps.Publisher,
		detector:      deps.Detector,
		registry:      deps.Registry,
		modelDir:      deps.ModelDir,
		hub:           deps.Hub,
		exportService: export.NewExportService(),
		logger:        logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ReadingRequest is the body of POST /api/v1/readings
type ReadingRequest struct {
	PlotID     int64      `json:"plot_id"`
	SensorType string     `json:"sensor_type"`
	Value      *float64   `json:"value"`
	ObservedAt *time.Time `json:"observed_at"`
}

// DetectionResponse reports what a reading produced
type DetectionResponse struct {
	Status         ml.Status                   `json:"status"`
	IsAnomaly      bool                        `json:"is_anomaly"`
	Confidence     float64                     `json:"confidence"`
	RawScore       float64                     `json:"raw_score"`
	Transition     ml.Transition               `json:"transition"`
	Points         int                         `json:"points"`
	AnomalyID      string                      `json:"anomaly_id,omitempty"`
	Anomaly        *models.AnomalyEvent        `json:"anomaly,omitempty"`
	Recommendation *models.AgentRecommendation `json:"recommendation,omitempty"`
}

// ResetRequest is the body of POST /api/v1/detectors/reset
type ResetRequest struct {
	PlotID     int64  `json:"plot_id"`
	SensorType string `json:"sensor_type"`
}

func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// sendErrorResponse sends an error response
func (h *Handlers) sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

// sendStoreError maps storage errors to status codes
func (h *Handlers) sendStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.sendErrorResponse(w, what+" not found", http.StatusNotFound)
		return
	}
	h.logger.Error("storage error", zap.String("resource", what), zap.Error(err))
	h.sendErrorResponse(w, "Failed to load "+what, http.StatusInternalServerError)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func parsePlot(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("plot")
	if raw == "" {
		return 0, nil
	}
	plotID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || plotID <= 0 {
		return 0, fmt.Errorf("invalid plot %q", raw)
	}
	return plotID, nil
}

// anomalyID validates the {id} path parameter; ids are UUIDs
func anomalyID(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return id, false
	}
	return id, true
}

// Health reports store reachability and live stream counts
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"status":  "ok",
		"streams": h.detector.Streams(),
	}
	if h.registry != nil {
		data["sensors"] = h.registry.Sensors()
	}
	if h.hub != nil {
		data["ws_clients"] = h.hub.GetConnectedClientsCount()
	}

	if err := h.store.Ping(r.Context()); err != nil {
		data["status"] = "degraded"
		data["store_error"] = err.Error()
		h.sendJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: data})
		return
	}
	h.sendSuccess(w, data)
}

// IngestReading runs one reading through the detector
func (h *Handlers) IngestReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		h.sendErrorResponse(w, "value is required", http.StatusBadRequest)
		return
	}
	sensor, err := models.ParseSensorType(req.SensorType)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	reading := &models.SensorReading{
		PlotID:     req.PlotID,
		SensorType: sensor,
		Value:      *req.Value,
		Source:     services.SourceHTTP,
	}
	if req.ObservedAt != nil {
		reading.ObservedAt = req.ObservedAt.UTC()
	}

	result, err := h.pipeline.Process(r.Context(), reading)
	switch {
	case errors.Is(err, ml.ErrInvalidReading):
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ml.ErrNoOracle), errors.Is(err, ml.ErrOracleFailure):
		// the reading is stored; it just could not be scored
		h.reportFailure(reading, err)
		h.sendJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: err.Error(),
			Data:    detectionResponse(result),
		})
		return
	case err != nil:
		h.logger.Error("reading processing failed", zap.Error(err))
		h.reportFailure(reading, err)
		h.sendErrorResponse(w, "Failed to process reading", http.StatusInternalServerError)
		return
	}

	h.sendSuccess(w, detectionResponse(result))
}

// reportFailure pushes backend faults to the plot's dashboard clients
func (h *Handlers) reportFailure(reading *models.SensorReading, err error) {
	if h.hub == nil || !services.IsProcessingFailure(err) {
		return
	}
	h.hub.BroadcastError(reading.PlotID, fmt.Sprintf("failed to process %s reading: %v", reading.SensorType, err))
}

func detectionResponse(result *services.Result) DetectionResponse {
	out := result.Outcome
	resp := DetectionResponse{
		Status:         out.Status,
		IsAnomaly:      out.IsAnomaly,
		Confidence:     out.Confidence,
		RawScore:       out.RawScore,
		Transition:     out.Transition,
		Points:         out.Points,
		Anomaly:        result.Anomaly,
		Recommendation: result.Recommendation,
	}
	if result.Anomaly != nil {
		resp.AnomalyID = result.Anomaly.ID
	}
	return resp
}

// plotParam validates the {id} path parameter of the plot routes
func plotParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	plotID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || plotID <= 0 {
		return 0, fmt.Errorf("invalid plot id %q", raw)
	}
	return plotID, nil
}

// PlotReadings returns a plot's latest readings across sensors, newest first
func (h *Handlers) PlotReadings(w http.ResponseWriter, r *http.Request) {
	plotID, err := plotParam(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := h.store.RecentReadings(r.Context(), plotID, limit)
	if err != nil {
		h.sendStoreError(w, "Readings", err)
		return
	}
	h.sendSuccess(w, readings)
}

// DetectorState is one stream's state as reported by PlotDetectors
type DetectorState struct {
	SensorType models.SensorType `json:"sensor_type"`
	Active     bool              `json:"active"`
	InAnomaly  bool              `json:"in_anomaly"`
}

// PlotDetectors reports the detector state of each sensor on a plot
func (h *Handlers) PlotDetectors(w http.ResponseWriter, r *http.Request) {
	plotID, err := plotParam(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	states := make([]DetectorState, 0, len(models.SensorTypes))
	for _, sensor := range models.SensorTypes {
		active, inAnomaly := h.detector.State(models.SeriesKey{PlotID: plotID, Sensor: sensor})
		states = append(states, DetectorState{SensorType: sensor, Active: active, InAnomaly: inAnomaly})
	}
	h.sendSuccess(w, states)
}

// ListAnomalies returns anomalies newest first, optionally for one plot
func (h *Handlers) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	plotID, err := parsePlot(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.store.ListAnomalies(r.Context(), models.AnomalyFilter{PlotID: plotID, Limit: limit})
	if err != nil {
		h.sendStoreError(w, "Anomalies", err)
		return
	}
	h.sendSuccess(w, events)
}

// GetAnomaly returns one anomaly event
func (h *Handlers) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	id, ok := anomalyID(r)
	if !ok {
		h.sendErrorResponse(w, "Anomaly not found", http.StatusNotFound)
		return
	}

	ev, err := h.store.GetAnomaly(r.Context(), id)
	if err != nil {
		h.sendStoreError(w, "Anomaly", err)
		return
	}
	h.sendSuccess(w, ev)
}

// GetRecommendation returns the recommendation attached to an anomaly
func (h *Handlers) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := anomalyID(r)
	if !ok {
		h.sendErrorResponse(w, "Recommendation not found", http.StatusNotFound)
		return
	}

	rec, err := h.store.GetRecommendation(r.Context(), id)
	if err != nil {
		h.sendStoreError(w, "Recommendation", err)
		return
	}
	h.sendSuccess(w, rec)
}

// CreateRecommendation triggers the agent for an anomaly. Repeated calls
// return the stored recommendation.
func (h *Handlers) CreateRecommendation(w http.ResponseWriter, r *http.Request) {
	id, ok := anomalyID(r)
	if !ok {
		h.sendErrorResponse(w, "Anomaly not found", http.StatusNotFound)
		return
	}

	ev, err := h.store.GetAnomaly(r.Context(), id)
	if err != nil {
		h.sendStoreError(w, "Anomaly", err)
		return
	}

	rec, err := h.publisher.Recommend(r.Context(), ev)
	if err != nil {
		h.logger.Error("recommendation failed", zap.String("anomaly_id", id), zap.Error(err))
		h.sendErrorResponse(w, "Failed to create recommendation", http.StatusInternalServerError)
		return
	}
	h.sendSuccess(w, rec)
}

// ListRecommendations returns recommendations newest first
func (h *Handlers) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := h.store.ListRecommendations(r.Context(), limit)
	if err != nil {
		h.sendStoreError(w, "Recommendations", err)
		return
	}
	h.sendSuccess(w, recs)
}

// GetStats returns anomaly statistics, optionally for one plot
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	plotID, err := parsePlot(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := h.store.GetAnomalyStats(r.Context(), plotID)
	if err != nil {
		h.sendStoreError(w, "Statistics", err)
		return
	}
	h.sendSuccess(w, stats)
}

// ResetDetector clears one stream's window and state
func (h *Handlers) ResetDetector(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.PlotID <= 0 {
		h.sendErrorResponse(w, "plot_id must be positive", http.StatusBadRequest)
		return
	}
	sensor, err := models.ParseSensorType(req.SensorType)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := models.SeriesKey{PlotID: req.PlotID, Sensor: sensor}
	h.detector.Reset(key)
	h.sendJSON(w, http.StatusOK, APIResponse{Success: true, Message: "Detector reset for " + key.String()})
}

// ResetAllDetectors clears every stream
func (h *Handlers) ResetAllDetectors(w http.ResponseWriter, r *http.Request) {
	h.detector.ResetAll()
	h.sendJSON(w, http.StatusOK, APIResponse{Success: true, Message: "All detectors reset"})
}

// ReloadOracle re-reads one sensor type's scoring artifact from the model
// directory and restarts that type's streams against it. The sensor type
// comes from ?sensor_type=.
func (h *Handlers) ReloadOracle(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil || h.modelDir == "" {
		h.sendErrorResponse(w, "Model reload is not available", http.StatusNotImplemented)
		return
	}

	sensor, err := models.ParseSensorType(r.URL.Query().Get("sensor_type"))
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	oracle, err := h.registry.Reload(h.modelDir, sensor)
	if err != nil {
		h.logger.Warn("artifact reload failed", zap.String("sensor_type", string(sensor)), zap.Error(err))
		h.sendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.detector.SwapOracle(sensor, oracle)

	h.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Scoring artifact reloaded for " + string(sensor),
		Data:    oracle.Calibration(),
	})
}

// collectExport loads anomalies (and their recommendations) for one plot or all
func (h *Handlers) collectExport(r *http.Request, plotID int64) (export.ExportData, error) {
	ctx := r.Context()
	data := export.ExportData{
		ExportMetadata: export.ExportMetadata{GeneratedAt: time.Now().UTC(), PlotID: plotID},
	}

	events, err := h.store.ListAnomalies(ctx, models.AnomalyFilter{PlotID: plotID})
	if err != nil {
		return data, err
	}
	data.Anomalies = events

	recs, err := h.store.ListRecommendations(ctx, 0)
	if err != nil {
		return data, err
	}
	if plotID != 0 {
		wanted := make(map[string]bool, len(events))
		for _, ev := range events {
			wanted[ev.ID] = true
		}
		kept := recs[:0]
		for _, rec := range recs {
			if wanted[rec.AnomalyID] {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	data.Recommendations = recs

	data.Stats, err = h.store.GetAnomalyStats(ctx, plotID)
	return data, err
}

// ExportAnomaliesExcel streams the anomaly workbook
func (h *Handlers) ExportAnomaliesExcel(w http.ResponseWriter, r *http.Request) {
	plotID, err := parsePlot(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.collectExport(r, plotID)
	if err != nil {
		h.sendStoreError(w, "Export data", err)
		return
	}

	f, err := h.exportService.GenerateExcel(data)
	if err != nil {
		h.logger.Error("failed to generate workbook", zap.Error(err))
		h.sendErrorResponse(w, "Failed to generate Excel file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("anomalies_%s.xlsx", data.ExportMetadata.GeneratedAt.Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if err := f.Write(w); err != nil {
		h.logger.Error("failed to write workbook", zap.Error(err))
	}
}

// ExportAnomaliesCSV streams anomalies as CSV
func (h *Handlers) ExportAnomaliesCSV(w http.ResponseWriter, r *http.Request) {
	plotID, err := parsePlot(r)
	if err != nil {
		h.sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.store.ListAnomalies(r.Context(), models.AnomalyFilter{PlotID: plotID})
	if err != nil {
		h.sendStoreError(w, "Anomalies", err)
		return
	}

	filename := fmt.Sprintf("anomalies_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	if err := h.exportService.WriteCSV(writer, h.exportService.GenerateCSV(events)); err != nil {
		h.logger.Error("failed to write CSV export", zap.Error(err))
	}
}
