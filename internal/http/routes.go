package http

import (
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/ghouf2005/Agriculture-project/internal/store"
	"github.com/ghouf2005/Agriculture-project/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the components the API serves
type Dependencies struct {
	Store     store.DataStore
	Pipeline  *services.Pipeline
	Publisher *services.Publisher
	Detector  *ml.Detector
	Registry  *ml.Registry
	ModelDir  string
	Hub       *ws.Hub
	Logger    *zap.Logger
}

// SetupRoutes configures all HTTP routes for the plot monitoring API
func SetupRoutes(deps Dependencies) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handlers := NewHandlers(deps, logger)

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/readings", handlers.IngestReading)

		r.Route("/anomalies", func(r chi.Router) {
			r.Get("/", handlers.ListAnomalies)
			r.Get("/{id}", handlers.GetAnomaly)
			r.Get("/{id}/recommendation", handlers.GetRecommendation)
			r.Post("/{id}/recommendation", handlers.CreateRecommendation)
		})

		r.Route("/plots/{id}", func(r chi.Router) {
			r.Get("/readings", handlers.PlotReadings)
			r.Get("/detectors", handlers.PlotDetectors)
		})

		r.Get("/recommendations", handlers.ListRecommendations)
		r.Get("/stats", handlers.GetStats)

		r.Route("/detectors", func(r chi.Router) {
			r.Post("/reset", handlers.ResetDetector)
			r.Post("/reset-all", handlers.ResetAllDetectors)
			r.Post("/reload", handlers.ReloadOracle)
		})

		r.Route("/export", func(r chi.Router) {
			r.Get("/anomalies.xlsx", handlers.ExportAnomaliesExcel)
			r.Get("/anomalies.csv", handlers.ExportAnomaliesCSV)
		})
	})

	// WebSocket route for live anomaly and recommendation updates
	if deps.Hub != nil {
		r.HandleFunc("/ws", deps.Hub.HandleWebSocket)
	}

	return r
}
