package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/app"
	httphandlers "github.com/ghouf2005/Agriculture-project/internal/http"
	"github.com/ghouf2005/Agriculture-project/internal/logging"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/mqtt"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/ghouf2005/Agriculture-project/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting field plot monitoring backend",
		zap.String("port", cfg.Server.Port), zap.String("model_dir", cfg.Detector.ModelDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer core.Close()

	// Initialize WebSocket hub
	wsHub := ws.NewHub(logger.Named("ws"))
	core.Publisher.AddNotifier("websocket", wsHub)

	// Initialize MQTT client (skip if no broker URL configured)
	var mqttClient *mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mqttClient = mqtt.NewClient(cfg.MQTT, core.Pipeline, logger.Named("mqtt"))
		core.Publisher.AddNotifier("mqtt", mqttClient)
		mqttClient.SetErrorHandler(func(reading *models.SensorReading, err error) {
			wsHub.BroadcastError(reading.PlotID, fmt.Sprintf("failed to process %s reading: %v", reading.SensorType, err))
		})
	} else {
		logger.Info("MQTT broker not configured, readings accepted over HTTP only")
	}

	router := httphandlers.SetupRoutes(httphandlers.Dependencies{
		Store:     core.Store,
		Pipeline:  core.Pipeline,
		Publisher: core.Publisher,
		Detector:  core.Detector,
		Registry:  core.Registry,
		ModelDir:  cfg.Detector.ModelDir,
		Hub:       wsHub,
		Logger:    logger.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.Connect(gctx); err != nil {
				// the HTTP ingress keeps working without the broker
				logger.Warn("continuing without MQTT", zap.Error(err))
				return nil
			}
			<-gctx.Done()
			mqttClient.Disconnect()
			return nil
		})
	}

	if cfg.Backfill.Enabled {
		backfill := services.NewBackfill(core.Store, core.Publisher,
			cfg.Backfill.Interval, cfg.Backfill.BatchSize, logger.Named("backfill"))
		g.Go(func() error { return backfill.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}
