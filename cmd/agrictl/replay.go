package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/app"
	"github.com/ghouf2005/Agriculture-project/internal/ml"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/ghouf2005/Agriculture-project/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newReplayCmd(c *cli) *cobra.Command {
	var (
		csvPath     string
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Stream historical readings through an in-memory pipeline",
		Long: `Replay a CSV of readings (plot_id,sensor_type,value,observed_at) through the
detector and rule engine without touching PostgreSQL, Redis or Kafka, and print
every recommendation produced.

Examples:

  agrictl replay --csv readings.csv
  agrictl replay --csv readings.csv --parallel 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if csvPath == "" {
				return errors.New("--csv is required")
			}
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			f, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := cmd.Context()
			core, err := app.New(ctx, cfg, logger, app.Options{InMemory: true})
			if err != nil {
				return err
			}
			defer core.Close()

			r := &replayer{
				pipeline:    core.Pipeline,
				parser:      services.NewSensorParser(),
				out:         c.out,
				parallelism: parallelism,
				logger:      logger,
			}
			summary, err := r.Run(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file of readings to replay")
	cmd.Flags().IntVar(&parallelism, "parallel", 4, "number of plots replayed concurrently")
	return cmd
}

type replaySummary struct {
	Readings        int
	Skipped         int
	Unscored        int
	Anomalies       int
	Recommendations int
}

func (s replaySummary) String() string {
	return fmt.Sprintf("replayed %d readings (%d skipped, %d unscored): %d anomalies, %d recommendations",
		s.Readings, s.Skipped, s.Unscored, s.Anomalies, s.Recommendations)
}

// replayer feeds readings plot by plot. Readings of one plot stay in file
// order; plots run concurrently.
type replayer struct {
	pipeline    *services.Pipeline
	parser      *services.SensorParser
	out         io.Writer
	parallelism int
	logger      *zap.Logger

	mu      sync.Mutex
	summary replaySummary
}

func (r *replayer) Run(ctx context.Context, src io.Reader) (replaySummary, error) {
	plots, order, err := r.readAll(src)
	if err != nil {
		return r.summary, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for _, plotID := range order {
		readings := plots[plotID]
		g.Go(func() error {
			return r.replayPlot(gctx, readings)
		})
	}
	if err := g.Wait(); err != nil {
		return r.summary, err
	}
	return r.summary, nil
}

func (r *replayer) readAll(src io.Reader) (map[int64][]*models.SensorReading, []int64, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	plots := make(map[int64][]*models.SensorReading)
	var order []int64
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "plot_id") {
			continue
		}

		reading, err := r.parser.ParseRecord(record)
		if err != nil {
			r.summary.Skipped++
			r.logger.Warn("skipping csv row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if _, seen := plots[reading.PlotID]; !seen {
			order = append(order, reading.PlotID)
		}
		plots[reading.PlotID] = append(plots[reading.PlotID], reading)
	}
	return plots, order, nil
}

func (r *replayer) replayPlot(ctx context.Context, readings []*models.SensorReading) error {
	for _, reading := range readings {
		result, err := r.pipeline.Process(ctx, reading)
		switch {
		case err == nil:
		case errors.Is(err, ml.ErrInvalidReading):
			r.count(func(s *replaySummary) { s.Skipped++ })
			continue
		case errors.Is(err, ml.ErrNoOracle), errors.Is(err, ml.ErrOracleFailure):
			r.count(func(s *replaySummary) { s.Readings++; s.Unscored++ })
			continue
		default:
			return err
		}

		r.report(result)
	}
	return nil
}

func (r *replayer) count(f func(*replaySummary)) {
	r.mu.Lock()
	f(&r.summary)
	r.mu.Unlock()
}

func (r *replayer) report(result *services.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary.Readings++
	if result.Anomaly == nil {
		return
	}
	r.summary.Anomalies++
	ev := result.Anomaly
	fmt.Fprintf(r.out, "%s plot=%d %s %s value=%.2f confidence=%.3f\n",
		ev.Timestamp.Format(time.RFC3339), ev.PlotID, ev.AnomalyType, ev.Severity, ev.Value, ev.ModelConfidence)

	if rec := result.Recommendation; rec != nil {
		r.summary.Recommendations++
		fmt.Fprintf(r.out, "  -> %s [%s]\n     %s\n", rec.Action, rec.Confidence, rec.Explanation)
	}
}
