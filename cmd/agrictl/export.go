package main

import (
	"fmt"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/app"
	"github.com/ghouf2005/Agriculture-project/internal/export"
	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/spf13/cobra"
)

func newExportCmd(c *cli) *cobra.Command {
	var (
		out    string
		plotID int64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write anomalies and recommendations to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			core, err := app.New(ctx, cfg, logger, app.Options{RequireDatabase: true})
			if err != nil {
				return err
			}
			defer core.Close()

			data := export.ExportData{
				ExportMetadata: export.ExportMetadata{GeneratedAt: time.Now().UTC(), PlotID: plotID},
			}
			if data.Anomalies, err = core.Store.ListAnomalies(ctx, models.AnomalyFilter{PlotID: plotID}); err != nil {
				return err
			}
			if data.Recommendations, err = core.Store.ListRecommendations(ctx, 0); err != nil {
				return err
			}
			data.Recommendations = forAnomalies(data.Recommendations, data.Anomalies)
			if data.Stats, err = core.Store.GetAnomalyStats(ctx, plotID); err != nil {
				return err
			}

			f, err := export.NewExportService().GenerateExcel(data)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := f.SaveAs(out); err != nil {
				return fmt.Errorf("failed to save %s: %w", out, err)
			}
			fmt.Fprintf(c.out, "wrote %d anomalies and %d recommendations to %s\n",
				len(data.Anomalies), len(data.Recommendations), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "anomalies.xlsx", "output workbook path")
	cmd.Flags().Int64Var(&plotID, "plot", 0, "restrict the export to one plot")
	return cmd
}

// forAnomalies keeps the recommendations that belong to events
func forAnomalies(recs []models.AgentRecommendation, events []models.AnomalyEvent) []models.AgentRecommendation {
	ids := make(map[string]bool, len(events))
	for _, ev := range events {
		ids[ev.ID] = true
	}
	kept := make([]models.AgentRecommendation, 0, len(recs))
	for _, rec := range recs {
		if ids[rec.AnomalyID] {
			kept = append(kept, rec)
		}
	}
	return kept
}
