package main

import (
	"errors"
	"fmt"

	"github.com/ghouf2005/Agriculture-project/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var drop, check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL schema",
		Long: `Create the sensor_readings, anomaly_events and agent_recommendations tables.

Examples:

  agrictl migrate
  agrictl migrate --drop
  agrictl migrate --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.Database.DatabaseEnabled() {
				return errors.New("database is not configured; set DATABASE_URL or DB_HOST")
			}

			ctx := cmd.Context()
			db, err := database.Connect(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if check {
				exists, err := database.CheckTablesExist(ctx, db)
				if err != nil {
					return err
				}
				if !exists {
					return errors.New("schema is incomplete")
				}
				fmt.Fprintln(c.out, "all tables exist")
				return nil
			}

			if drop {
				if err := database.DropTables(ctx, db, logger); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "dropped existing tables")
			}
			if err := database.CreateTables(ctx, db, logger); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "schema is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVar(&drop, "drop", false, "drop all tables before creating them")
	cmd.Flags().BoolVar(&check, "check", false, "only check whether the tables exist")
	return cmd
}
