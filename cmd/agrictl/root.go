package main

import (
	"io"

	"github.com/ghouf2005/Agriculture-project/config"
	"github.com/ghouf2005/Agriculture-project/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	out      io.Writer
	errOut   io.Writer
	logLevel string
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:           "agrictl",
		Short:         "Operate the field plot anomaly backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCmd(c),
		newReplayCmd(c),
		newExportCmd(c),
	)
	return cmd
}

// setup loads configuration and builds a logger at the requested level
func (c *cli) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.Level = c.logLevel
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
