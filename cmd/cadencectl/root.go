package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/cadence/internal/app"
	"example.com/cadence/internal/config"
	"example.com/cadence/internal/logging"
)

var stderr io.Writer = os.Stderr

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cadencectl",
		Short:         "Administer the cadence automation engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default: ./cadence.yaml or /etc/cadence/cadence.yaml)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newStageCmd(opts),
		newAdvanceCmd(opts),
		newEvaluateCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// env is what a subcommand needs once configuration has loaded.
type env struct {
	cfg    config.Config
	logger *logrus.Logger
	pool   *pgxpool.Pool
}

func (o *rootOptions) load() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	// Log to stderr so command output on stdout stays machine readable.
	logger, err := logging.NewWithOutput(cfg.Log, "cadencectl", stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func (o *rootOptions) connect(ctx context.Context) (*env, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	pool, err := app.OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
