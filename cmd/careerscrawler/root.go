package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/config"
	"github.com/JakeFAU/careers-crawler/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType struct{}

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "careerscrawler",
		Short: "Discovers company careers pages and extracts job postings.",
		Long: `careerscrawler locates a company's careers page, asks an LLM for CSS
extraction rules, extracts postings with those rules, and keeps the rules
fresh through scheduled verification and improvement runs.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads config and builds the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok && e != nil {
				if err := e.logger.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
					fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
				}
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed CAREERS_ override it)")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newMigrateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}
