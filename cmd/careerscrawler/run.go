package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
)

// newRunCmd executes a single run in-process and prints the result as JSON.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one discover/extract/verify/improve run synchronously",
		Example: `  careerscrawler run --mode discover --company-name Acme --domain acme.com
  careerscrawler run --mode extract --company-id 0190c7a4-...`,
		RunE: runOnce,
	}
	flags := cmd.Flags()
	flags.String("mode", string(crawler.ModeDiscover), "discover, extract, verify or improve")
	flags.String("company-id", "", "existing company id")
	flags.String("company-name", "", "company name (discover)")
	flags.String("domain", "", "company domain hint (discover)")
	return cmd
}

func runOnce(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	mode, err := crawler.ParseMode(v.GetString("mode"))
	if err != nil {
		return err
	}
	req := crawler.RunRequest{
		CompanyID:   v.GetString("company-id"),
		CompanyName: v.GetString("company-name"),
		Domain:      v.GetString("domain"),
		Mode:        mode,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, e.cfg, e.logger, nil)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	runID, err := a.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	res, runErr := a.runner.Execute(ctx, runID, req)
	if runErr != nil {
		e.logger.Error("run failed", zap.String("run_id", runID), zap.Error(runErr))
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return runErr
}
