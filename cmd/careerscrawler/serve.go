package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/api"
	"github.com/JakeFAU/careers-crawler/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, worker pool and scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.New(scheduler.Config{
			Discover: cfg.Schedule.Discover,
			CrawlAll: cfg.Schedule.CrawlAll,
			Verify:   cfg.Schedule.Verify,
			Cleanup:  cfg.Schedule.Cleanup,
		}, a.tasks, logger.Named("scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	apiServer := api.NewServer(a.repo, a.dispatcher, a.tasks, api.Options{
		Auth:           cfg.Auth,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          a.readyCheck,
		Recent:         a.recent,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", cfg.Crawler.Concurrency))
		a.dispatcher.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduler did not stop before timeout")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("in-flight runs did not finish before timeout")
	}
	logger.Info("shutdown complete")
	return nil
}
