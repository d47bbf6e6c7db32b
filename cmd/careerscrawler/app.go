package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/clock/system"
	"github.com/JakeFAU/careers-crawler/internal/config"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/careers-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/careers-crawler/internal/hash/sha256"
	"github.com/JakeFAU/careers-crawler/internal/id/uuid"
	"github.com/JakeFAU/careers-crawler/internal/lifecycle"
	"github.com/JakeFAU/careers-crawler/internal/locator"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
	"github.com/JakeFAU/careers-crawler/internal/oracle/openai"
	"github.com/JakeFAU/careers-crawler/internal/pipeline"
	"github.com/JakeFAU/careers-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/careers-crawler/internal/progress"
	"github.com/JakeFAU/careers-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/careers-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/careers-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/careers-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/careers-crawler/internal/queue/redis"
	"github.com/JakeFAU/careers-crawler/internal/runner"
	"github.com/JakeFAU/careers-crawler/internal/scheduler"
	"github.com/JakeFAU/careers-crawler/internal/storage/gcs"
	"github.com/JakeFAU/careers-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/careers-crawler/internal/storage/memory"
	"github.com/JakeFAU/careers-crawler/internal/storage/postgres"
	"github.com/JakeFAU/careers-crawler/internal/worker"
)

const recentEventCapacity = 512

// app holds every long-lived collaborator built from config.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	clock crawler.Clock
	ids   crawler.IDGenerator
	repo  crawler.Repository
	queue crawler.Queue
	hub   *progress.Hub

	recent     *sinks.RecentSink
	runner     *runner.Runner
	dispatcher *dispatcher.Dispatcher
	tasks      *scheduler.Tasks

	// ready checks downstream connectivity for /readyz.
	ready   []func(ctx context.Context) error
	closers []func()
}

// buildApp wires the full stack. reg receives the progress collectors; nil
// means the default registry. Callers must call close.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (_ *app, err error) {
	metrics.Init()
	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.NewUUIDGenerator(),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if err := a.buildRepository(ctx); err != nil {
		return nil, err
	}
	if err := a.buildQueue(ctx); err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.buildProgress(publisher, reg); err != nil {
		return nil, err
	}

	limiter := ratelimit.New(limiterConfig(cfg.Crawler))
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.RequestTimeout,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	}, limiter, logger.Named("fetcher"))
	oracle := openai.NewClient(openai.Config{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Model:       cfg.Oracle.Model,
		Temperature: cfg.Oracle.Temperature,
		Timeout:     cfg.Oracle.Timeout,
	}, nil, logger.Named("oracle"))
	if cfg.Oracle.APIKey == "" {
		logger.Warn("oracle api key is empty; rule generation and URL suggestions will fail")
	}
	loc := locator.New(locator.Config{
		ProbeTimeout:      cfg.Crawler.ProbeTimeout,
		SuggestionTimeout: cfg.Crawler.SuggestionProbeTimeout,
	}, fetcher, oracle, logger.Named("locator"))
	pipe := pipeline.New(
		pipeline.Config{SampleBytes: cfg.Oracle.SampleBytes},
		loc, fetcher, oracle, a.hub, a.clock, logger.Named("pipeline"),
	)
	lc := lifecycle.New(lifecycle.Config{
		Smoothing:         cfg.Lifecycle.Smoothing,
		ImprovementFactor: cfg.Lifecycle.ImprovementFactor,
		StaleAfter:        cfg.Lifecycle.StaleAfter,
		Retention:         cfg.Lifecycle.Retention,
		VerifyBatch:       cfg.Lifecycle.VerifyBatch,
		RuleType:          crawler.RuleTypeJobList,
		IDs:               a.ids,
	}, a.clock, logger.Named("lifecycle"))

	a.runner, err = runner.New(runner.Config{
		Topic:           cfg.Publisher.Topic,
		ArchivePrefix:   cfg.Storage.Prefix,
		FinalizeTimeout: cfg.Crawler.FinalizeTimeout,
	}, runner.Deps{
		Repo:      a.repo,
		Pipeline:  pipe,
		Lifecycle: lc,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		IDs:       a.ids,
		Clock:     a.clock,
		Progress:  a.hub,
	}, logger.Named("runner"))
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(i, a.queue, a.runner, workerConfig(cfg.Crawler),
			logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatcher = dispatcher.New(a.queue, workers, a.ids, a.clock)

	seeds := make([]scheduler.Seed, 0, len(cfg.Schedule.SeedCompanies))
	for _, s := range cfg.Schedule.SeedCompanies {
		seeds = append(seeds, scheduler.Seed{Name: s.Name, Domain: s.Domain})
	}
	a.tasks = scheduler.NewTasks(a.repo, a.dispatcher, lc, seeds, logger.Named("tasks"))
	return a, nil
}

func (a *app) buildRepository(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "postgres":
		repo, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Database.DSN,
			MaxConns: int32(a.cfg.Database.MaxOpenConns),
			MinConns: int32(a.cfg.Database.MaxIdleConns),
		}, a.ids, a.clock)
		if err != nil {
			return fmt.Errorf("postgres repository: %w", err)
		}
		a.repo = repo
		a.ready = append(a.ready, repo.Ping)
		a.closers = append(a.closers, repo.Close)
	default:
		a.logger.Warn("using in-memory repository; data is lost on restart")
		a.repo = memoryStorage.NewRepository(a.ids, a.clock)
	}
	return nil
}

func (a *app) buildQueue(ctx context.Context) error {
	switch a.cfg.Queue.Driver {
	case "redis":
		client, err := queueRedis.NewClient(ctx, a.cfg.Queue.RedisURL)
		if err != nil {
			return fmt.Errorf("redis queue: %w", err)
		}
		a.queue = queueRedis.New(client, queueRedis.Config{Key: a.cfg.Queue.RedisKey})
		a.ready = append(a.ready, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		})
	default:
		q := queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
		a.queue = q
		a.closers = append(a.closers, q.Close)
	}
	return nil
}

func (a *app) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Driver {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *app) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		pub := pubsubpublisher.New(client, a.cfg.Publisher.Topic)
		a.closers = append(a.closers, func() {
			pub.Close()
			if err := client.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		return pub, nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *app) buildProgress(publisher crawler.Publisher, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	a.recent = sinks.NewRecentSink(recentEventCapacity)
	all := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress")), promSink, a.recent}
	if publisher != nil && a.cfg.Publisher.Topic != "" {
		all = append(all, sinks.NewPublisherSink(publisher, a.cfg.Publisher.Topic+"-progress"))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")}, all...)
	return nil
}

// readyCheck runs every registered connectivity check.
func (a *app) readyCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, check := range a.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close flushes progress and releases clients in reverse construction order.
func (a *app) close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func limiterConfig(c config.CrawlerConfig) ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		PerHostRPS:        c.PerHostRPS,
		PerHostBurst:      c.PerHostBurst,
	}
}

func workerConfig(c config.CrawlerConfig) worker.Config {
	return worker.Config{
		MaxRetries:     c.MaxRetries,
		RunTimeout:     c.RunTimeout,
		DequeueBackoff: c.DequeueBackoff,
	}
}
