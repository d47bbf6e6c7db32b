// Command careerscrawler hosts the careers crawler service and its CLI.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts run submissions (POST /v1/runs), on-demand maintenance
//     tasks, and read-only company, job, rule and crawl log lookups. Runs are validated and handed to the
//     dispatcher, which enqueues them.
//   - Queue & workers: runs flow through the configured queue (bounded in-memory channel, or a Redis list
//     shared across replicas) to a fixed worker pool sized by crawler.concurrency. Failed runs are
//     re-enqueued up to crawler.max_retries times.
//   - Run execution: internal/runner opens a crawl log, drives the discovery/extraction pipeline (careers
//     URL location, page fetch, LLM rule generation, selector extraction, confidence scoring), persists jobs
//     and rule decisions in a single transaction, archives the page, and publishes the result.
//   - Rule lifecycle: verify and improve runs re-score rules, deactivate weak ones and keep the best version
//     active. The cron scheduler queues discover-all, crawl-all and verify-stale batches and prunes expired
//     inactive rules.
//   - Plumbing: Viper config (CAREERS_* env overrides), zap logging, Prometheus metrics on /metrics, a
//     progress hub fanning run events to log, Prometheus, an in-memory feed (GET /v1/progress) and Pub/Sub.
//
// Commands:
//   - serve: HTTP API, workers and (when schedule.enabled) the cron scheduler. SIGINT/SIGTERM drains
//     in-flight runs before exit.
//   - run: a single synchronous run printed as JSON.
//   - migrate: applies the Postgres schema.
package main
