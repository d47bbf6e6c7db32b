// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a discover, extract, verify or improve run.
//   - POST /v1/maintenance/{task} to trigger a periodic task immediately.
//   - GET /v1/companies/{company_id} plus its jobs, rules and crawl logs.
//   - GET /v1/progress for the recent progress event feed.
package api
