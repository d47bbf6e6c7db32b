// Package progress carries the {step, company} progress stream of crawl
// runs. Emitters never block: events are buffered by a Hub, batched on a
// background goroutine and fanned out to sinks (logs, Prometheus, the
// in-memory recent feed served by the API, or a Pub/Sub topic).
package progress
