// Package crawler defines the domain model shared by the careers crawler:
// companies, jobs, extraction rules, crawl logs, the run request/result
// payloads exchanged over the queue, and the collaborator interfaces the
// pipeline and runner depend on.
package crawler
