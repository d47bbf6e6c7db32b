// Package sinks implements concrete progress consumers: structured logging,
// Prometheus, an in-memory feed of recent events, and a publisher bridge.
// Each sink satisfies progress.Sink and tolerates repeated Consume/Close calls.
package sinks
