// Package sinks implements concrete run report consumers: structured logging,
// Prometheus, the Postgres run history and a message publisher. Each sink
// satisfies report.Sink.
package sinks
