// Package report describes the outcome of one sync run and fans it out to
// pluggable sinks such as structured logs, Prometheus, Postgres run history
// and Pub/Sub. Sinks run in registration order on the caller's goroutine.
package report
