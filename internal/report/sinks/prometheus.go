package sinks

import (
	"context"

	"github.com/JakeFAU/bgm-notion-sync/internal/metrics"
	"github.com/JakeFAU/bgm-notion-sync/internal/report"
)

// PrometheusSink records run level metrics and, when a gateway is
// configured, pushes every collector so short-lived runs are still scraped.
type PrometheusSink struct {
	gatewayURL string
	job        string
}

// NewPrometheusSink builds the sink. An empty gatewayURL disables pushing.
func NewPrometheusSink(gatewayURL, job string) *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{gatewayURL: gatewayURL, job: job}
}

// Consume records r and pushes to the gateway.
func (s *PrometheusSink) Consume(ctx context.Context, r report.Report) error {
	metrics.ObserveRun(string(r.Status), r.Duration())
	if r.Fetched > 0 {
		metrics.SetCollectionSize(r.Fetched)
	}
	return metrics.Push(ctx, s.gatewayURL, s.job)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
