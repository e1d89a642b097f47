package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/bgm-notion-sync/internal/report"
)

// Publisher sends a JSON payload with string attributes to a topic.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
	Close() error
}

// PublishSink publishes each report as a JSON message.
type PublishSink struct {
	pub Publisher
}

// NewPublishSink wraps pub.
func NewPublishSink(pub Publisher) *PublishSink {
	return &PublishSink{pub: pub}
}

// Consume publishes r with run_id and status attributes for subscription
// filtering.
func (s *PublishSink) Consume(ctx context.Context, r report.Report) error {
	if s == nil || s.pub == nil {
		return nil
	}
	attrs := map[string]string{
		"run_id": r.RunID,
		"status": string(r.Status),
	}
	if _, err := s.pub.Publish(ctx, r, attrs); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// Close flushes and releases the publisher.
func (s *PublishSink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	return s.pub.Close()
}
