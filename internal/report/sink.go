package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sink consumes finished run reports.
type Sink interface {
	Consume(ctx context.Context, r Report) error
	Close(ctx context.Context) error
}

// Config controls the Dispatcher.
//   - SinkTimeout: per-sink deadline while emitting (default 10s).
//   - Logger: optional structured logger used for sink failures.
type Config struct {
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const defaultSinkTimeout = 10 * time.Second

// Dispatcher hands a report to every sink. A failing sink does not stop the
// others.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher builds a Dispatcher over sinks.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, sinks: append([]Sink(nil), sinks...), logger: logger}
}

// Emit validates r and forwards it to every sink. It returns the joined sink
// errors.
func (d *Dispatcher) Emit(ctx context.Context, r Report) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	var errs []error
	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
		err := sink.Consume(sinkCtx, r)
		cancel()
		if err != nil {
			d.logger.Warn("report sink failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
