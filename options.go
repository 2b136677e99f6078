package clist

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/clist/pkg/wire"
)

const defaultQueueDepth = 64

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	queueDepth   int
	maxFrameSize int
}

// Option to pass to `New` or `NewComms`.
type Option func(*config) error

func buildConfig(opts []Option) (config, error) {
	cfg := config{
		queueDepth:   defaultQueueDepth,
		maxFrameSize: wire.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return cfg, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}
	return cfg, nil
}

func (cfg *config) logger() *slog.Logger {
	if cfg.logHandler == nil {
		return slog.Default()
	}
	return slog.New(cfg.logHandler)
}

func (cfg *config) sink() metrics.MetricSink {
	if cfg.msink == nil {
		return &metrics.BlackholeSink{}
	}
	return cfg.msink
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted
// by the registry and the comms loop. Metrics are dropped by default.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithQueueDepth controls how many jobs can wait for the comms loop
// before callers block.
func WithQueueDepth(depth int) Option {
	return func(c *config) error {
		if depth < 0 {
			return fmt.Errorf("queue depth must be positive, got %d", depth)
		}
		if depth == 0 {
			depth = defaultQueueDepth
		}
		c.queueDepth = depth
		return nil
	}
}

// WithMaxFrameSize bounds the inbound frames the comms loop accepts.
func WithMaxFrameSize(size int) Option {
	return func(c *config) error {
		if size < 0 {
			return fmt.Errorf("max frame size must be positive, got %d", size)
		}
		if size == 0 {
			size = wire.DefaultMaxFrameSize
		}
		c.maxFrameSize = size
		return nil
	}
}
