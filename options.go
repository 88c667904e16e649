package routeref

import (
	"log/slog"
	"time"
)

type options struct {
	logger          *slog.Logger
	metrics         *Metrics
	teardownTimeout time.Duration
}

// Option configures a Manager or a Controller.
type Option func(*options)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTeardownTimeout bounds each backend call made while a Manager is
// closed. Every call gets its own deadline, so one slow route does not use up
// the time of the others.
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.teardownTimeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
