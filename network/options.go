package network

import (
	"log/slog"

	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
)

type options struct {
	auth    *Authenticator
	logger  *slog.Logger
	metrics *monitoring.Metrics
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Publisher or a Fetcher.
type Option func(*options)

// WithAuthenticator makes a Publisher check request tokens with a.
func WithAuthenticator(a *Authenticator) Option {
	return func(o *options) { o.auth = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records transfer metrics to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
