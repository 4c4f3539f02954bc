package filecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
}

// WithLogger sets the logger for all components. The configured log level is
// not applied to loggers passed this way.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer enables Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
