// Package metrics records per-run Prometheus metrics for the digest
// pipeline and optionally pushes them to a Pushgateway.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry sets the registry metrics are registered on and gathered from.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithPushgateway pushes gathered metrics to url under job after each run.
func WithPushgateway(url, job string) Option {
	return func(m *Manager) {
		m.pushURL = url
		if job != "" {
			m.job = job
		}
	}
}

// WithLogger sets the logger used for push failures.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}
