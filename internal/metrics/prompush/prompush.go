// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. All Prometheus-specific dependencies live here so the
// rest of the module stays decoupled from the metric system.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"leadstore/internal/metrics"
)

// Backend pushes collected metrics to a Prometheus Pushgateway instead of
// exposing a scrape endpoint; ingestion runs are batch jobs and may be gone
// before a scraper comes around.
type Backend struct {
	pusher *push.Pusher
	reg    *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	rowCounter   *prometheus.CounterVec
}

// New builds a Backend pushing to gatewayURL under the given job group.
func New(job, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL required")
	}
	reg := prometheus.NewRegistry()

	b := &Backend{
		reg: reg,
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstore_step_total",
			Help: "Pipeline steps executed, by step and status.",
		}, []string{"job", "step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "leadstore_step_duration_seconds",
			Help: "Pipeline step latency.",
		}, []string{"job", "step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstore_rows_total",
			Help: "Rows handled, by kind.",
		}, []string{"job", "kind"}),
	}
	reg.MustRegister(b.stepCounter, b.stepDuration, b.rowCounter)
	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "leadstore_step_total":
		b.stepCounter.With(prometheus.Labels{
			"job": labels["job"], "step": labels["step"], "status": labels["status"],
		}).Add(delta)
	case "leadstore_rows_total":
		b.rowCounter.With(prometheus.Labels{
			"job": labels["job"], "kind": labels["kind"],
		}).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "leadstore_step_duration_seconds" {
		return
	}
	b.stepDuration.With(prometheus.Labels{
		"job": labels["job"], "step": labels["step"], "status": labels["status"],
	}).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
