// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the ingestion pipeline and the filter
// engine. It defaults to a no-op backend so instrumentation is always safe
// to call; a concrete backend (see the prompush subpackage) is installed by
// the binary when configured.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration-style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes metrics if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// RecordStep measures latency plus success/failure for one pipeline stage.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter("leadstore_step_total", 1, lbls)
	backend.ObserveHistogram("leadstore_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a record-level counter for the given job and kind.
//
// Typical kinds mirror the import summary fields: "parsed", "repaired",
// "deduped", "db_deduped", "stored".
func RecordRows(job, kind string, n int) {
	if n == 0 {
		return
	}
	backend.IncCounter("leadstore_rows_total", float64(n), Labels{"job": job, "kind": kind})
}
