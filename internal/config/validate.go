// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "store.kind",
// "blob.s3.bucket"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a Config.
//
// It does not mutate the config. Callers may decide whether to treat
// warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateBlob(c.Blob)...)
	issues = append(issues, validateRuntime(c.Runtime)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

func validateStore(s Store) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  "store.kind must not be empty",
		})
		return issues
	}

	switch s.Kind {
	case "postgres":
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.postgres.dsn",
				Message:  "postgres store requires a non-empty dsn",
			})
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLite.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.sqlite.path",
				Message:  "sqlite store requires a non-empty path",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "store.kind",
			Message:  fmt.Sprintf("unknown store kind %q; ensure a matching backend is registered", s.Kind),
		})
	}

	return issues
}

func validateBlob(b Blob) []Issue {
	var issues []Issue

	if strings.TrimSpace(b.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "blob.kind",
			Message:  "blob.kind must not be empty",
		})
		return issues
	}

	switch b.Kind {
	case "local":
		if strings.TrimSpace(b.Local.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "blob.local.root",
				Message:  "local blob store requires a non-empty root directory",
			})
		}
	case "s3":
		if strings.TrimSpace(b.S3.Bucket) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "blob.s3.bucket",
				Message:  "s3 blob store requires a non-empty bucket",
			})
		}
		if strings.TrimSpace(b.S3.Region) == "" && strings.TrimSpace(b.S3.Endpoint) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "blob.s3.region",
				Message:  "s3 blob store requires a region or a custom endpoint",
			})
		}
		if (b.S3.KeyID == "") != (b.S3.Secret == "") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "blob.s3.key_id",
				Message:  "key_id and secret must be provided together",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "blob.kind",
			Message:  fmt.Sprintf("unknown blob kind %q; ensure a matching backend is registered", b.Kind),
		})
	}

	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	if r.FilterWorkers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.filter_workers",
			Message:  "filter_workers must not be negative",
		})
	}
	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative",
		})
	}

	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.GatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.gateway_url",
				Message:  "pushgateway backend requires a gateway_url",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
		})
	}

	return issues
}
