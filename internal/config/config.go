// Package config defines the JSON-serializable configuration model for the
// lead store. It is intentionally small, explicit, and dependency-free so a
// deployment file can be loaded from disk and passed through the program
// without additional glue code.
//
// Example (trimmed):
//
//	{
//	  "store": { "kind": "sqlite", "sqlite": { "path": "leadstore.db" } },
//	  "blob":  { "kind": "local",  "local":  { "root": "./data" } },
//	  "runtime": { "filter_workers": 4, "batch_size": 500 },
//	  "metrics": { "backend": "pushgateway", "gateway_url": "http://localhost:9091", "job": "leadstore" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level object decoded from a deployment file.
type Config struct {
	// Store selects the metadata/ledger database backend.
	Store Store `json:"store"`

	// Blob selects where table file content lives.
	Blob Blob `json:"blob"`

	// Runtime controls concurrency and batching.
	Runtime Runtime `json:"runtime"`

	// Metrics configures the optional metrics backend.
	Metrics Metrics `json:"metrics"`
}

// Store identifies the database backend. Additional kinds can be added over
// time.
type Store struct {
	// Kind selects the implementation. Current values: "postgres", "sqlite".
	Kind string `json:"kind"`

	Postgres StorePostgres `json:"postgres"`
	SQLite   StoreSQLite   `json:"sqlite"`
}

// StorePostgres holds options for the "postgres" store kind.
type StorePostgres struct {
	// DSN is the connection string for pgx/pgxpool (e.g., postgresql://...).
	DSN string `json:"dsn"`
}

// StoreSQLite holds options for the "sqlite" store kind.
type StoreSQLite struct {
	// Path is the database file path. ":memory:" gives an ephemeral store.
	Path string `json:"path"`
}

// Blob identifies the byte-stream backend for table files.
type Blob struct {
	// Kind selects the implementation. Current values: "local", "s3".
	Kind string `json:"kind"`

	Local BlobLocal `json:"local"`
	S3    BlobS3    `json:"s3"`
}

// BlobLocal holds options for the "local" blob kind.
type BlobLocal struct {
	// Root is the directory all table files live under.
	Root string `json:"root"`
}

// BlobS3 holds options for the "s3" blob kind. Endpoint is optional and
// enables S3-compatible stores (MinIO etc.) with path-style addressing.
type BlobS3 struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	KeyID    string `json:"key_id"`
	Secret   string `json:"secret"`
	Endpoint string `json:"endpoint"`
	Prefix   string `json:"prefix"`
}

// Runtime controls concurrency and batching.
type Runtime struct {
	// FilterWorkers bounds concurrent table streams per filter query.
	FilterWorkers int `json:"filter_workers"`

	// BatchSize sizes key-index and ledger write batches.
	BatchSize int `json:"batch_size"`
}

// Metrics configures the metrics backend.
type Metrics struct {
	// Backend selects the implementation. Current values: "pushgateway",
	// "none". Empty means none.
	Backend string `json:"backend"`

	// GatewayURL is the Pushgateway address for the "pushgateway" backend.
	GatewayURL string `json:"gateway_url"`

	// Job is the metrics job label. Defaults to "leadstore".
	Job string `json:"job"`
}

// Load reads and decodes a config file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return c, nil
}
