package main

import (
	"context"
	"fmt"
	"log/slog"

	"leadstore/internal/blob"
	"leadstore/internal/config"
	"leadstore/internal/filter"
	"leadstore/internal/ingest"
	"leadstore/internal/ledger"
	"leadstore/internal/storage"
	"leadstore/internal/storage/postgres"
	"leadstore/internal/storage/sqlite"
)

// container holds the wired application graph for one invocation.
type container struct {
	store   storage.Store
	blob    blob.Store
	ingest  *ingest.Pipeline
	filter  *filter.Service
	ledger  *ledger.Ledger
	closers []func()
}

// build constructs every collaborator from the validated config.
func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*container, error) {
	c := &container{}

	switch cfg.Store.Kind {
	case "postgres":
		repo, err := postgres.Open(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		c.store = repo
		c.closers = append(c.closers, repo.Close)
	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.Store.SQLite.Path)
		if err != nil {
			return nil, err
		}
		c.store = repo
		c.closers = append(c.closers, func() { repo.Close() })
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}

	switch cfg.Blob.Kind {
	case "local":
		b, err := blob.NewLocal(cfg.Blob.Local.Root)
		if err != nil {
			c.close()
			return nil, err
		}
		c.blob = b
	case "s3":
		b, err := blob.NewS3(blob.S3Config{
			Bucket:   cfg.Blob.S3.Bucket,
			Region:   cfg.Blob.S3.Region,
			KeyID:    cfg.Blob.S3.KeyID,
			Secret:   cfg.Blob.S3.Secret,
			Endpoint: cfg.Blob.S3.Endpoint,
			Prefix:   cfg.Blob.S3.Prefix,
		})
		if err != nil {
			c.close()
			return nil, err
		}
		c.blob = b
	default:
		c.close()
		return nil, fmt.Errorf("unknown blob kind %q", cfg.Blob.Kind)
	}

	c.ledger = ledger.New(c.store, log)
	c.ingest = ingest.New(c.blob, c.store, c.store, log)

	engine := filter.NewEngine(c.blob, c.store, log)
	if cfg.Runtime.FilterWorkers > 0 {
		engine.Workers = cfg.Runtime.FilterWorkers
	}
	c.filter = &filter.Service{Engine: engine, Collections: c.store, Ledger: c.ledger}

	return c, nil
}

func (c *container) close() {
	for _, fn := range c.closers {
		fn()
	}
}
