package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"leadstore/internal/collection"
	"leadstore/internal/config"
	"leadstore/internal/filter"
	"leadstore/internal/ingest"
	"leadstore/internal/metrics"
	"leadstore/internal/metrics/prompush"
)

// main is the entry point for the leadstore binary. It loads the deployment
// config, optionally initializes a metrics backend, and runs one command:
// ingest, count, values, or record.
func main() {
	var (
		cfgPath  string
		validate bool

		tableName  string
		filePath   string
		delimiter  string
		tags       string
		owner      string
		dedupeCols string
		dedupeMode string

		collectionID string
		userID       string
		filterJSON   string
		targetColumn string

		fileID  string
		orderID string
		ids     string
		idType  string
	)

	flag.StringVar(&cfgPath, "config", "configs/leadstore.json", "deployment config JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.StringVar(&tableName, "table", "", "ingest: table name")
	flag.StringVar(&filePath, "file", "", "ingest: path of the file to import")
	flag.StringVar(&delimiter, "delimiter", "", "ingest: delimiter token (comma|semicolon|tab|pipe); empty = detect")
	flag.StringVar(&tags, "tags", "", "ingest: comma-separated tags")
	flag.StringVar(&owner, "owner", "", "ingest: owning user id")
	flag.StringVar(&dedupeCols, "dedupe-columns", "", "ingest: comma-separated dedup key columns")
	flag.StringVar(&dedupeMode, "dedupe-mode", "", "ingest: file|database|both")

	flag.StringVar(&collectionID, "collection", "", "count/values/record: collection id")
	flag.StringVar(&userID, "user", "", "count/values/record: requesting user id")
	flag.StringVar(&filterJSON, "filters", "", "count/values: filter spec as JSON")
	flag.StringVar(&targetColumn, "target", "", "values: abstract column to list distinct values of")

	flag.StringVar(&fileID, "file-id", "", "record: delivered file id")
	flag.StringVar(&orderID, "order", "", "record: order id")
	flag.StringVar(&ids, "ids", "", "record: comma-separated lead identifiers")
	flag.StringVar(&idType, "id-type", "lead_id", "record: identifier type")

	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" && !validate {
		fatalf("usage: leadstore [flags] ingest|count|values|record")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	initMetrics(cfg.Metrics, logger)
	defer func() {
		if err := metrics.Flush(); err != nil {
			logger.Warn("metrics flush failed", "err", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer app.close()

	switch cmd {
	case "ingest":
		if tableName == "" || filePath == "" {
			fatalf("ingest requires -table and -file")
		}
		f, err := os.Open(filePath)
		if err != nil {
			fatalf("open input: %v", err)
		}
		defer f.Close()
		res, err := app.ingest.Run(ctx, ingest.Request{
			TableName:     tableName,
			Data:          f,
			Delimiter:     delimiter,
			Tags:          splitList(tags),
			OwnerID:       owner,
			DedupeColumns: splitList(dedupeCols),
			DedupeMode:    dedupeMode,
		})
		if err != nil {
			fatalf("ingest: %v", err)
		}
		printJSON(res)

	case "count", "values":
		if collectionID == "" {
			fatalf("%s requires -collection", cmd)
		}
		var spec collection.FilterSpec
		if filterJSON != "" {
			if err := json.Unmarshal([]byte(filterJSON), &spec); err != nil {
				fatalf("decode -filters: %v", err)
			}
		}
		q := filter.Query{CollectionID: collectionID, UserID: userID, Filters: spec}
		if cmd == "values" {
			if targetColumn == "" {
				fatalf("values requires -target")
			}
			q.TargetColumn = targetColumn
		}
		res, err := app.filter.Run(ctx, q)
		if err != nil {
			fatalf("%s: %v", cmd, err)
		}
		printJSON(res)

	case "record":
		if collectionID == "" || userID == "" || ids == "" {
			fatalf("record requires -collection, -user and -ids")
		}
		n := app.ledger.Record(ctx, userID, collectionID, fileID, orderID, splitList(ids), idType)
		printJSON(map[string]int{"recorded": n})

	default:
		fatalf("unknown command %q", cmd)
	}

	if *verbose {
		logger.Debug("completed", "elapsed", time.Since(start).Truncate(time.Millisecond))
	}
}

// initMetrics installs the configured metrics backend; the nop backend
// remains on any failure.
func initMetrics(m config.Metrics, logger *slog.Logger) {
	switch m.Backend {
	case "pushgateway":
		job := m.Job
		if job == "" {
			job = "leadstore"
		}
		b, err := prompush.New(job, m.GatewayURL)
		if err != nil {
			logger.Warn("metrics backend init failed; using nop", "err", err)
			return
		}
		metrics.SetBackend(b)
	case "", "none":
	default:
		logger.Warn("unknown metrics backend; metrics disabled", "backend", m.Backend)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encode output: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
