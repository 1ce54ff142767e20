// Package filter is the streaming filter and aggregation engine: it
// evaluates typed filter predicates and purchase-exclusion sets record by
// record across the table files backing a collection, producing counts or
// distinct-value sets without ever materializing a file.
//
// A query degrades rather than fails: a table whose backing file cannot be
// read is skipped with a logged warning and the remaining tables still
// contribute to the result.
package filter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"leadstore/internal/blob"
	"leadstore/internal/collection"
	"leadstore/internal/identify"
	"leadstore/internal/probe"
	"leadstore/internal/storage"
	"leadstore/internal/textutil"
)

// defaultWorkers bounds how many table files are streamed concurrently.
const defaultWorkers = 4

// Engine streams table files and aggregates matches. All state is scoped
// to one invocation; an Engine is safe for concurrent use.
type Engine struct {
	Blob    blob.Store
	Tables  storage.TableStore
	Log     *slog.Logger
	Workers int
}

// NewEngine wires an engine. log may be nil.
func NewEngine(b blob.Store, tables storage.TableStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{Blob: b, Tables: tables, Log: log, Workers: defaultWorkers}
}

// Count streams every table of the collection once and returns how many
// non-excluded records match all filters. With no filters it answers from
// table metadata alone: total rows minus the exclusion count, clamped at
// zero, without reading a single file.
func (e *Engine) Count(ctx context.Context, col *collection.Collection, filters collection.FilterSpec, excluded map[string]struct{}) (int, error) {
	if len(filters) == 0 {
		return e.countAll(ctx, col, len(excluded))
	}

	byTable, err := collection.Resolve(col, filters)
	if err != nil {
		return 0, err
	}

	var (
		mu    sync.Mutex
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, tableID := range col.TableIDs() {
		g.Go(func() error {
			n, err := e.scanTable(gctx, tableID, byTable[tableID], excluded, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// DistinctValues streams the tables that supply the target column and
// returns the sorted distinct values of that column among matching,
// non-excluded records.
func (e *Engine) DistinctValues(ctx context.Context, col *collection.Collection, filters collection.FilterSpec, target string, excluded map[string]struct{}) ([]string, error) {
	targets, err := collection.ResolveTarget(col, target)
	if err != nil {
		return nil, err
	}
	byTable, err := collection.Resolve(col, filters)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		values = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for tableID, targetCol := range targets {
		g.Go(func() error {
			local := make(map[string]struct{})
			targetKey := textutil.NormalizeColumnName(targetCol)
			collect := func(rec []string, colIdx map[string]int) {
				ix, ok := colIdx[targetKey]
				if !ok || ix >= len(rec) {
					return
				}
				if v := strings.TrimSpace(rec[ix]); v != "" {
					local[v] = struct{}{}
				}
			}
			if _, err := e.scanTable(gctx, tableID, byTable[tableID], excluded, collect); err != nil {
				return err
			}
			mu.Lock()
			for v := range local {
				values[v] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return defaultWorkers
}

// countAll is the zero-filter fast path: metadata row counts minus the
// exclusion size. Unreadable table metadata is skipped like an unreadable
// file would be.
func (e *Engine) countAll(ctx context.Context, col *collection.Collection, excludedCount int) (int, error) {
	total := 0
	for _, tableID := range col.TableIDs() {
		t, err := e.Tables.GetTable(ctx, tableID)
		if err != nil {
			e.Log.Warn("filter: table metadata unavailable, skipping", "table", tableID, "err", err)
			continue
		}
		total += t.RowCount
	}
	total -= excludedCount
	if total < 0 {
		total = 0
	}
	return total, nil
}

// scanTable streams one table file, returning how many non-excluded records
// matched the given filters. When collect is non-nil it is invoked for each
// matching record with the record and the normalized header index.
//
// Failures local to the table (missing metadata, unreadable file) are
// logged and reported as zero matches; only context cancellation and
// mid-stream corruption abort the query.
func (e *Engine) scanTable(ctx context.Context, tableID string, filters []collection.ColumnFilter, excluded map[string]struct{}, collect func(rec []string, colIdx map[string]int)) (int, error) {
	t, err := e.Tables.GetTable(ctx, tableID)
	if err != nil {
		e.Log.Warn("filter: table metadata unavailable, skipping", "table", tableID, "err", err)
		return 0, nil
	}

	// Compile before opening the stream so request errors beat I/O.
	compiledFilters := make([]compiled, 0, len(filters))
	for _, cf := range filters {
		eval, err := compile(cf)
		if err != nil {
			return 0, err
		}
		compiledFilters = append(compiledFilters, compiled{column: textutil.NormalizeColumnName(cf.ColumnName), eval: eval})
	}

	delim, err := probe.ParseDelimiter(t.Delimiter)
	if err != nil {
		e.Log.Warn("filter: table has unknown delimiter, skipping", "table", tableID, "delimiter", t.Delimiter)
		return 0, nil
	}

	rc, err := e.Blob.Open(ctx, t.FilePath)
	if err != nil {
		e.Log.Warn("filter: source unavailable, skipping table", "table", tableID, "path", t.FilePath, "err", err)
		return 0, nil
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = collect == nil

	header, err := cr.Read()
	if err != nil {
		e.Log.Warn("filter: cannot read table header, skipping", "table", tableID, "err", err)
		return 0, nil
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[textutil.NormalizeColumnName(h)] = i
	}
	// The identifier column is usually first but nothing reorders a file
	// that already carried one; exclusion keys on wherever the header puts
	// it.
	idIdx := 0
	if ix, ok := colIdx[identify.Column]; ok {
		idIdx = ix
	}
	for i := range compiledFilters {
		ix, ok := colIdx[compiledFilters[i].column]
		if !ok {
			ix = -1
		}
		compiledFilters[i].idx = ix
	}

	matched := 0
	for {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return matched, fmt.Errorf("filter: read %s: %w", tableID, err)
		}
		if len(rec) == 0 {
			continue
		}
		if len(excluded) > 0 && idIdx < len(rec) {
			if _, bought := excluded[textutil.FoldValue(rec[idIdx])]; bought {
				continue
			}
		}
		if !matches(rec, compiledFilters) {
			continue
		}
		matched++
		if collect != nil {
			collect(rec, colIdx)
		}
	}
	return matched, nil
}
