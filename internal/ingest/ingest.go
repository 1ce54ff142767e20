// Package ingest orchestrates the import pipeline that turns an uploaded
// delimited file into a cleaned, uniquely identified, deduplicated table:
//
//	infer → repair → diagnose → identify → dedupe(file) → dedupe(store)
//
// Each stage streams blob-to-blob; nothing is ever materialized in memory.
// Fatal stages (schema inference) abort the import; everything else
// accumulates warnings into the ImportInfo the operator sees. A metadata
// write failure still completes the import, with a warning.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadstore/internal/blob"
	"leadstore/internal/dedupe"
	"leadstore/internal/identify"
	"leadstore/internal/metrics"
	"leadstore/internal/probe"
	"leadstore/internal/repair"
	"leadstore/internal/storage"
)

// Request is the inbound ingestion shape.
type Request struct {
	TableName     string
	Data          io.Reader
	Delimiter     string // boundary token or literal; empty = detect
	Tags          []string
	OwnerID       string
	DedupeColumns []string
	DedupeMode    string // dedupe.ModeFile, ModeDatabase, ModeBoth, or ""
}

// ImportInfo is the operator-facing summary of one import.
type ImportInfo struct {
	TotalLines          int               `json:"totalLines"`
	ExpectedRows        int               `json:"expectedRows"`
	FinalRows           int               `json:"finalRows"`
	RepairedLines       int               `json:"repairedLines"`
	DuplicatesRemoved   int               `json:"duplicatesRemoved"`
	DBDuplicatesRemoved int               `json:"dbDuplicatesRemoved"`
	ParseErrors         []probe.LineError `json:"parseErrors,omitempty"`
	DuplicatesFile      string            `json:"duplicatesFile,omitempty"`
	DBDuplicatesFile    string            `json:"dbDuplicatesFile,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
}

// Result is the outbound ingestion shape.
type Result struct {
	TableID    string     `json:"tableId"`
	Columns    []string   `json:"columns"`
	RowCount   int        `json:"rowCount"`
	ImportInfo ImportInfo `json:"importInfo"`
}

// Pipeline wires the collaborators of one ingestion deployment.
type Pipeline struct {
	Blob   blob.Store
	Tables storage.TableStore
	Keys   storage.KeyIndex
	Log    *slog.Logger
}

// New builds a pipeline. log may be nil.
func New(b blob.Store, tables storage.TableStore, keys storage.KeyIndex, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{Blob: b, Tables: tables, Keys: keys, Log: log}
}

// Run executes the full import.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if req.TableName == "" {
		return Result{}, fmt.Errorf("ingest: table name required")
	}
	hint, err := probe.ParseDelimiter(req.Delimiter)
	if err != nil {
		return Result{}, err
	}

	tableID := uuid.NewString()
	dir := "tables/" + tableID
	var info ImportInfo
	var cleanup []string

	// Stage the raw upload so every later pass can re-open it.
	uploadPath := dir + "/upload.csv"
	if err := p.copyIn(ctx, req.Data, uploadPath); err != nil {
		return Result{}, err
	}
	cleanup = append(cleanup, uploadPath)

	// Schema inference. The only stage whose failure aborts the import.
	summary, err := p.infer(ctx, req.TableName, uploadPath, hint)
	if err != nil {
		return Result{}, err
	}
	info.TotalLines = summary.TotalLines
	info.ExpectedRows = summary.DataRowCount

	// Heuristic quote repair, upload → repaired.
	repairedPath := dir + "/repaired.csv"
	info.RepairedLines, err = p.repair(ctx, req.TableName, uploadPath, repairedPath, summary.Delimiter)
	if err != nil {
		return Result{}, err
	}
	cleanup = append(cleanup, repairedPath)

	// Diagnostic pass: operator visibility only, never blocks.
	if rep, err := p.diagnose(ctx, req.TableName, repairedPath, summary.Delimiter); err != nil {
		info.Warnings = append(info.Warnings, "diagnostics unavailable: "+err.Error())
	} else {
		info.ParseErrors = rep.Errors
		if n := len(rep.Errors); n > 0 {
			p.Log.Warn("ingest: diagnostics flagged lines", "table", req.TableName, "flagged", n)
		}
	}

	// Identifier assignment.
	current, columns, rows, err := p.identify(ctx, req.TableName, dir, repairedPath, summary.Delimiter)
	if err != nil {
		return Result{}, err
	}
	if current != repairedPath {
		cleanup = append(cleanup, current)
	}
	finalRows := rows

	// Deduplication, per requested mode. A pass that cannot run is skipped
	// with a warning, never silently.
	keyCols := req.DedupeColumns
	if len(keyCols) == 0 {
		keyCols = []string{identify.Column}
	}
	switch req.DedupeMode {
	case "", dedupe.ModeFile, dedupe.ModeDatabase, dedupe.ModeBoth:
	default:
		info.Warnings = append(info.Warnings, fmt.Sprintf("unknown dedupe mode %q: deduplication skipped", req.DedupeMode))
		p.Log.Warn("ingest: unknown dedupe mode, skipping deduplication", "table", req.TableName, "mode", req.DedupeMode)
	}
	if req.DedupeMode == dedupe.ModeFile || req.DedupeMode == dedupe.ModeBoth {
		keptPath := dir + "/deduped.csv"
		dupesPath := dir + "/duplicates.csv"
		res, err := p.dedupeFile(ctx, req.TableName, current, keptPath, dupesPath, summary.Delimiter, keyCols)
		if err != nil {
			return Result{}, err
		}
		cleanup = append(cleanup, current)
		current = keptPath
		finalRows = res.UniqueCount
		info.DuplicatesRemoved = res.DuplicatesRemoved
		info.DuplicatesFile = dupesPath
	}
	if req.DedupeMode == dedupe.ModeDatabase || req.DedupeMode == dedupe.ModeBoth {
		if req.OwnerID == "" {
			info.Warnings = append(info.Warnings, "database dedupe requested without owner: pass skipped")
			p.Log.Warn("ingest: database dedupe skipped, no owner", "table", req.TableName)
		} else {
			keptPath := dir + "/db_deduped.csv"
			dupesPath := dir + "/db_duplicates.csv"
			res, err := p.dedupeStore(ctx, req, current, keptPath, dupesPath, summary.Delimiter, keyCols)
			if err != nil {
				return Result{}, err
			}
			cleanup = append(cleanup, current)
			current = keptPath
			finalRows = res.UniqueCount
			info.DBDuplicatesRemoved = res.DuplicatesRemoved
			info.DBDuplicatesFile = dupesPath
		}
	}
	info.FinalRows = finalRows

	// Record the accepted records' keys so future imports can dedupe
	// against this table.
	if req.OwnerID != "" && len(req.DedupeColumns) > 0 {
		if err := p.recordKeys(ctx, req, current, summary.Delimiter); err != nil {
			info.Warnings = append(info.Warnings, "key index update failed: "+err.Error())
			p.Log.Warn("ingest: key index update failed", "table", req.TableName, "err", err)
		}
	}

	// Persist metadata. Failure degrades to a warning per the import
	// contract; the cleaned file itself is already durable.
	table := &storage.Table{
		ID:        tableID,
		Name:      req.TableName,
		Delimiter: probe.DelimiterToken(summary.Delimiter),
		Columns:   columns,
		RowCount:  finalRows,
		Tags:      req.Tags,
		OwnerID:   req.OwnerID,
		FilePath:  current,
		CreatedAt: time.Now().UTC(),
	}
	start := time.Now()
	err = p.Tables.CreateTable(ctx, table)
	metrics.RecordStep(req.TableName, "persist", err, time.Since(start))
	if err != nil {
		info.Warnings = append(info.Warnings, "metadata write failed: "+err.Error())
		p.Log.Warn("ingest: metadata write failed", "table", req.TableName, "err", err)
	}

	// Intermediate stage files are garbage now; removal is best-effort.
	for _, path := range cleanup {
		if path == current {
			continue
		}
		if err := p.Blob.Delete(ctx, path); err != nil {
			p.Log.Debug("ingest: stage file cleanup failed", "path", path, "err", err)
		}
	}

	metrics.RecordRows(req.TableName, "stored", finalRows)
	return Result{TableID: tableID, Columns: columns, RowCount: finalRows, ImportInfo: info}, nil
}

func (p *Pipeline) copyIn(ctx context.Context, src io.Reader, path string) error {
	w, err := p.Blob.Create(ctx, path)
	if err != nil {
		return fmt.Errorf("ingest: stage upload: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("ingest: stage upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ingest: stage upload: %w", err)
	}
	return nil
}

func (p *Pipeline) infer(ctx context.Context, job, path string, hint rune) (probe.Summary, error) {
	start := time.Now()
	rc, err := p.Blob.Open(ctx, path)
	if err != nil {
		return probe.Summary{}, fmt.Errorf("ingest: open upload: %w", err)
	}
	defer rc.Close()
	summary, err := probe.Infer(ctx, rc, hint)
	metrics.RecordStep(job, "infer", err, time.Since(start))
	return summary, err
}

func (p *Pipeline) repair(ctx context.Context, job, src, dst string, delim rune) (int, error) {
	start := time.Now()
	rc, err := p.Blob.Open(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("ingest: open for repair: %w", err)
	}
	defer rc.Close()
	w, err := p.Blob.Create(ctx, dst)
	if err != nil {
		return 0, fmt.Errorf("ingest: create repaired: %w", err)
	}
	changed, err := repair.Stream(ctx, rc, w, delim)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	metrics.RecordStep(job, "repair", err, time.Since(start))
	metrics.RecordRows(job, "repaired", changed)
	return changed, err
}

func (p *Pipeline) diagnose(ctx context.Context, job, path string, delim rune) (probe.Report, error) {
	start := time.Now()
	rc, err := p.Blob.Open(ctx, path)
	if err != nil {
		return probe.Report{}, err
	}
	defer rc.Close()
	rep, err := probe.Diagnose(ctx, rc, delim)
	metrics.RecordStep(job, "diagnose", err, time.Since(start))
	return rep, err
}

// identify returns the path holding the identified file (unchanged when the
// upload already carried the identifier column), the final column list, and
// the data row count.
func (p *Pipeline) identify(ctx context.Context, job, dir, src string, delim rune) (string, []string, int, error) {
	start := time.Now()

	// Peek at the header to decide whether a rewrite is needed at all.
	header, err := p.readHeader(ctx, src, delim)
	if err != nil {
		return "", nil, 0, fmt.Errorf("ingest: read header: %w", err)
	}

	if identify.HasIdentifier(header) {
		rc, err := p.Blob.Open(ctx, src)
		if err != nil {
			return "", nil, 0, err
		}
		defer rc.Close()
		res, err := identify.Assign(ctx, rc, io.Discard, delim)
		metrics.RecordStep(job, "identify", err, time.Since(start))
		if err != nil {
			return "", nil, 0, err
		}
		return src, res.Columns, res.Rows, nil
	}

	dst := dir + "/identified.csv"
	rc, err := p.Blob.Open(ctx, src)
	if err != nil {
		return "", nil, 0, err
	}
	defer rc.Close()
	w, err := p.Blob.Create(ctx, dst)
	if err != nil {
		return "", nil, 0, fmt.Errorf("ingest: create identified: %w", err)
	}
	res, err := identify.Assign(ctx, rc, w, delim)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	metrics.RecordStep(job, "identify", err, time.Since(start))
	if err != nil {
		return "", nil, 0, err
	}
	return dst, res.Columns, res.Rows, nil
}

func (p *Pipeline) readHeader(ctx context.Context, path string, delim rune) ([]string, error) {
	rc, err := p.Blob.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	cr := csv.NewReader(rc)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr.Read()
}

func (p *Pipeline) dedupeFile(ctx context.Context, job, src, kept, dupes string, delim rune, keyCols []string) (dedupe.Result, error) {
	start := time.Now()
	rc, err := p.Blob.Open(ctx, src)
	if err != nil {
		return dedupe.Result{}, err
	}
	defer rc.Close()
	kw, err := p.Blob.Create(ctx, kept)
	if err != nil {
		return dedupe.Result{}, err
	}
	dw, err := p.Blob.Create(ctx, dupes)
	if err != nil {
		kw.Close()
		return dedupe.Result{}, err
	}
	res, err := dedupe.File(ctx, rc, kw, dw, delim, keyCols)
	if cerr := kw.Close(); err == nil {
		err = cerr
	}
	if cerr := dw.Close(); err == nil {
		err = cerr
	}
	metrics.RecordStep(job, "dedupe_file", err, time.Since(start))
	metrics.RecordRows(job, "deduped", res.DuplicatesRemoved)
	return res, err
}

func (p *Pipeline) dedupeStore(ctx context.Context, req Request, src, kept, dupes string, delim rune, keyCols []string) (dedupe.Result, error) {
	start := time.Now()
	rc, err := p.Blob.Open(ctx, src)
	if err != nil {
		return dedupe.Result{}, err
	}
	defer rc.Close()
	kw, err := p.Blob.Create(ctx, kept)
	if err != nil {
		return dedupe.Result{}, err
	}
	dw, err := p.Blob.Create(ctx, dupes)
	if err != nil {
		kw.Close()
		return dedupe.Result{}, err
	}
	res, err := dedupe.Store(ctx, rc, kw, dw, delim, keyCols, p.Keys, req.OwnerID)
	if cerr := kw.Close(); err == nil {
		err = cerr
	}
	if cerr := dw.Close(); err == nil {
		err = cerr
	}
	metrics.RecordStep(req.TableName, "dedupe_store", err, time.Since(start))
	metrics.RecordRows(req.TableName, "db_deduped", res.DuplicatesRemoved)
	return res, err
}

func (p *Pipeline) recordKeys(ctx context.Context, req Request, path string, delim rune) error {
	rc, err := p.Blob.Open(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return dedupe.Keys(ctx, rc, delim, req.DedupeColumns, func(keys []string) error {
		return p.Keys.AddKeys(ctx, req.OwnerID, keys)
	})
}
