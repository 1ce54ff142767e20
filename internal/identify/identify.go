// Package identify guarantees that every record of a table file carries a
// stable, unique lead identifier. Files that already have the reserved
// identifier column pass through untouched; all others are rewritten once,
// in a single streaming pass, with a generated identifier prepended as the
// new first column.
package identify

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"leadstore/internal/textutil"
)

// Column is the reserved identifier column name, matched on normalized
// column names.
const Column = "lead_id"

// Prefix starts every generated identifier. The suffix is 32 opaque hex
// characters, so identifiers look like LEAD-9F8E....
const Prefix = "LEAD-"

// maxRetries bounds identifier regeneration before giving up. With a
// 128-bit random suffix a single collision is already suspicious; repeated
// ones mean the randomness source is broken.
const maxRetries = 5

// ErrCollision reports that identifier generation kept producing a value
// already present in the file. It is a hard failure.
var ErrCollision = errors.New("identify: identifier collision after retries")

// HasIdentifier reports whether the column list already contains the
// reserved identifier column, compared on normalized names so "Lead ID"
// and " lead_id " both match.
func HasIdentifier(columns []string) bool {
	for _, c := range columns {
		if textutil.NormalizeColumnName(c) == Column {
			return true
		}
	}
	return false
}

// Result describes one assignment pass.
type Result struct {
	// Columns is the column list after the pass, identifier first when one
	// was injected.
	Columns []string
	// Rows is the number of data rows written (or seen, on a no-op).
	Rows int
	// Assigned is false when the file already had the identifier column.
	Assigned bool
}

// Generate returns a fresh identifier.
func Generate() string {
	u := uuid.New()
	return Prefix + strings.ToUpper(strings.ReplaceAll(u.String(), "-", ""))
}

// Assign streams src once. If the header already names the identifier
// column, nothing is written and the pass is a no-op (w is untouched);
// otherwise the rewritten file, with an identifier prepended to the header
// and to every record, is written to w.
//
// Uniqueness within the file is enforced: a generated identifier that was
// already seen in this run is regenerated, and ErrCollision is returned
// after maxRetries consecutive failures.
func Assign(ctx context.Context, src io.Reader, w io.Writer, delim rune) (Result, error) {
	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Result{}, fmt.Errorf("identify: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	if HasIdentifier(header) {
		// Count rows so the caller still gets an accurate total.
		rows := 0
		for {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			if _, err := cr.Read(); err == io.EOF {
				break
			} else if err != nil {
				return Result{}, fmt.Errorf("identify: scan: %w", err)
			}
			rows++
		}
		return Result{Columns: header, Rows: rows, Assigned: false}, nil
	}

	cw := csv.NewWriter(w)
	cw.Comma = delim

	outCols := append([]string{Column}, header...)
	if err := cw.Write(outCols); err != nil {
		return Result{}, fmt.Errorf("identify: write header: %w", err)
	}

	seen := make(map[string]struct{})
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("identify: read row: %w", err)
		}

		id, err := freshID(seen)
		if err != nil {
			return Result{}, err
		}
		seen[id] = struct{}{}

		out := make([]string, 0, len(rec)+1)
		out = append(out, id)
		out = append(out, rec...)
		if err := cw.Write(out); err != nil {
			return Result{}, fmt.Errorf("identify: write row: %w", err)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Result{}, fmt.Errorf("identify: flush: %w", err)
	}
	return Result{Columns: outCols, Rows: rows, Assigned: true}, nil
}

func freshID(seen map[string]struct{}) (string, error) {
	for i := 0; i < maxRetries; i++ {
		id := Generate()
		if _, dup := seen[id]; !dup {
			return id, nil
		}
	}
	return "", ErrCollision
}
