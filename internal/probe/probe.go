// Package probe inspects uploaded table files without materializing them:
// it detects the field delimiter, recovers column names from a bounded
// sample, counts lines in a single forward pass, and offers a read-only
// diagnostic parse that classifies every physical line.
package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoColumns is the fatal schema-inference failure: the sample yielded no
// usable column names. Ingestion must abort when Infer returns it.
var ErrNoColumns = errors.New("probe: no columns found in sample")

const (
	// sampleBytes bounds how much of the stream is buffered for delimiter
	// and header detection. Everything past it is only scanned for line
	// boundaries.
	sampleBytes = 1 << 20

	// sampleRows bounds how many rows the header recovery parse may read.
	sampleRows = 100

	utf8BOM = "\uFEFF"
)

// candidates lists the supported delimiters in tie-break priority order.
var candidates = []rune{',', ';', '\t', '|'}

// Summary is the result of one inference pass over a table file.
type Summary struct {
	Columns      []string
	TotalLines   int // physical lines including the header
	DataRowCount int // TotalLines - 1, floored at 0
	Delimiter    rune
}

// Infer reads the stream once and returns the inferred schema summary.
// hint, when nonzero, pins the delimiter and skips detection. Memory is
// bounded by the sample buffer regardless of stream size.
func Infer(ctx context.Context, r io.Reader, hint rune) (Summary, error) {
	sample := make([]byte, 0, sampleBytes)
	buf := make([]byte, 64<<10)

	// Fill the sample buffer.
	for len(sample) < sampleBytes {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			room := sampleBytes - len(sample)
			if n > room {
				// Sample is full; the overflow only feeds line counting.
				sample = append(sample, buf[:room]...)
				rest := buf[room:n]
				sofar := countNewlines(sample) + countNewlines(rest)
				total, err := countRemainder(ctx, r, buf, sofar, rest[len(rest)-1])
				if err != nil {
					return Summary{}, err
				}
				return summarize(sample, total, hint)
			}
			sample = append(sample, buf[:n]...)
		}
		if err == io.EOF {
			return summarize(sample, countLines(sample), hint)
		}
		if err != nil {
			return Summary{}, fmt.Errorf("probe: read sample: %w", err)
		}
	}
	// Sample full; scan the remainder for line boundaries only.
	last := byte('\n')
	if len(sample) > 0 {
		last = sample[len(sample)-1]
	}
	total, err := countRemainder(ctx, r, buf, countNewlines(sample), last)
	if err != nil {
		return Summary{}, err
	}
	return summarize(sample, total, hint)
}

// countRemainder continues newline counting to EOF. sofar is the newline
// count seen so far and last the last byte seen; a trailing line without a
// final newline still counts as a line.
func countRemainder(ctx context.Context, r io.Reader, buf []byte, sofar int, last byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			sofar += countNewlines(buf[:n])
			last = buf[n-1]
		}
		if err == io.EOF {
			if last != '\n' {
				sofar++
			}
			return sofar, nil
		}
		if err != nil {
			return 0, fmt.Errorf("probe: count lines: %w", err)
		}
	}
}

func countNewlines(b []byte) int { return bytes.Count(b, []byte{'\n'}) }

// countLines counts physical lines in b, including a trailing line that
// lacks a final newline.
func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	n := countNewlines(b)
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}

func summarize(sample []byte, totalLines int, hint rune) (Summary, error) {
	delim := hint
	if delim == 0 {
		delim = detectDelimiter(sample)
	}
	cols, err := headerColumns(sample, delim)
	if err != nil {
		return Summary{}, err
	}
	dataRows := totalLines - 1
	if dataRows < 0 {
		dataRows = 0
	}
	return Summary{
		Columns:      cols,
		TotalLines:   totalLines,
		DataRowCount: dataRows,
		Delimiter:    delim,
	}, nil
}

// detectDelimiter picks the candidate producing the most fields on the first
// line. Ties resolve to the earlier candidate, so comma wins over pipe when
// neither appears.
func detectDelimiter(sample []byte) rune {
	first := sample
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		first = sample[:i]
	}
	best := candidates[0]
	bestFields := strings.Count(string(first), string(best)) + 1
	for _, c := range candidates[1:] {
		if n := strings.Count(string(first), string(c)) + 1; n > bestFields {
			best, bestFields = c, n
		}
	}
	return best
}

// headerColumns parses at most sampleRows rows out of the sample and returns
// the trimmed header names. The parse is tolerant (lazy quotes, variable
// width); only the header row is ultimately used, the remaining rows merely
// validate that the sample parses at all.
func headerColumns(sample []byte, delim rune) ([]string, error) {
	cr := csv.NewReader(bytes.NewReader(sample))
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	var header []string
	for i := 0; i < sampleRows; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if header != nil {
				break // header already recovered; sample noise is fine
			}
			return nil, fmt.Errorf("probe: parse sample: %w", err)
		}
		if header == nil {
			header = make([]string, 0, len(rec))
			for j, h := range rec {
				if j == 0 {
					h = strings.TrimPrefix(h, utf8BOM)
				}
				header = append(header, strings.TrimSpace(h))
			}
		}
	}
	if len(header) == 0 || (len(header) == 1 && header[0] == "") {
		return nil, ErrNoColumns
	}
	return header, nil
}
