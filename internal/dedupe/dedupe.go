// Package dedupe removes duplicate records from table files by a
// caller-chosen key-column set, in two modes: within the file being
// imported, and against everything previously ingested for the same owner.
//
// Both modes are single forward streaming passes. File mode keeps only a
// set of 64-bit key hashes in memory, O(unique keys) rather than O(file size);
// store mode holds one lookup batch. Removed rows are routed to a
// duplicates side-file for audit, never silently dropped.
package dedupe

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"leadstore/internal/storage"
	"leadstore/internal/textutil"
)

// Mode selects which passes an import runs.
const (
	ModeFile     = "file"
	ModeDatabase = "database"
	ModeBoth     = "both"
)

// lookupBatch is how many records a store-mode pass accumulates before one
// indexed existence query.
const lookupBatch = 500

// Result is the ephemeral outcome of one dedup run. UniqueCount plus
// DuplicatesRemoved always equals the input row count.
type Result struct {
	UniqueCount       int
	DuplicatesRemoved int
}

// stream wraps the shared reader/writer plumbing of both modes.
type stream struct {
	cr     *csv.Reader
	kept   *csv.Writer
	dupes  *csv.Writer
	keyIdx []int
}

func newStream(src io.Reader, kept, dupes io.Writer, delim rune, keyColumns []string) (*stream, error) {
	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("dedupe: read header: %w", err)
	}

	// Bind key columns to header positions up front; an unknown key column
	// is a configuration error, caught before any row is consumed.
	keyIdx, err := bindKeyColumns(header, keyColumns)
	if err != nil {
		return nil, err
	}

	s := &stream{
		cr:     cr,
		kept:   csv.NewWriter(kept),
		dupes:  csv.NewWriter(dupes),
		keyIdx: keyIdx,
	}
	s.kept.Comma = delim
	s.dupes.Comma = delim
	if err := s.kept.Write(header); err != nil {
		return nil, fmt.Errorf("dedupe: write header: %w", err)
	}
	if err := s.dupes.Write(header); err != nil {
		return nil, fmt.Errorf("dedupe: write dupes header: %w", err)
	}
	return s, nil
}

// bindKeyColumns maps each key column name to its header position,
// matching on normalized names so "E-Mail" binds a key on "e_mail".
func bindKeyColumns(header, keyColumns []string) ([]int, error) {
	keyIdx := make([]int, len(keyColumns))
	for i, kc := range keyColumns {
		keyIdx[i] = -1
		want := textutil.NormalizeColumnName(kc)
		for j, h := range header {
			if textutil.NormalizeColumnName(h) == want {
				keyIdx[i] = j
				break
			}
		}
		if keyIdx[i] < 0 {
			return nil, fmt.Errorf("dedupe: key column %q not in header", kc)
		}
	}
	return keyIdx, nil
}

// key builds the normalized composite key for one record. Missing cells
// contribute the empty string, matching the filter engine's view of them.
func (s *stream) key(rec []string) string {
	parts := make([]string, len(s.keyIdx))
	for i, ix := range s.keyIdx {
		if ix < len(rec) {
			parts[i] = rec[ix]
		}
	}
	return textutil.CompositeKey(parts)
}

func (s *stream) flush() error {
	s.kept.Flush()
	if err := s.kept.Error(); err != nil {
		return fmt.Errorf("dedupe: flush kept: %w", err)
	}
	s.dupes.Flush()
	if err := s.dupes.Error(); err != nil {
		return fmt.Errorf("dedupe: flush dupes: %w", err)
	}
	return nil
}

// File removes intra-file duplicates: the first occurrence of each key is
// kept, later ones go to the duplicates side-file. The seen-set stores
// xxh3 hashes of the composite key rather than the key text, which bounds
// memory to 8 bytes per unique key.
func File(ctx context.Context, src io.Reader, kept, dupes io.Writer, delim rune, keyColumns []string) (Result, error) {
	s, err := newStream(src, kept, dupes, delim, keyColumns)
	if err != nil {
		return Result{}, err
	}

	seen := make(map[uint64]struct{})
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := s.cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("dedupe: read row: %w", err)
		}

		h := xxh3.HashString(s.key(rec))
		if _, dup := seen[h]; dup {
			res.DuplicatesRemoved++
			if err := s.dupes.Write(rec); err != nil {
				return res, fmt.Errorf("dedupe: write dupe: %w", err)
			}
			continue
		}
		seen[h] = struct{}{}
		res.UniqueCount++
		if err := s.kept.Write(rec); err != nil {
			return res, fmt.Errorf("dedupe: write row: %w", err)
		}
	}
	if err := s.flush(); err != nil {
		return res, err
	}
	return res, nil
}

// Store removes records whose key already exists among previously ingested
// tables for ownerID, using batched indexed lookups against the key index.
// Records are buffered per batch only; the comparison set never enters
// memory.
func Store(ctx context.Context, src io.Reader, kept, dupes io.Writer, delim rune, keyColumns []string, index storage.KeyIndex, ownerID string) (Result, error) {
	s, err := newStream(src, kept, dupes, delim, keyColumns)
	if err != nil {
		return Result{}, err
	}

	var res Result
	pending := make([][]string, 0, lookupBatch)
	keys := make([]string, 0, lookupBatch)

	flushBatch := func() error {
		if len(pending) == 0 {
			return nil
		}
		existing, err := index.ExistingKeys(ctx, ownerID, keys)
		if err != nil {
			return fmt.Errorf("dedupe: key lookup: %w", err)
		}
		for i, rec := range pending {
			if _, dup := existing[keys[i]]; dup {
				res.DuplicatesRemoved++
				if err := s.dupes.Write(rec); err != nil {
					return fmt.Errorf("dedupe: write dupe: %w", err)
				}
				continue
			}
			res.UniqueCount++
			if err := s.kept.Write(rec); err != nil {
				return fmt.Errorf("dedupe: write row: %w", err)
			}
		}
		pending = pending[:0]
		keys = keys[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := s.cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("dedupe: read row: %w", err)
		}
		pending = append(pending, rec)
		keys = append(keys, s.key(rec))
		if len(pending) >= lookupBatch {
			if err := flushBatch(); err != nil {
				return res, err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return res, err
	}
	if err := s.flush(); err != nil {
		return res, err
	}
	return res, nil
}

// Keys streams the file once and returns the normalized composite keys of
// every record, for recording into the key index after a table is accepted.
// emit is called in batches of lookupBatch.
func Keys(ctx context.Context, src io.Reader, delim rune, keyColumns []string, emit func(keys []string) error) error {
	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("dedupe: read header: %w", err)
	}
	keyIdx, err := bindKeyColumns(header, keyColumns)
	if err != nil {
		return err
	}

	batch := make([]string, 0, lookupBatch)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("dedupe: read row: %w", err)
		}
		parts := make([]string, len(keyIdx))
		for i, ix := range keyIdx {
			if ix < len(rec) {
				parts[i] = rec[ix]
			}
		}
		batch = append(batch, textutil.CompositeKey(parts))
		if len(batch) >= lookupBatch {
			if err := emit(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}
