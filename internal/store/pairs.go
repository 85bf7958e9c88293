package store

import (
	"context"
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/variants"
	"github.com/inodb/vibe-attn/internal/window"
)

// PairRecord is a sequence pair with the labels of its variant.
type PairRecord struct {
	Variant variants.Record
	Pair    window.Pair
}

// WritePairs appends extracted sequence pairs.
func (s *Store) WritePairs(pairs []window.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	return s.appendRows(TableSequencePairs, func(a *goduckdb.Appender) error {
		for _, p := range pairs {
			if err := a.AppendRow(p.Key.Chrom, p.Key.Pos, p.Key.Ref, p.Key.Alt,
				p.Start, int64(p.Offset), p.Ref, p.Alt); err != nil {
				return fmt.Errorf("append pair %s: %w", p.Key, err)
			}
		}
		return nil
	})
}

// ReadPairs returns up to limit pairs starting at offset, ordered by key.
func (s *Store) ReadPairs(offset, limit int) ([]PairRecord, error) {
	rows, err := s.db.Query(`SELECT p.chrom, p.pos, p.ref, p.alt, p.window_start, p.variant_offset,
			p.ref_seq, p.alt_seq, v.id, v.gene, v.significance, v.functional_class
		FROM sequence_pairs p
		JOIN variants v ON v.chrom = p.chrom AND v.pos = p.pos AND v.ref = p.ref AND v.alt = p.alt
		ORDER BY p.chrom, p.pos, p.ref, p.alt
		LIMIT ? OFFSET ?`, int64(limit), int64(offset))
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var out []PairRecord
	for rows.Next() {
		var pr PairRecord
		var off int64
		p := &pr.Pair
		v := &pr.Variant
		if err := rows.Scan(&p.Key.Chrom, &p.Key.Pos, &p.Key.Ref, &p.Key.Alt, &p.Start, &off,
			&p.Ref, &p.Alt, &v.ID, &v.Gene, &v.Significance, &v.FunctionalClass); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.Offset = int(off)
		v.Key = p.Key
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return out, nil
}

// ForEachPairBatch calls fn with successive batches of at most size pairs.
// Only one batch is held in memory at a time, and fn may write to the store.
func (s *Store) ForEachPairBatch(ctx context.Context, size int, fn func([]PairRecord) error) error {
	if size < 1 {
		return fmt.Errorf("batch size must be positive, got %d", size)
	}
	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.ReadPairs(offset, size)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < size {
			return nil
		}
	}
}
