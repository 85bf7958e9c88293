package store

import (
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/patch"
)

// WritePatchResults appends activation patching results.
func (s *Store) WritePatchResults(results []patch.Result) error {
	if len(results) == 0 {
		return nil
	}
	return s.appendRows(TablePatchResults, func(a *goduckdb.Appender) error {
		for _, r := range results {
			if err := a.AppendRow(r.Key.Chrom, r.Key.Pos, r.Key.Ref, r.Key.Alt,
				int64(r.Layer), int64(r.Position),
				r.DistRefAlt, r.DistPatchedAlt, r.CorrRefAlt, r.CorrPatchedAlt,
				r.Recovery, r.Causal); err != nil {
				return fmt.Errorf("append patch result %s: %w", r.Key, err)
			}
		}
		return nil
	})
}

// ReadPatchResults returns the patch results of every non-excluded variant.
func (s *Store) ReadPatchResults() ([]patch.Result, error) {
	rows, err := s.db.Query(`SELECT chrom, pos, ref, alt, patch_layer, patch_position,
			dist_ref_alt, dist_patched_alt, corr_ref_alt, corr_patched_alt, recovery, causal
		FROM patch_results r
		WHERE ` + notExcluded("r") + `
		ORDER BY chrom, pos, ref, alt`)
	if err != nil {
		return nil, fmt.Errorf("query patch results: %w", err)
	}
	defer rows.Close()

	var out []patch.Result
	for rows.Next() {
		var r patch.Result
		var layer, position int64
		if err := rows.Scan(&r.Key.Chrom, &r.Key.Pos, &r.Key.Ref, &r.Key.Alt, &layer, &position,
			&r.DistRefAlt, &r.DistPatchedAlt, &r.CorrRefAlt, &r.CorrPatchedAlt,
			&r.Recovery, &r.Causal); err != nil {
			return nil, fmt.Errorf("scan patch result: %w", err)
		}
		r.Layer, r.Position = int(layer), int(position)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patch results: %w", err)
	}
	return out, nil
}
