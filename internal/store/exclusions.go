package store

import (
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// WriteExclusions appends exclusion records.
func (s *Store) WriteExclusions(entries []qc.Exclusion) error {
	if len(entries) == 0 {
		return nil
	}
	return s.appendRows(TableExclusions, func(a *goduckdb.Appender) error {
		for _, e := range entries {
			if err := a.AppendRow(e.Key.Chrom, e.Key.Pos, e.Key.Ref, e.Key.Alt,
				string(e.Stage), string(e.Code), e.Detail); err != nil {
				return fmt.Errorf("append exclusion %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// Exclusions returns every recorded exclusion in insertion order.
func (s *Store) Exclusions() ([]qc.Exclusion, error) {
	rows, err := s.db.Query(`SELECT chrom, pos, ref, alt, stage, reason, detail FROM exclusions`)
	if err != nil {
		return nil, fmt.Errorf("query exclusions: %w", err)
	}
	defer rows.Close()

	var out []qc.Exclusion
	for rows.Next() {
		var e qc.Exclusion
		var stage, code string
		if err := rows.Scan(&e.Key.Chrom, &e.Key.Pos, &e.Key.Ref, &e.Key.Alt, &stage, &code, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		e.Stage = qc.Stage(stage)
		e.Code = qc.Code(code)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exclusions: %w", err)
	}
	return out, nil
}

// Excluded reports whether key was excluded after loading, and why.
func (s *Store) Excluded(key vcf.Key) (qc.Code, bool, error) {
	var code string
	rows, err := s.db.Query(`SELECT reason FROM exclusions
		WHERE chrom=? AND pos=? AND ref=? AND alt=? AND stage <> 'load' LIMIT 1`,
		key.Chrom, key.Pos, key.Ref, key.Alt)
	if err != nil {
		return "", false, fmt.Errorf("query exclusion %s: %w", key, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	if err := rows.Scan(&code); err != nil {
		return "", false, fmt.Errorf("scan exclusion %s: %w", key, err)
	}
	return qc.Code(code), true, nil
}
