package store

import (
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/analysis"
	"github.com/inodb/vibe-attn/internal/vcf"
)

const deltaColumns = `chrom, pos, ref, alt, contrast, layer, head, position, distance, delta, abs_delta`

// WriteDeltas appends attention delta rows.
func (s *Store) WriteDeltas(deltas []analysis.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	return s.appendRows(TableAttentionDeltas, func(a *goduckdb.Appender) error {
		for _, d := range deltas {
			if err := a.AppendRow(d.Key.Chrom, d.Key.Pos, d.Key.Ref, d.Key.Alt, d.Contrast,
				int64(d.Layer), int64(d.Head), int64(d.Position), int64(d.Distance),
				d.Delta, d.AbsDelta); err != nil {
				return fmt.Errorf("append delta %s: %w", d.Key, err)
			}
		}
		return nil
	})
}

// ReadDeltas returns the delta rows of one variant ordered by contrast,
// layer, head and position.
func (s *Store) ReadDeltas(key vcf.Key) ([]analysis.Delta, error) {
	rows, err := s.db.Query(`SELECT `+deltaColumns+` FROM attention_deltas
		WHERE chrom=? AND pos=? AND ref=? AND alt=?
		ORDER BY contrast, layer, head, position`,
		key.Chrom, key.Pos, key.Ref, key.Alt)
	if err != nil {
		return nil, fmt.Errorf("query deltas %s: %w", key, err)
	}
	defer rows.Close()

	var out []analysis.Delta
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deltas: %w", err)
	}
	return out, nil
}

// ForEachDeltaGroup streams the deltas of every non-excluded variant and
// calls fn once per variant and contrast. fn must not use the store: the
// result set stays open while it runs.
func (s *Store) ForEachDeltaGroup(fn func(key vcf.Key, contrast string, deltas []analysis.Delta) error) error {
	rows, err := s.db.Query(`SELECT ` + deltaColumns + ` FROM attention_deltas d
		WHERE ` + notExcluded("d") + `
		ORDER BY chrom, pos, ref, alt, contrast, layer, head, position`)
	if err != nil {
		return fmt.Errorf("query deltas: %w", err)
	}
	defer rows.Close()

	var group []analysis.Delta
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		err := fn(group[0].Key, group[0].Contrast, group)
		group = nil
		return err
	}
	for rows.Next() {
		d, err := scanDelta(rows)
		if err != nil {
			return err
		}
		if len(group) > 0 && (group[0].Key != d.Key || group[0].Contrast != d.Contrast) {
			if err := flush(); err != nil {
				return err
			}
		}
		group = append(group, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate deltas: %w", err)
	}
	return flush()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelta(row scanner) (analysis.Delta, error) {
	var d analysis.Delta
	var layer, head, position, distance int64
	if err := row.Scan(&d.Key.Chrom, &d.Key.Pos, &d.Key.Ref, &d.Key.Alt, &d.Contrast,
		&layer, &head, &position, &distance, &d.Delta, &d.AbsDelta); err != nil {
		return d, fmt.Errorf("scan delta: %w", err)
	}
	d.Layer, d.Head, d.Position, d.Distance = int(layer), int(head), int(position), int(distance)
	return d, nil
}
