package store

import (
	"database/sql"
	"fmt"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/variants"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// WriteVariants appends cleaned variant records. Duplicate keys are written
// once.
func (s *Store) WriteVariants(records []variants.Record) error {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[vcf.Key]bool, len(records))
	return s.appendRows(TableVariants, func(a *goduckdb.Appender) error {
		for _, r := range records {
			if seen[r.Key] {
				continue
			}
			seen[r.Key] = true
			if err := a.AppendRow(r.Chrom, r.Pos, r.Ref, r.Alt, r.ID, r.Gene, r.Significance, r.FunctionalClass); err != nil {
				return fmt.Errorf("append variant %s: %w", r.Key, err)
			}
		}
		return nil
	})
}

// ReadVariants returns every variant not excluded by a later stage, in
// genomic order.
func (s *Store) ReadVariants() ([]variants.Record, error) {
	rows, err := s.db.Query(`SELECT v.chrom, v.pos, v.ref, v.alt, v.id, v.gene, v.significance, v.functional_class
		FROM variants v
		WHERE ` + notExcluded("v"))
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var records []variants.Record
	for rows.Next() {
		var r variants.Record
		if err := rows.Scan(&r.Chrom, &r.Pos, &r.Ref, &r.Alt, &r.ID, &r.Gene, &r.Significance, &r.FunctionalClass); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	variants.SortRecords(records)
	return records, nil
}

// LookupVariant returns the stored record for key.
func (s *Store) LookupVariant(key vcf.Key) (variants.Record, bool, error) {
	r := variants.Record{Key: key}
	err := s.db.QueryRow(`SELECT id, gene, significance, functional_class
		FROM variants WHERE chrom=? AND pos=? AND ref=? AND alt=?`,
		key.Chrom, key.Pos, key.Ref, key.Alt).Scan(&r.ID, &r.Gene, &r.Significance, &r.FunctionalClass)
	if err == sql.ErrNoRows {
		return variants.Record{}, false, nil
	}
	if err != nil {
		return variants.Record{}, false, fmt.Errorf("lookup variant %s: %w", key, err)
	}
	return r, true, nil
}

// ImportVariantTable reads a cleaned CSV or TSV variant table with DuckDB's
// read_csv. The header must name chrom, pos, ref, alt and significance;
// functional_class, id and gene are optional. Significance labels are
// normalized. The records are returned for filtering, not written.
func (s *Store) ImportVariantTable(path string) ([]variants.Record, error) {
	source := fmt.Sprintf(`read_csv('%s', header=true, all_varchar=true)`, quote(path))

	cols, err := s.tableColumns(source)
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	for _, c := range []string{"chrom", "pos", "ref", "alt", "significance"} {
		if !cols[c] {
			return nil, fmt.Errorf("variant table %s: missing column %q", path, c)
		}
	}
	optional := func(c string) string {
		if cols[c] {
			return fmt.Sprintf("coalesce(%s, '')", c)
		}
		return "''"
	}

	query := fmt.Sprintf(`SELECT chrom, CAST(pos AS BIGINT), upper(ref), upper(alt),
		%s, %s, coalesce(significance, ''), %s
		FROM %s`, optional("id"), optional("gene"), optional("functional_class"), source)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("load variant table %s: %w", path, err)
	}
	defer rows.Close()

	var records []variants.Record
	for rows.Next() {
		var r variants.Record
		var sig, fc string
		if err := rows.Scan(&r.Chrom, &r.Pos, &r.Ref, &r.Alt, &r.ID, &r.Gene, &sig, &fc); err != nil {
			return nil, fmt.Errorf("scan variant table row: %w", err)
		}
		r.Chrom = vcf.NormalizeChrom(r.Chrom)
		r.Significance = variants.NormalizeSignificance(sig)
		r.FunctionalClass = fc
		if fc == "" {
			r.FunctionalClass = variants.FunctionalClassUnknown
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant table: %w", err)
	}
	return records, nil
}

// tableColumns returns the lower-cased column names of a table expression.
func (s *Store) tableColumns(source string) (map[string]bool, error) {
	rows, err := s.db.Query("SELECT * FROM " + source + " LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[strings.ToLower(n)] = true
	}
	return cols, nil
}
