package store

import (
	"fmt"
	"strings"
)

// Export writes a stage table to path with DuckDB's COPY. format is
// "parquet" or "csv".
func (s *Store) Export(table, path, format string) error {
	if !knownTable(table) {
		return fmt.Errorf("unknown table %q (want one of %s)", table, strings.Join(Tables, ", "))
	}
	var opts string
	switch strings.ToLower(format) {
	case "parquet":
		opts = "FORMAT PARQUET"
	case "csv":
		opts = "FORMAT CSV, HEADER"
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	query := fmt.Sprintf(`COPY %s TO '%s' (%s)`, table, quote(path), opts)
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("export %s to %s: %w", table, path, err)
	}
	return nil
}
