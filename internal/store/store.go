// Package store persists every pipeline stage in DuckDB. Each stage reads the
// previous stage's table and appends to its own with the Appender API.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/qc"
)

// Stage tables.
const (
	TableVariants         = "variants"
	TableExclusions       = "exclusions"
	TableSequencePairs    = "sequence_pairs"
	TableAttentionDeltas  = "attention_deltas"
	TablePatchResults     = "patch_results"
	TableVariantSummaries = "variant_summaries"
	TableLayerSummaries   = "layer_summaries"
	TableRuns             = "runs"
)

// Tables lists every table in creation order.
var Tables = []string{
	TableVariants, TableExclusions, TableSequencePairs, TableAttentionDeltas,
	TablePatchResults, TableVariantSummaries, TableLayerSummaries, TableRuns,
}

// stageTables maps each stage to the tables it writes, in pipeline order.
var stageTables = []struct {
	stage  qc.Stage
	tables []string
}{
	{qc.StageLoad, []string{TableVariants}},
	{qc.StageExtract, []string{TableSequencePairs}},
	{qc.StageRun, []string{TableAttentionDeltas, TablePatchResults}},
	{qc.StageAnalyze, []string{TableVariantSummaries, TableLayerSummaries}},
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS variants (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		id VARCHAR,
		gene VARCHAR,
		significance VARCHAR,
		functional_class VARCHAR,
		PRIMARY KEY (chrom, pos, ref, alt)
	)`,
	`CREATE TABLE IF NOT EXISTS exclusions (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		stage VARCHAR,
		reason VARCHAR,
		detail VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_pairs (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		window_start BIGINT,
		variant_offset BIGINT,
		ref_seq VARCHAR,
		alt_seq VARCHAR,
		PRIMARY KEY (chrom, pos, ref, alt)
	)`,
	`CREATE TABLE IF NOT EXISTS attention_deltas (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		contrast VARCHAR,
		layer BIGINT,
		head BIGINT,
		position BIGINT,
		distance BIGINT,
		delta DOUBLE,
		abs_delta DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS patch_results (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		patch_layer BIGINT,
		patch_position BIGINT,
		dist_ref_alt DOUBLE,
		dist_patched_alt DOUBLE,
		corr_ref_alt DOUBLE,
		corr_patched_alt DOUBLE,
		recovery DOUBLE,
		causal BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS variant_summaries (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		contrast VARCHAR,
		significance VARCHAR,
		functional_class VARCHAR,
		total_mass DOUBLE,
		centrality DOUBLE,
		decay_length BIGINT,
		mean_distance DOUBLE,
		decay_corr DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS layer_summaries (
		chrom VARCHAR,
		pos BIGINT,
		ref VARCHAR,
		alt VARCHAR,
		contrast VARCHAR,
		layer BIGINT,
		total_mass DOUBLE,
		centrality DOUBLE,
		decay_length BIGINT,
		mean_distance DOUBLE,
		decay_corr DOUBLE
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		stage VARCHAR,
		model VARCHAR,
		started TIMESTAMP,
		finished TIMESTAMP,
		n_in BIGINT,
		n_out BIGINT,
		n_excluded BIGINT
	)`,
}

// Store manages a DuckDB connection holding the stage tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of rows in a stage table.
func (s *Store) Count(table string) (int64, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ResetStage removes the output and exclusions of stage and of every stage
// after it, so the stage can be rerun from its input table.
func (s *Store) ResetStage(stage qc.Stage) error {
	from := -1
	for i, st := range stageTables {
		if st.stage == stage {
			from = i
		}
	}
	if from < 0 {
		return fmt.Errorf("unknown stage %q", stage)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stageTables[from:] {
		for _, table := range st.tables {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.Exec("DELETE FROM exclusions WHERE stage = ?", string(st.stage)); err != nil {
			return fmt.Errorf("clear %s exclusions: %w", st.stage, err)
		}
	}
	return tx.Commit()
}

// appendRows opens an Appender on table and flushes it after fn returns.
func (s *Store) appendRows(table string, fn func(a *goduckdb.Appender) error) error {
	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	if err := fn(appender); err != nil {
		return err
	}
	return appender.Flush()
}

func knownTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}

// quote escapes a string for use inside a single-quoted SQL literal.
func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// notExcluded filters rows of alias whose key was excluded after loading.
// Load-stage exclusions are skipped since a DUPLICATE shares its key with
// the kept record.
func notExcluded(alias string) string {
	return fmt.Sprintf(`NOT EXISTS (SELECT 1 FROM exclusions e
		WHERE e.chrom = %[1]s.chrom AND e.pos = %[1]s.pos AND e.ref = %[1]s.ref AND e.alt = %[1]s.alt
		AND e.stage <> 'load')`, alias)
}
