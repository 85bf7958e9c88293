package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/qc"
)

// Run records one invocation of a stage.
type Run struct {
	ID       string
	Stage    qc.Stage
	Model    string
	Started  time.Time
	Finished time.Time
	In       int64
	Out      int64
	Excluded int64
}

// StartRun returns a new run with a fresh ID, started now.
func StartRun(stage qc.Stage) *Run {
	return &Run{ID: uuid.NewString(), Stage: stage, Started: time.Now().UTC()}
}

// FinishRun stamps r as finished and writes it to the runs table.
func (s *Store) FinishRun(r *Run) error {
	r.Finished = time.Now().UTC()
	return s.appendRows(TableRuns, func(a *goduckdb.Appender) error {
		if err := a.AppendRow(r.ID, string(r.Stage), r.Model, r.Started, r.Finished, r.In, r.Out, r.Excluded); err != nil {
			return fmt.Errorf("append run %s: %w", r.ID, err)
		}
		return nil
	})
}

// Runs returns every recorded run, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, stage, model, started, finished, n_in, n_out, n_excluded
		FROM runs ORDER BY started`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var stage string
		if err := rows.Scan(&r.ID, &stage, &r.Model, &r.Started, &r.Finished, &r.In, &r.Out, &r.Excluded); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Stage = qc.Stage(stage)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
