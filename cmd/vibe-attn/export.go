package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/inodb/vibe-attn/internal/genome"
	"github.com/inodb/vibe-attn/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <table> <path>",
		Short: "Write a stage table to Parquet or CSV",
		Long: fmt.Sprintf(`Write a stage table to Parquet or CSV. The format follows the file
extension unless --format is given.

Tables: %s`, strings.Join(store.Tables, ", ")),
		Example: `  vibe-attn export variant_summaries summaries.parquet
  vibe-attn export exclusions exclusions.csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, nil)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer s.Close()

			table, path := args[0], args[1]
			if format == "" {
				format = exportFormat(path)
			}
			if err := s.Export(table, path, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", table, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "parquet or csv")
	return cmd
}

// exportFormat picks the format from a file extension; anything that is not
// CSV is written as Parquet.
func exportFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	}
	return "parquet"
}

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded stage runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, nil)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.Runs()
			if err != nil {
				return err
			}
			return writeRuns(cmd.OutOrStdout(), runs)
		},
	}
}

func writeRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTAGE\tMODEL\tSTARTED\tDURATION\tIN\tOUT\tEXCLUDED")
	for _, r := range runs {
		model := r.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Stage, model,
			r.Started.Format(time.RFC3339),
			r.Finished.Sub(r.Started).Round(time.Millisecond),
			r.In, r.Out, r.Excluded)
	}
	return tw.Flush()
}

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index [fasta]",
		Short: "Write the .fai index for a reference FASTA",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, nil)
			if err != nil {
				return err
			}
			path := cfg.Genome.FASTA
			if len(args) == 1 {
				path = args[0]
			}
			return indexFASTA(cmd.OutOrStdout(), path)
		},
	}
}

func indexFASTA(w io.Writer, path string) error {
	fmt.Fprintf(w, "  Indexing %s...\n", filepath.Base(path))
	if err := genome.BuildIndex(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "    Done: %s.fai\n", filepath.Base(path))
	return nil
}
