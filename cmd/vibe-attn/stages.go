package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vibe-attn/internal/analysis"
	"github.com/inodb/vibe-attn/internal/config"
	"github.com/inodb/vibe-attn/internal/genome"
	"github.com/inodb/vibe-attn/internal/output"
	"github.com/inodb/vibe-attn/internal/pipeline"
	"github.com/inodb/vibe-attn/internal/report"
	"github.com/inodb/vibe-attn/internal/store"
	"github.com/inodb/vibe-attn/internal/variants"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// Flag to config key bindings, one set per stage.
var (
	loadFlags = map[string]string{
		"vcf":           "load.vcf",
		"significance":  "load.significance",
		"balance":       "load.balance",
		"max-per-class": "load.max_per_class",
		"seed":          "load.seed",
	}
	extractFlags = map[string]string{
		"fasta":       "genome.fasta",
		"window-size": "window.size",
	}
	runFlags = map[string]string{
		"model":       "model.kind",
		"model-url":   "model.url",
		"patch-layer": "patch.layer",
		"batch-size":  "run.batch_size",
		"workers":     "run.workers",
	}
	analyzeFlags = map[string]string{
		"radius":    "analysis.centrality_radius",
		"min-group": "analysis.min_group_size",
	}
	reportFlags = map[string]string{
		"dir":    "report.dir",
		"format": "report.format",
	}
)

func addLoadFlags(cmd *cobra.Command, table *string) {
	f := cmd.Flags()
	f.String("vcf", "", "ClinVar VCF, plain or gzipped (default data_dir/clinvar.vcf.gz)")
	f.StringVar(table, "table", "", "load a cleaned CSV/TSV variant table instead of a VCF")
	f.StringSlice("significance", []string{variants.SignificancePathogenic, variants.SignificanceBenign},
		"significance classes to keep: pathogenic, benign, vus, conflicting, other")
	f.Bool("balance", false, "downsample every class to the smallest")
	f.Int("max-per-class", 0, "cap on variants per class (0 = no cap)")
	f.Uint64("seed", 42, "seed for balancing")
}

func addExtractFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("fasta", "", "indexed reference FASTA (default data_dir/hg38.fa)")
	f.Int("window-size", pipeline.DefaultOptions().WindowSize, "window width in bp, odd so the variant has equal flanks")
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("model", config.ModelAttnNet, "model kind: attnnet or remote")
	f.String("model-url", "http://localhost:8000", "model server URL for --model remote")
	f.Int("patch-layer", pipeline.DefaultOptions().PatchLayer, "layer whose input is patched (at least 1)")
	f.Int("batch-size", pipeline.DefaultOptions().BatchSize, "variants per batch")
	f.Int("workers", pipeline.DefaultOptions().Workers, "model goroutines (0 = all CPUs)")
}

func addAnalyzeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("radius", pipeline.DefaultOptions().CentralityRadius, "token distance counted as central")
	f.Int("min-group", pipeline.DefaultOptions().MinGroupSize, "groups smaller than this get a warning")
}

func merge(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func newLoadCmd(a *app) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load and clean ClinVar SNVs",
		Example: `  vibe-attn load
  vibe-attn load --vcf clinvar.vcf.gz --balance
  vibe-attn load --table variants.tsv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, loadFlags)
			if err != nil {
				return err
			}
			s, p, err := a.openPipeline(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return load(p, cfg, table, cmd.ErrOrStderr())
		},
	}
	addLoadFlags(cmd, &table)
	return cmd
}

func load(p *pipeline.Pipeline, cfg config.Config, table string, w io.Writer) error {
	var counts pipeline.Counts
	if table != "" {
		var err error
		if counts, err = p.ImportTable(table); err != nil {
			return err
		}
	} else {
		src, err := vcf.Open(cfg.Load.VCF)
		if err != nil {
			return err
		}
		defer src.Close()
		if counts, err = p.Load(src); err != nil {
			return err
		}
	}
	printCounts(w, "load", counts)
	return nil
}

func newExtractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Cut reference and alternate windows around each variant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, extractFlags)
			if err != nil {
				return err
			}
			s, p, err := a.openPipeline(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return extract(p, cfg, cmd.ErrOrStderr())
		},
	}
	addExtractFlags(cmd)
	return cmd
}

func extract(p *pipeline.Pipeline, cfg config.Config, w io.Writer) error {
	ref, err := genome.OpenIndexed(cfg.Genome.FASTA)
	if err != nil {
		return err
	}
	defer ref.Close()

	counts, err := p.Extract(ref)
	if err != nil {
		return err
	}
	printCounts(w, "extract", counts)
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture attention and patch hidden state at the variant",
		Long: `Run every sequence pair through the model, record per-token attention
deltas, and patch the alternate hidden state at the variant token into the
reference pass. The causal claim holds when patching moves the reference
attention closer to the alternate attention on average.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, runFlags)
			if err != nil {
				return err
			}
			s, p, err := a.openPipeline(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return runModel(cmd.Context(), a, p, cfg, cmd.ErrOrStderr())
		},
	}
	addRunFlags(cmd)
	return cmd
}

func runModel(ctx context.Context, a *app, p *pipeline.Pipeline, cfg config.Config, w io.Writer) error {
	m, err := newModel(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	counts, agg, err := p.Run(ctx, m)
	if err != nil {
		return err
	}
	a.logger.Debug("model run finished", zap.String("model", m.Name()))
	printCounts(w, "run", counts)
	output.WritePatchSummary(w, agg)
	return nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize centrality and distance decay per group",
		Long: `Summarize the attention deltas of every variant, then group the summaries
by clinical significance, functional class, and both. The group table goes
to stdout (or --output); exclusions go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, analyzeFlags)
			if err != nil {
				return err
			}
			s, p, err := a.openPipeline(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			counts, groups, err := p.Analyze()
			if err != nil {
				return err
			}
			printCounts(cmd.ErrOrStderr(), "analyze", counts)
			agg, err := p.PatchAggregate()
			if err != nil {
				return err
			}
			if agg.N > 0 {
				output.WritePatchSummary(cmd.ErrOrStderr(), agg)
			}
			return writeResults(s, groups, outPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addAnalyzeFlags(cmd)
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "group table file (default stdout)")
	return cmd
}

// writeResults writes the group table and the exclusion summary.
func writeResults(s *store.Store, groups []analysis.GroupSummary, outPath string, stdout, stderr io.Writer) error {
	out := stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := output.NewTabWriter(out).WriteAll(groups); err != nil {
		return fmt.Errorf("write groups: %w", err)
	}

	entries, err := s.Exclusions()
	if err != nil {
		return err
	}
	return output.WriteExclusionSummary(stderr, entries)
}

func newReportCmd(a *app) *cobra.Command {
	opts := report.Options{Contrast: analysis.ContrastAlt}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Draw the summary figures",
		Example: `  vibe-attn report
  vibe-attn report --dir figures --format svg --contrast patched`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, reportFlags)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer s.Close()
			return writeReport(a, s, cfg, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.String("dir", "report", "output directory")
	f.String("format", "png", "figure format: png, svg or pdf")
	f.StringVar(&opts.Contrast, "contrast", analysis.ContrastAlt, "delta contrast: alt or patched")
	f.IntVar(&opts.MaxDistance, "max-distance", 50, "last token distance in the decay profile")
	f.IntVar(&opts.Bins, "bins", 20, "recovery histogram bins")
	return cmd
}

func writeReport(a *app, s *store.Store, cfg config.Config, opts report.Options, w io.Writer) error {
	switch opts.Contrast {
	case analysis.ContrastAlt, analysis.ContrastPatched:
	default:
		return fmt.Errorf("contrast must be %s or %s, got %q", analysis.ContrastAlt, analysis.ContrastPatched, opts.Contrast)
	}
	opts.Dir = cfg.Report.Dir
	opts.Format = cfg.Report.Format

	paths, err := report.Write(s, opts, a.logger)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
	return nil
}

func newPipelineCmd(a *app) *cobra.Command {
	var (
		table   string
		outPath string
		figures bool
	)
	reportOpts := report.Options{Contrast: analysis.ContrastAlt, MaxDistance: 50, Bins: 20}

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run load, extract, run and analyze in order",
		Example: `  vibe-attn pipeline
  vibe-attn pipeline --balance --workers 0 --report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := merge(loadFlags, extractFlags, runFlags, analyzeFlags)
			cfg, err := a.settings(cmd, flags)
			if err != nil {
				return err
			}
			s, p, err := a.openPipeline(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			stderr := cmd.ErrOrStderr()
			if err := load(p, cfg, table, stderr); err != nil {
				return err
			}
			if err := extract(p, cfg, stderr); err != nil {
				return err
			}
			if err := runModel(cmd.Context(), a, p, cfg, stderr); err != nil {
				return err
			}
			counts, groups, err := p.Analyze()
			if err != nil {
				return err
			}
			printCounts(stderr, "analyze", counts)
			if err := writeResults(s, groups, outPath, cmd.OutOrStdout(), stderr); err != nil {
				return err
			}
			if figures {
				return writeReport(a, s, cfg, reportOpts, stderr)
			}
			return nil
		},
	}

	addLoadFlags(cmd, &table)
	addExtractFlags(cmd)
	addRunFlags(cmd)
	addAnalyzeFlags(cmd)
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "group table file (default stdout)")
	cmd.Flags().BoolVar(&figures, "report", false, "draw the summary figures into report.dir")
	return cmd
}

func printCounts(w io.Writer, stage string, c pipeline.Counts) {
	fmt.Fprintf(w, "%-8s in=%d out=%d excluded=%d\n", stage, c.In, c.Out, c.Excluded)
}
