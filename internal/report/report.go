// Package report draws the summary figures: centrality by layer, the
// distance-decay profile, and the patch recovery histogram.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/store"
)

const (
	width  = 6 * vg.Inch
	height = 4 * vg.Inch
)

// Options controls figure output.
type Options struct {
	Dir         string
	Format      string // png, svg or pdf
	Contrast    string // alt or patched
	MaxDistance int    // last token distance in the decay profile
	Bins        int    // recovery histogram bins
}

// Write renders every figure from s into opts.Dir and returns the file paths.
// Figures without data are skipped.
func Write(s *store.Store, opts Options, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	path := func(name string) string {
		return filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.%s", name, opts.Contrast, opts.Format))
	}

	var written []string

	layers, err := s.CentralityByLayer(opts.Contrast)
	if err != nil {
		return nil, err
	}
	if len(layers) > 0 {
		p := path("centrality_by_layer")
		if err := CentralityByLayer(layers, p); err != nil {
			return nil, err
		}
		written = append(written, p)
	} else {
		logger.Warn("no layer summaries, skipping centrality figure")
	}

	profile, err := s.DistanceProfile(opts.Contrast, opts.MaxDistance)
	if err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		p := path("decay_profile")
		if err := DecayProfile(profile, p); err != nil {
			return nil, err
		}
		written = append(written, p)
	} else {
		logger.Warn("no deltas, skipping decay profile")
	}

	results, err := s.ReadPatchResults()
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		p := filepath.Join(opts.Dir, "patch_recovery."+opts.Format)
		if err := RecoveryHistogram(results, opts.Bins, p); err != nil {
			return nil, err
		}
		written = append(written, p)
	} else {
		logger.Warn("no patch results, skipping recovery histogram")
	}

	for _, w := range written {
		logger.Info("figure written", zap.String("path", w))
	}
	return written, nil
}

// CentralityByLayer plots mean centrality per layer, one line per
// significance class.
func CentralityByLayer(points []store.LayerPoint, path string) error {
	bySig := make(map[string]plotter.XYs)
	for _, pt := range points {
		bySig[pt.Significance] = append(bySig[pt.Significance], plotter.XY{X: float64(pt.Layer), Y: pt.MeanCentrality})
	}

	p := plot.New()
	p.Title.Text = "Attention change centrality by layer"
	p.X.Label.Text = "Layer"
	p.Y.Label.Text = "Mean centrality"
	p.Y.Min, p.Y.Max = 0, 1
	if err := addLines(p, bySig); err != nil {
		return err
	}
	return save(p, path)
}

// DecayProfile plots mean delta magnitude against token distance from the
// variant, one line per significance class.
func DecayProfile(points []store.ProfilePoint, path string) error {
	bySig := make(map[string]plotter.XYs)
	for _, pt := range points {
		bySig[pt.Significance] = append(bySig[pt.Significance], plotter.XY{X: float64(pt.Distance), Y: pt.MeanAbsDelta})
	}

	p := plot.New()
	p.Title.Text = "Attention change by distance from variant"
	p.X.Label.Text = "Token distance"
	p.Y.Label.Text = "Mean |delta|"
	if err := addLines(p, bySig); err != nil {
		return err
	}
	return save(p, path)
}

// RecoveryHistogram plots the distribution of patch recovery.
func RecoveryHistogram(results []patch.Result, bins int, path string) error {
	if bins < 1 {
		bins = 20
	}
	vals := make(plotter.Values, len(results))
	for i, r := range results {
		vals[i] = r.Recovery
	}
	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return fmt.Errorf("build recovery histogram: %w", err)
	}

	agg := patch.Summarize(results)
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Patch recovery (n=%d, causal %.0f%%)", agg.N, agg.CausalFraction*100)
	p.X.Label.Text = "Recovery"
	p.Y.Label.Text = "Variants"
	p.Add(h)
	return save(p, path)
}

func addLines(p *plot.Plot, series map[string]plotter.XYs) error {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	var args []interface{}
	for _, name := range names {
		xys := series[name]
		sort.Slice(xys, func(i, j int) bool { return xys[i].X < xys[j].X })
		args = append(args, name, xys)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return fmt.Errorf("add lines: %w", err)
	}
	p.Legend.Top = true
	return nil
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
