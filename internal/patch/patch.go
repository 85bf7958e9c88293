// Package patch performs activation patching: it replays the reference
// sequence with the variant token's hidden state taken from the alternate
// run and measures how far the resulting attention moves toward the
// alternate attention.
package patch

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inodb/vibe-attn/internal/model"
	"github.com/inodb/vibe-attn/internal/runner"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// Result compares reference, alternate and patched attention for one variant.
type Result struct {
	Key            vcf.Key
	Layer          int
	Position       int     // token whose hidden state was patched
	DistRefAlt     float64 // Frobenius distance, reference vs alternate
	DistPatchedAlt float64 // Frobenius distance, patched vs alternate
	CorrRefAlt     float64
	CorrPatchedAlt float64
	Recovery       float64 // 1 - DistPatchedAlt/DistRefAlt
	Causal         bool    // patched is strictly closer to alternate than reference is
}

// Patcher patches hidden state entering a fixed layer.
type Patcher struct {
	Layer int
}

// New returns a Patcher for layer. Layer 0 is rejected: the hidden state
// entering it is the token embedding, so patching the variant token there
// replays the alternate sequence and recovery is 1 for any model.
func New(layer int) (*Patcher, error) {
	if layer < 1 {
		return nil, fmt.Errorf("patch layer must be at least 1, got %d", layer)
	}
	return &Patcher{Layer: layer}, nil
}

// Patch runs the reference tokens with the variant token's hidden state
// replaced by the alternate run's and returns the patched attention.
func (p *Patcher) Patch(ctx context.Context, m model.Model, res *runner.Result) (model.Attention, error) {
	return p.PatchAt(ctx, m, res, res.VariantToken)
}

// PatchAt is Patch for an arbitrary token position.
func (p *Patcher) PatchAt(ctx context.Context, m model.Model, res *runner.Result, position int) (model.Attention, error) {
	if n := res.Ref.Attention.Layers(); p.Layer >= n {
		return nil, fmt.Errorf("patch layer %d outside model with %d layers", p.Layer, n)
	}
	hidden, err := res.Alt.HiddenAt(p.Layer, position)
	if err != nil {
		return nil, fmt.Errorf("alternate hidden state for %s: %w", res.Pair.Key, err)
	}
	out, err := m.Forward(ctx, res.Tokens.IDs, model.Patch{
		Layer:    p.Layer,
		Position: position,
		Hidden:   hidden,
	})
	if err != nil {
		return nil, fmt.Errorf("forward patched reference for %s: %w", res.Pair.Key, err)
	}
	if !out.Attention.SameShape(res.Ref.Attention) {
		return nil, fmt.Errorf("patched attention shape differs from reference for %s", res.Pair.Key)
	}
	return out.Attention, nil
}

// Evaluate patches the variant token and compares the three tensors from
// the patch layer onward. Earlier layers are identical in the reference and
// patched runs and are left out. The full patched attention is returned
// alongside the comparison.
func (p *Patcher) Evaluate(ctx context.Context, m model.Model, res *runner.Result) (Result, model.Attention, error) {
	patched, err := p.Patch(ctx, m, res)
	if err != nil {
		return Result{}, nil, err
	}
	r, err := Compare(res.Ref.Attention.From(p.Layer), res.Alt.Attention.From(p.Layer), patched.From(p.Layer))
	if err != nil {
		return Result{}, nil, fmt.Errorf("compare %s: %w", res.Pair.Key, err)
	}
	r.Key = res.Pair.Key
	r.Layer = p.Layer
	r.Position = res.VariantToken
	return r, patched, nil
}

// Compare computes distances and correlations between the reference,
// alternate and patched tensors.
func Compare(ref, alt, patched model.Attention) (Result, error) {
	if !ref.SameShape(alt) || !ref.SameShape(patched) {
		return Result{}, fmt.Errorf("attention tensors differ in shape")
	}
	r, a, p := ref.Flatten(), alt.Flatten(), patched.Flatten()
	if len(r) == 0 {
		return Result{}, fmt.Errorf("empty attention tensor")
	}

	res := Result{
		DistRefAlt:     floats.Distance(r, a, 2),
		DistPatchedAlt: floats.Distance(p, a, 2),
		CorrRefAlt:     Correlation(r, a),
		CorrPatchedAlt: Correlation(p, a),
	}
	if res.DistRefAlt > 0 {
		res.Recovery = 1 - res.DistPatchedAlt/res.DistRefAlt
	}
	res.Causal = res.DistPatchedAlt < res.DistRefAlt
	return res, nil
}

// Correlation is the Pearson correlation of x and y. When either side has
// no variance it is 1 for identical inputs and 0 otherwise.
func Correlation(x, y []float64) float64 {
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		if floats.Equal(x, y) {
			return 1
		}
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// Aggregate summarizes patch results over a set of variants.
type Aggregate struct {
	N                  int
	MeanDistRefAlt     float64
	MeanDistPatchedAlt float64
	MeanRecovery       float64
	CausalFraction     float64

	// Supported is true when patched attention is on average closer to the
	// alternate than the reference is.
	Supported bool
}

// Summarize aggregates results. An empty input is never Supported.
func Summarize(results []Result) Aggregate {
	agg := Aggregate{N: len(results)}
	if agg.N == 0 {
		return agg
	}
	var causal int
	for _, r := range results {
		agg.MeanDistRefAlt += r.DistRefAlt
		agg.MeanDistPatchedAlt += r.DistPatchedAlt
		agg.MeanRecovery += r.Recovery
		if r.Causal {
			causal++
		}
	}
	n := float64(agg.N)
	agg.MeanDistRefAlt /= n
	agg.MeanDistPatchedAlt /= n
	agg.MeanRecovery /= n
	agg.CausalFraction = float64(causal) / n
	agg.Supported = agg.MeanDistPatchedAlt < agg.MeanDistRefAlt
	return agg
}
