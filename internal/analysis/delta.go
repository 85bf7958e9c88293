// Package analysis turns reference/alternate attention into per-position
// deltas and summarizes how the change is distributed around the variant.
package analysis

import (
	"math"

	"github.com/inodb/vibe-attn/internal/model"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// Contrasts compared against the reference attention.
const (
	ContrastAlt     = "alt"
	ContrastPatched = "patched"
)

// Delta is the change in attention received by one key token in one head,
// averaged over all query tokens.
type Delta struct {
	Key      vcf.Key
	Contrast string
	Layer    int
	Head     int
	Position int
	Distance int     // tokens from the variant token; -1 for special tokens
	Delta    float64 // signed mean of other - ref
	AbsDelta float64 // mean of |other - ref|
}

// Deltas computes one row per layer, head and key position. Shape
// disagreements and non-finite values are returned as *qc.Exclusion of the
// run stage, where deltas are produced.
func Deltas(key vcf.Key, contrast string, ref, other model.Attention, tokens model.Tokens, variantToken int) ([]Delta, error) {
	T := ref.Tokens()
	if !ref.SameShape(other) || T != tokens.Len() {
		return nil, qc.Exclude(key, qc.StageRun, qc.CodeShapeMismatch,
			"%s tensor does not match reference over %d tokens", contrast, tokens.Len())
	}
	if variantToken < 0 || variantToken >= T {
		return nil, qc.Exclude(key, qc.StageRun, qc.CodeShapeMismatch,
			"variant token %d outside [0,%d)", variantToken, T)
	}

	dist := make([]int, T)
	for k := range dist {
		if tokens.Spans[k].Special() {
			dist[k] = -1
			continue
		}
		d := k - variantToken
		if d < 0 {
			d = -d
		}
		dist[k] = d
	}

	out := make([]Delta, 0, ref.Layers()*ref.Heads()*T)
	sum := make([]float64, T)
	abs := make([]float64, T)
	for l := range ref {
		for h := range ref[l] {
			for k := range sum {
				sum[k], abs[k] = 0, 0
			}
			r, o := ref[l][h], other[l][h]
			for q := 0; q < T; q++ {
				rr, or := r.RawRowView(q), o.RawRowView(q)
				for k := 0; k < T; k++ {
					d := or[k] - rr[k]
					sum[k] += d
					abs[k] += math.Abs(d)
				}
			}
			for k := 0; k < T; k++ {
				d := Delta{
					Key:      key,
					Contrast: contrast,
					Layer:    l,
					Head:     h,
					Position: k,
					Distance: dist[k],
					Delta:    sum[k] / float64(T),
					AbsDelta: abs[k] / float64(T),
				}
				if math.IsNaN(d.Delta) || math.IsInf(d.Delta, 0) || math.IsNaN(d.AbsDelta) || math.IsInf(d.AbsDelta, 0) {
					return nil, qc.Exclude(key, qc.StageRun, qc.CodeNonFiniteDelta,
						"%s layer %d head %d position %d", contrast, l, h, k)
				}
				out = append(out, d)
			}
		}
	}
	return out, nil
}
