package analysis

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/variants"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// VariantSummary holds the distance statistics of one variant and contrast.
type VariantSummary struct {
	Key             vcf.Key
	Contrast        string
	Significance    string
	FunctionalClass string
	Stats
}

// LayerSummary holds the distance statistics of one layer.
type LayerSummary struct {
	Key      vcf.Key
	Contrast string
	Layer    int
	Stats
}

// Summarize measures the deltas of one variant and contrast overall and per
// layer. A variant with no delta mass is returned as a ZERO_DELTA exclusion.
// Layers without mass are omitted from the layer summaries.
func Summarize(rec variants.Record, contrast string, deltas []Delta, radius int) (VariantSummary, []LayerSummary, error) {
	s, ok := Measure(deltas, radius)
	if !ok {
		return VariantSummary{}, nil, qc.Exclude(rec.Key, qc.StageAnalyze, qc.CodeZeroDelta,
			"%s attention identical to reference", contrast)
	}
	vs := VariantSummary{
		Key:             rec.Key,
		Contrast:        contrast,
		Significance:    rec.Significance,
		FunctionalClass: rec.FunctionalClass,
		Stats:           s,
	}

	byLayer := make(map[int][]Delta)
	for _, d := range deltas {
		byLayer[d.Layer] = append(byLayer[d.Layer], d)
	}
	layers := make([]int, 0, len(byLayer))
	for l := range byLayer {
		layers = append(layers, l)
	}
	sort.Ints(layers)

	var ls []LayerSummary
	for _, l := range layers {
		st, ok := Measure(byLayer[l], radius)
		if !ok {
			continue
		}
		ls = append(ls, LayerSummary{Key: rec.Key, Contrast: contrast, Layer: l, Stats: st})
	}
	return vs, ls, nil
}

// Grouping names the stratification of a GroupSummary.
type Grouping string

const (
	BySignificance    Grouping = "significance"
	ByFunctionalClass Grouping = "functional_class"
	ByBoth            Grouping = "significance+functional_class"
)

// GroupSummary aggregates variant summaries sharing labels.
type GroupSummary struct {
	Grouping        Grouping
	Contrast        string
	Significance    string // empty when grouped by functional class only
	FunctionalClass string // empty when grouped by significance only
	N               int

	MeanCentrality  float64
	StdCentrality   float64
	MeanDecayLength float64
	MeanDistance    float64
	MeanDecayCorr   float64
	MeanRecovery    float64 // over variants with a patch result
	CausalFraction  float64
	PatchedVariants int
	Warning         string
}

// Group aggregates summaries by significance, by functional class and by
// both, separately for each contrast. Groups with fewer than minGroup
// variants carry a Warning. patches may be nil.
func Group(summaries []VariantSummary, patches map[vcf.Key]patch.Result, minGroup int) []GroupSummary {
	type groupKey struct {
		grouping Grouping
		contrast string
		sig, fc  string
	}
	members := make(map[groupKey][]VariantSummary)
	for _, s := range summaries {
		for _, k := range []groupKey{
			{BySignificance, s.Contrast, s.Significance, ""},
			{ByFunctionalClass, s.Contrast, "", s.FunctionalClass},
			{ByBoth, s.Contrast, s.Significance, s.FunctionalClass},
		} {
			members[k] = append(members[k], s)
		}
	}

	keys := make([]groupKey, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	order := map[Grouping]int{BySignificance: 0, ByFunctionalClass: 1, ByBoth: 2}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.grouping != b.grouping {
			return order[a.grouping] < order[b.grouping]
		}
		if a.contrast != b.contrast {
			return a.contrast < b.contrast
		}
		if a.sig != b.sig {
			return a.sig < b.sig
		}
		return a.fc < b.fc
	})

	out := make([]GroupSummary, 0, len(keys))
	for _, k := range keys {
		g := aggregate(members[k], patches)
		g.Grouping = k.grouping
		g.Contrast = k.contrast
		g.Significance = k.sig
		g.FunctionalClass = k.fc
		if g.N < minGroup {
			g.Warning = fmt.Sprintf("only %d variants, fewer than %d", g.N, minGroup)
		}
		out = append(out, g)
	}
	return out
}

func aggregate(ss []VariantSummary, patches map[vcf.Key]patch.Result) GroupSummary {
	g := GroupSummary{N: len(ss)}
	cent := make([]float64, len(ss))
	var decay, dist, corr float64
	var causal int
	for i, s := range ss {
		cent[i] = s.Centrality
		decay += float64(s.DecayLength)
		dist += s.MeanDistance
		corr += s.DecayCorr
		if p, ok := patches[s.Key]; ok {
			g.PatchedVariants++
			g.MeanRecovery += p.Recovery
			if p.Causal {
				causal++
			}
		}
	}
	n := float64(len(ss))
	if len(ss) > 1 {
		g.MeanCentrality, g.StdCentrality = stat.MeanStdDev(cent, nil)
	} else {
		g.MeanCentrality = cent[0]
	}
	g.MeanDecayLength = decay / n
	g.MeanDistance = dist / n
	g.MeanDecayCorr = corr / n
	if g.PatchedVariants > 0 {
		g.MeanRecovery /= float64(g.PatchedVariants)
		g.CausalFraction = float64(causal) / float64(g.PatchedVariants)
	}
	return g
}
