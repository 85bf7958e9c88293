package output

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/qc"
)

// WritePatchSummary writes the activation patching aggregate.
func WritePatchSummary(w io.Writer, agg patch.Aggregate) {
	verdict := "supported"
	if !agg.Supported {
		verdict = "NOT supported"
	}
	fmt.Fprintf(w, "\nPatching Summary:\n")
	fmt.Fprintf(w, "  Variants:                 %d\n", agg.N)
	fmt.Fprintf(w, "  Mean d(ref, alt):         %.6f\n", agg.MeanDistRefAlt)
	fmt.Fprintf(w, "  Mean d(patched, alt):     %.6f\n", agg.MeanDistPatchedAlt)
	fmt.Fprintf(w, "  Mean recovery:            %.4f\n", agg.MeanRecovery)
	fmt.Fprintf(w, "  Causal fraction:          %.1f%%\n", agg.CausalFraction*100)
	fmt.Fprintf(w, "  Causal claim:             %s\n", verdict)
}

// WriteExclusionSummary writes exclusion counts per stage and reason.
func WriteExclusionSummary(w io.Writer, entries []qc.Exclusion) error {
	byStage := make(map[qc.Stage][]qc.Exclusion)
	var stages []qc.Stage
	for _, e := range entries {
		if _, ok := byStage[e.Stage]; !ok {
			stages = append(stages, e.Stage)
		}
		byStage[e.Stage] = append(byStage[e.Stage], e)
	}

	fmt.Fprintf(w, "\nExclusions: %d\n", len(entries))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, st := range stages {
		for _, c := range qc.Counts(byStage[st]) {
			fmt.Fprintf(tw, "  %s\t%s\t%d\n", st, c.Code, c.Count)
		}
	}
	return tw.Flush()
}
