// Package output writes pipeline results for people to read.
package output

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/vibe-attn/internal/analysis"
)

// TabWriter writes group summaries in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Grouping",
			"Contrast",
			"Significance",
			"Functional_class",
			"N",
			"Mean_centrality",
			"SD_centrality",
			"Mean_decay_length",
			"Mean_distance",
			"Mean_decay_corr",
			"Patched",
			"Mean_recovery",
			"Causal_fraction",
			"Warning",
		},
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single group summary.
func (tw *TabWriter) Write(g analysis.GroupSummary) error {
	values := []string{
		string(g.Grouping),
		g.Contrast,
		orDash(g.Significance),
		orDash(g.FunctionalClass),
		strconv.Itoa(g.N),
		formatFloat(g.MeanCentrality),
		formatFloat(g.StdCentrality),
		formatFloat(g.MeanDecayLength),
		formatFloat(g.MeanDistance),
		formatFloat(g.MeanDecayCorr),
		strconv.Itoa(g.PatchedVariants),
		"-",
		"-",
		orDash(g.Warning),
	}
	if g.PatchedVariants > 0 {
		values[11] = formatFloat(g.MeanRecovery)
		values[12] = formatFloat(g.CausalFraction)
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// WriteAll writes the header and every group, then flushes.
func (tw *TabWriter) WriteAll(groups []analysis.GroupSummary) error {
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, g := range groups {
		if err := tw.Write(g); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
