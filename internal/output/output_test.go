package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-attn/internal/analysis"
	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

func TestTabWriter_WriteAll(t *testing.T) {
	var buf bytes.Buffer
	w := NewTabWriter(&buf)

	groups := []analysis.GroupSummary{
		{
			Grouping: analysis.BySignificance, Contrast: analysis.ContrastAlt,
			Significance: "pathogenic", N: 12,
			MeanCentrality: 0.61234, StdCentrality: 0.1, MeanDecayLength: 2,
			PatchedVariants: 12, MeanRecovery: 0.9, CausalFraction: 1,
		},
		{
			Grouping: analysis.ByFunctionalClass, Contrast: analysis.ContrastAlt,
			FunctionalClass: "missense_variant", N: 2, Warning: "only 2 variants, fewer than 5",
		},
	}
	require.NoError(t, w.WriteAll(groups))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "#Grouping\tContrast"))

	cols := strings.Split(lines[1], "\t")
	require.Len(t, cols, 14)
	assert.Equal(t, "significance", cols[0])
	assert.Equal(t, "pathogenic", cols[2])
	assert.Equal(t, "-", cols[3])
	assert.Equal(t, "12", cols[4])
	assert.Equal(t, "0.6123", cols[5])
	assert.Equal(t, "0.9000", cols[11])
	assert.Equal(t, "-", cols[13])

	cols = strings.Split(lines[2], "\t")
	assert.Equal(t, "-", cols[2])
	assert.Equal(t, "missense_variant", cols[3])
	assert.Equal(t, "-", cols[11], "no patch results")
	assert.Equal(t, "only 2 variants, fewer than 5", cols[13])
}

func TestWritePatchSummary(t *testing.T) {
	var buf bytes.Buffer
	WritePatchSummary(&buf, patch.Aggregate{N: 4, MeanDistRefAlt: 0.5, MeanDistPatchedAlt: 0.1, MeanRecovery: 0.8, CausalFraction: 0.75, Supported: true})
	assert.Contains(t, buf.String(), "Variants:                 4")
	assert.Contains(t, buf.String(), "75.0%")
	assert.Contains(t, buf.String(), "supported")

	buf.Reset()
	WritePatchSummary(&buf, patch.Aggregate{})
	assert.Contains(t, buf.String(), "NOT supported")
}

func TestWriteExclusionSummary(t *testing.T) {
	k := vcf.Key{Chrom: "1", Pos: 1, Ref: "A", Alt: "C"}
	entries := []qc.Exclusion{
		{Key: k, Stage: qc.StageLoad, Code: qc.CodeNotSNV},
		{Key: k, Stage: qc.StageExtract, Code: qc.CodeRefMismatch},
		{Key: k, Stage: qc.StageExtract, Code: qc.CodeRefMismatch},
		{Key: k, Stage: qc.StageExtract, Code: qc.CodeOutOfBounds},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteExclusionSummary(&buf, entries))

	out := buf.String()
	assert.Contains(t, out, "Exclusions: 4")
	assert.Regexp(t, `extract\s+REF_MISMATCH\s+2`, out)
	assert.Regexp(t, `load\s+NOT_SNV\s+1`, out)
	assert.Less(t, strings.Index(out, "NOT_SNV"), strings.Index(out, "REF_MISMATCH"))
}
