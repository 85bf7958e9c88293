package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chr1 = "GCTAAAGACAATTACATAACATACACGTCAGCACGAAACTTGTTGGCCCAGTGTGAATCGC" +
	"TTAAGGGTTAAGTAAGTGTGATGCATACGCCTTTACTTGCTGTGTCCACCCCATCGGACTGGCATTTTT" +
	"ATTACACTCAGAAACAGAACTCGGGTAATTTTGACAGGTCACGCAGAGGCGCGCCCTCCTGAAGTGCGTG"

const clinvar = `##fileformat=VCFv4.1
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
1	60	1	G	A	.	.	CLNSIG=Pathogenic;MC=SO:0001583|missense_variant
1	100	2	G	A	.	.	CLNSIG=Likely_pathogenic;MC=SO:0001587|nonsense
1	120	3	C	T	.	.	CLNSIG=Benign;MC=SO:0001819|synonymous_variant
1	140	4	A	G	.	.	CLNSIG=Likely_benign;MC=SO:0001583|missense_variant
1	30	5	CA	C	.	.	CLNSIG=Pathogenic
1	40	6	T	.	.	.	CLNSIG=Pathogenic
`

const smallModel = `model:
  layers: 2
  heads: 2
  dim: 16
  kmer: 3
  cls: true
  max_tokens: 64
  seed: 5
run:
  batch_size: 2
`

type workspace struct {
	dir   string
	cfg   string
	db    string
	vcf   string
	fasta string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	w := workspace{
		dir:   dir,
		cfg:   filepath.Join(dir, "config.yaml"),
		db:    filepath.Join(dir, "attn.duckdb"),
		vcf:   filepath.Join(dir, "clinvar.vcf"),
		fasta: filepath.Join(dir, "ref.fa"),
	}

	var fa strings.Builder
	fa.WriteString(">chr1\n")
	for i := 0; i < len(chr1); i += 60 {
		fa.WriteString(chr1[i:min(i+60, len(chr1))])
		fa.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(w.fasta, []byte(fa.String()), 0644))
	require.NoError(t, os.WriteFile(w.vcf, []byte(clinvar), 0644))
	require.NoError(t, os.WriteFile(w.cfg, []byte(smallModel), 0644))
	return w
}

// execute runs the CLI against the workspace and returns stdout and stderr.
func (w workspace) execute(args ...string) (string, string, error) {
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", w.cfg, "--db", w.db}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestPipelineCommand(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := w.execute("index", w.fasta)
	require.NoError(t, err)
	assert.FileExists(t, w.fasta+".fai")

	out := filepath.Join(w.dir, "groups.tsv")
	_, stderr, err := w.execute("pipeline",
		"--vcf", w.vcf,
		"--fasta", w.fasta,
		"--window-size", "41",
		"--min-group", "1",
		"-o", out)
	require.NoError(t, err)

	assert.Contains(t, stderr, "in=6 out=4 excluded=2")
	assert.Contains(t, stderr, "Patching Summary:")
	assert.Contains(t, stderr, "NOT_SNV")
	assert.Contains(t, stderr, "NO_ALT")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "#Grouping\t"))
	assert.Contains(t, string(data), "pathogenic")
	assert.Contains(t, string(data), "benign")

	stdout, _, err := w.execute("runs")
	require.NoError(t, err)
	runs := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, runs, 5)
	for i, stage := range []string{"load", "extract", "run", "analyze"} {
		assert.Contains(t, runs[i+1], stage)
	}

	stdout, _, err = w.execute("report", "--dir", filepath.Join(w.dir, "figures"))
	require.NoError(t, err)
	paths := strings.Fields(stdout)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	csv := filepath.Join(w.dir, "summaries.csv")
	_, _, err = w.execute("export", "variant_summaries", csv)
	require.NoError(t, err)
	assert.FileExists(t, csv)
}

func TestStageCommands(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := w.execute("index", w.fasta)
	require.NoError(t, err)

	_, stderr, err := w.execute("load", "--vcf", w.vcf, "--significance", "pathogenic")
	require.NoError(t, err)
	assert.Contains(t, stderr, "in=6 out=2 excluded=4")

	_, stderr, err = w.execute("extract", "--fasta", w.fasta, "--window-size", "41")
	require.NoError(t, err)
	assert.Contains(t, stderr, "in=2 out=2 excluded=0")

	_, stderr, err = w.execute("run", "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, stderr, "in=2 out=2 excluded=0")

	stdout, _, err := w.execute("analyze", "--min-group", "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "#Grouping\t"))
	assert.NotContains(t, stdout, "\tbenign\t")
}

func TestConfigSetGet(t *testing.T) {
	w := newWorkspace(t)

	stdout, _, err := w.execute("config", "set", "run.workers", "4")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Set run.workers = 4")

	stdout, _, err = w.execute("config", "get", "run.workers")
	require.NoError(t, err)
	assert.Equal(t, "4\n", stdout)

	data, err := os.ReadFile(w.cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workers: 4")
	assert.Contains(t, string(data), "layers: 2")
	assert.NotContains(t, string(data), "centrality_radius")

	stdout, _, err = w.execute("config")
	require.NoError(t, err)
	assert.Contains(t, stdout, "centrality_radius: 1")
}

func TestConfig_InvalidValue(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("VIBE_ATTN_MODEL_KIND", "bogus")

	_, _, err := w.execute("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.kind")
}

func TestConfig_EnvOverridesFile(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("VIBE_ATTN_RUN_WORKERS", "7")

	stdout, _, err := w.execute("config", "get", "run.workers")
	require.NoError(t, err)
	assert.Equal(t, "7\n", stdout)
}

func TestExportFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"out.csv", "csv"},
		{"OUT.CSV", "csv"},
		{"out.parquet", "parquet"},
		{"out", "parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, exportFormat(tt.path))
		})
	}
}

func TestRun_ExitCodes(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.Equal(t, ExitSuccess, run([]string{"--version"}))
	assert.Equal(t, ExitError, run([]string{"no-such-command"}))
	assert.Equal(t, ExitError, run([]string{"export", "only-one-arg"}))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("yes"))
	assert.Equal(t, false, parseValue("off"))
	assert.Equal(t, 8, parseValue("8"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "remote", parseValue("remote"))
	assert.Equal(t, "pathogenic,benign", fmt.Sprint(parseValue("pathogenic,benign")))
}
