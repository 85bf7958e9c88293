package window

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-attn/internal/genome"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// 40 bp: position 21 (1-based) is 'G'.
const chr1 = "ACGTACGTACGTACGTACGTGCATGCATGCATGCATGCAT"

func newExtractor(t *testing.T, size int) *Extractor {
	t.Helper()
	ref := genome.NewMemoryReference(map[string]string{"chr1": chr1, "chr2": strings.ToLower(chr1)})
	e, err := NewExtractor(ref, size)
	require.NoError(t, err)
	return e
}

func TestExtract_SymmetricWindow(t *testing.T) {
	e := newExtractor(t, 11)

	p, err := e.Extract(vcf.Key{Chrom: "1", Pos: 21, Ref: "G", Alt: "T"})
	require.NoError(t, err)

	assert.Equal(t, 5, p.Offset)
	assert.Equal(t, int64(15), p.Start)
	assert.Equal(t, chr1[15:26], p.Ref)
	assert.Equal(t, byte('G'), p.Ref[p.Offset])
	assert.Equal(t, byte('T'), p.Alt[p.Offset])
	require.NoError(t, p.Validate())
}

func TestExtract_DiffersAtExactlyOnePosition(t *testing.T) {
	for _, size := range []int{1, 3, 11, 39} {
		e := newExtractor(t, size)
		for pos := int64(1); pos <= int64(len(chr1)); pos++ {
			base := string(chr1[pos-1])
			alt := "A"
			if base == "A" {
				alt = "C"
			}
			p, err := e.Extract(vcf.Key{Chrom: "chr1", Pos: pos, Ref: base, Alt: alt})
			if _, excluded := qc.AsExclusion(err); excluded {
				continue
			}
			require.NoError(t, err)
			require.Len(t, p.Ref, size)

			diffs := 0
			for i := range p.Ref {
				if p.Ref[i] != p.Alt[i] {
					diffs++
					assert.Equal(t, p.Offset, i)
				}
			}
			assert.Equal(t, 1, diffs, "size %d pos %d", size, pos)
		}
	}
}

func TestExtract_SoftMaskedReference(t *testing.T) {
	e := newExtractor(t, 5)

	p, err := e.Extract(vcf.Key{Chrom: "2", Pos: 21, Ref: "G", Alt: "A"})
	require.NoError(t, err)
	assert.Equal(t, "GTGCA", p.Ref)
	assert.Equal(t, "GTACA", p.Alt)
}

func TestExtract_Exclusions(t *testing.T) {
	e := newExtractor(t, 11)

	tests := []struct {
		name string
		key  vcf.Key
		code qc.Code
	}{
		{"reference mismatch", vcf.Key{Chrom: "1", Pos: 21, Ref: "C", Alt: "T"}, qc.CodeRefMismatch},
		{"left edge", vcf.Key{Chrom: "1", Pos: 3, Ref: "G", Alt: "T"}, qc.CodeOutOfBounds},
		{"right edge", vcf.Key{Chrom: "1", Pos: 38, Ref: "C", Alt: "T"}, qc.CodeOutOfBounds},
		{"unknown chromosome", vcf.Key{Chrom: "7", Pos: 21, Ref: "G", Alt: "T"}, qc.CodeUnknownChrom},
		{"indel", vcf.Key{Chrom: "1", Pos: 21, Ref: "GC", Alt: "G"}, qc.CodeNotSNV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.key)
			ex, ok := qc.AsExclusion(err)
			require.True(t, ok, "expected exclusion, got %v", err)
			assert.Equal(t, tt.code, ex.Code)
			assert.Equal(t, qc.StageExtract, ex.Stage)
			assert.Equal(t, tt.key, ex.Key)
		})
	}
}

func TestNewExtractor_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -3, 2, 40, 600} {
		_, err := NewExtractor(genome.NewMemoryReference(nil), size)
		assert.Error(t, err, "size %d", size)
	}
}

func TestExtract_EqualFlanks(t *testing.T) {
	for _, size := range []int{1, 3, 11, 39} {
		e := newExtractor(t, size)
		p, err := e.Extract(vcf.Key{Chrom: "1", Pos: 21, Ref: "G", Alt: "T"})
		require.NoError(t, err)
		assert.Equal(t, p.Offset, len(p.Ref)-1-p.Offset, "size %d", size)
		assert.Equal(t, int64(20), p.Start+int64(p.Offset))
	}
}

func TestPair_Validate(t *testing.T) {
	assert.Error(t, Pair{Ref: "ACGT", Alt: "ACGT", Offset: 1}.Validate())
	assert.Error(t, Pair{Ref: "ACGT", Alt: "TCGA", Offset: 0}.Validate())
	assert.Error(t, Pair{Ref: "ACGT", Alt: "ACG", Offset: 1}.Validate())
	assert.NoError(t, Pair{Ref: "ACGT", Alt: "AGGT", Offset: 1}.Validate())
}
