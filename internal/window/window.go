// Package window cuts fixed-width reference/alternate sequence pairs around
// variants.
package window

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inodb/vibe-attn/internal/genome"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// Pair is a reference window and the same window with the alternate allele.
type Pair struct {
	Key    vcf.Key
	Start  int64  // 0-based genome coordinate of Ref[0]
	Ref    string // reference allele embedded
	Alt    string // alternate allele embedded
	Offset int    // 0-based position of the variant base in both sequences
}

// Validate checks that the sequences have equal length and differ at exactly
// one position, the variant offset.
func (p Pair) Validate() error {
	if len(p.Ref) != len(p.Alt) {
		return fmt.Errorf("pair %s: length %d vs %d", p.Key, len(p.Ref), len(p.Alt))
	}
	if p.Offset < 0 || p.Offset >= len(p.Ref) {
		return fmt.Errorf("pair %s: offset %d outside window of %d", p.Key, p.Offset, len(p.Ref))
	}
	diffs := 0
	for i := 0; i < len(p.Ref); i++ {
		if p.Ref[i] != p.Alt[i] {
			if i != p.Offset {
				return fmt.Errorf("pair %s: unexpected difference at %d", p.Key, i)
			}
			diffs++
		}
	}
	if diffs != 1 {
		return fmt.Errorf("pair %s: %d differences, want 1", p.Key, diffs)
	}
	return nil
}

// Extractor builds pairs from a reference genome.
type Extractor struct {
	ref  genome.Reference
	size int
}

// NewExtractor creates an extractor producing windows of size bases with
// size/2 bases on either side of the variant. size must be odd.
func NewExtractor(ref genome.Reference, size int) (*Extractor, error) {
	if err := CheckSize(size); err != nil {
		return nil, err
	}
	return &Extractor{ref: ref, size: size}, nil
}

// CheckSize reports whether size can centre a variant: positive and odd.
func CheckSize(size int) error {
	if size < 1 {
		return fmt.Errorf("window size must be positive, got %d", size)
	}
	if size%2 == 0 {
		return fmt.Errorf("window size must be odd to centre the variant, got %d", size)
	}
	return nil
}

// Size returns the window width in bases.
func (e *Extractor) Size() int {
	return e.size
}

// Extract returns the pair for an SNV. Data-quality failures are returned as
// *qc.Exclusion; anything else is a reference read error.
func (e *Extractor) Extract(key vcf.Key) (Pair, error) {
	if len(key.Ref) != 1 || len(key.Alt) != 1 {
		return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeNotSNV, "ref %q alt %q", key.Ref, key.Alt)
	}

	chromLen, ok := e.ref.Length(key.Chrom)
	if !ok {
		return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeUnknownChrom, "%s not in reference", key.Chrom)
	}

	// flank on each side
	offset := e.size / 2
	start := key.Pos - 1 - int64(offset)
	end := start + int64(e.size)
	if start < 0 || end > int64(chromLen) {
		return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeOutOfBounds,
			"window [%d,%d) outside chromosome of %d bp", start, end, chromLen)
	}

	seq, err := e.ref.Fetch(key.Chrom, int(start), int(end))
	if err != nil {
		if errors.Is(err, genome.ErrUnknownChrom) {
			return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeUnknownChrom, "%v", err)
		}
		return Pair{}, fmt.Errorf("fetch window for %s: %w", key, err)
	}
	seq = strings.ToUpper(seq)

	refBase := strings.ToUpper(key.Ref)
	altBase := strings.ToUpper(key.Alt)
	if seq[offset] != refBase[0] {
		return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeRefMismatch,
			"record has %s, genome has %c", refBase, seq[offset])
	}

	p := Pair{
		Key:    key,
		Start:  start,
		Ref:    seq,
		Alt:    seq[:offset] + altBase + seq[offset+1:],
		Offset: offset,
	}
	if err := p.Validate(); err != nil {
		return Pair{}, qc.Exclude(key, qc.StageExtract, qc.CodeInvalidBase, "%v", err)
	}
	return p, nil
}
