package genome

import (
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/fai"
)

// IndexedFASTA reads bases from a FASTA file through its samtools-style .fai
// index, seeking directly to the byte offset of each requested range.
type IndexedFASTA struct {
	file  *os.File
	index fai.Index
	fa    *fai.File
}

// OpenIndexed opens fastaPath and its index at fastaPath + ".fai".
func OpenIndexed(fastaPath string) (*IndexedFASTA, error) {
	idxFile, err := os.Open(fastaPath + ".fai")
	if err != nil {
		return nil, fmt.Errorf("open fasta index (run 'vibe-attn index %s'): %w", fastaPath, err)
	}
	defer idxFile.Close()

	idx, err := fai.ReadFrom(idxFile)
	if err != nil {
		return nil, fmt.Errorf("read fasta index: %w", err)
	}

	f, err := os.Open(fastaPath)
	if err != nil {
		return nil, fmt.Errorf("open fasta: %w", err)
	}

	return &IndexedFASTA{
		file:  f,
		index: idx,
		fa:    fai.NewFile(f, idx),
	}, nil
}

// Length returns the length of chrom in bases.
func (r *IndexedFASTA) Length(chrom string) (int, bool) {
	name, ok := resolveChrom(chrom, r.has)
	if !ok {
		return 0, false
	}
	return r.index[name].Length, true
}

// Fetch returns bases [start, end) of chrom.
func (r *IndexedFASTA) Fetch(chrom string, start, end int) (string, error) {
	name, ok := resolveChrom(chrom, r.has)
	if !ok {
		return "", fmt.Errorf("%s: %w", chrom, ErrUnknownChrom)
	}
	if start < 0 || end > r.index[name].Length || start > end {
		return "", fmt.Errorf("range %s:%d-%d outside [0,%d)", name, start, end, r.index[name].Length)
	}

	seq, err := r.fa.SeqRange(name, start, end)
	if err != nil {
		return "", fmt.Errorf("seek %s:%d-%d: %w", name, start, end, err)
	}
	b, err := io.ReadAll(seq)
	if err != nil {
		return "", fmt.Errorf("read %s:%d-%d: %w", name, start, end, err)
	}
	return string(b), nil
}

// Chromosomes returns the number of sequences in the index.
func (r *IndexedFASTA) Chromosomes() int {
	return len(r.index)
}

// Close closes the underlying FASTA file.
func (r *IndexedFASTA) Close() error {
	return r.file.Close()
}

func (r *IndexedFASTA) has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// BuildIndex scans fastaPath and writes fastaPath + ".fai".
func BuildIndex(fastaPath string) error {
	f, err := os.Open(fastaPath)
	if err != nil {
		return fmt.Errorf("open fasta: %w", err)
	}
	defer f.Close()

	idx, err := fai.NewIndex(f)
	if err != nil {
		return fmt.Errorf("index fasta: %w", err)
	}

	tmp := fastaPath + ".fai.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := fai.WriteTo(out, idx); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write index: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index: %w", err)
	}
	return os.Rename(tmp, fastaPath+".fai")
}
