package genome

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MemoryReference holds whole chromosomes in memory. It is meant for small
// references such as test fixtures or targeted panels.
type MemoryReference struct {
	seqs map[string]string
}

// NewMemoryReference wraps a name -> sequence map.
func NewMemoryReference(seqs map[string]string) *MemoryReference {
	return &MemoryReference{seqs: seqs}
}

// ReadFASTA parses FASTA content into a MemoryReference. The sequence name is
// the header up to the first whitespace.
func ReadFASTA(r io.Reader) (*MemoryReference, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	seqs := make(map[string]string)
	var name string
	var seq strings.Builder

	flush := func() {
		if name != "" {
			seqs[name] = seq.String()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ">") {
			flush()
			name = strings.Fields(strings.TrimPrefix(line, ">") + " ")[0]
			seq.Reset()
			continue
		}
		seq.WriteString(strings.TrimSpace(line))
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan FASTA: %w", err)
	}
	return &MemoryReference{seqs: seqs}, nil
}

// Length returns the length of chrom in bases.
func (m *MemoryReference) Length(chrom string) (int, bool) {
	name, ok := resolveChrom(chrom, m.has)
	if !ok {
		return 0, false
	}
	return len(m.seqs[name]), true
}

// Fetch returns bases [start, end) of chrom.
func (m *MemoryReference) Fetch(chrom string, start, end int) (string, error) {
	name, ok := resolveChrom(chrom, m.has)
	if !ok {
		return "", fmt.Errorf("%s: %w", chrom, ErrUnknownChrom)
	}
	s := m.seqs[name]
	if start < 0 || end > len(s) || start > end {
		return "", fmt.Errorf("range %s:%d-%d outside [0,%d)", name, start, end, len(s))
	}
	return s[start:end], nil
}

func (m *MemoryReference) has(name string) bool {
	_, ok := m.seqs[name]
	return ok
}
