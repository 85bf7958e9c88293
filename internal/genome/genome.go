// Package genome provides random-access lookups into a reference genome.
package genome

import (
	"errors"
	"strings"
)

// ErrUnknownChrom is returned when a chromosome is absent from the reference.
var ErrUnknownChrom = errors.New("chromosome not in reference")

// Reference is a random-access reference genome.
type Reference interface {
	// Length returns the length of chrom in bases.
	Length(chrom string) (int, bool)

	// Fetch returns bases [start, end) of chrom, 0-based half-open.
	Fetch(chrom string, start, end int) (string, error)
}

// resolveChrom finds the name a reference uses for chrom, trying the name
// as given, with and without a "chr" prefix, and the M/MT aliases.
func resolveChrom(chrom string, has func(string) bool) (string, bool) {
	bare := strings.TrimPrefix(chrom, "chr")
	candidates := []string{chrom, bare, "chr" + bare}
	switch bare {
	case "M", "MT":
		candidates = append(candidates, "chrM", "MT", "M", "chrMT")
	}
	for _, c := range candidates {
		if has(c) {
			return c, true
		}
	}
	return "", false
}
