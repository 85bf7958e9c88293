// Package vcf provides VCF file parsing functionality.
package vcf

import (
	"strconv"
	"strings"
)

// Variant represents a single genomic variant from a VCF file.
type Variant struct {
	Chrom  string                 // Chromosome name (e.g., "12", "chr12")
	Pos    int64                  // 1-based genomic position
	ID     string                 // Variant identifier (ClinVar variation ID or rs ID)
	Ref    string                 // Reference allele
	Alt    string                 // Alternate allele (single allele after splitting)
	Qual   float64                // Quality score
	Filter string                 // Filter status (PASS or filter name)
	Info   map[string]interface{} // INFO field key-value pairs
}

// Key identifies a variant across every pipeline table.
type Key struct {
	Chrom string
	Pos   int64
	Ref   string
	Alt   string
}

// Key returns the identity of the variant.
func (v *Variant) Key() Key {
	return Key{Chrom: v.Chrom, Pos: v.Pos, Ref: v.Ref, Alt: v.Alt}
}

// String formats the key as chrom_pos_ref/alt.
func (k Key) String() string {
	return k.Chrom + "_" + strconv.FormatInt(k.Pos, 10) + "_" + k.Ref + "/" + k.Alt
}

// Less orders keys by chromosome (natural order), position, then alleles.
func (k Key) Less(o Key) bool {
	if k.Chrom != o.Chrom {
		ri, rj := ChromRank(k.Chrom), ChromRank(o.Chrom)
		if ri != rj {
			return ri < rj
		}
		return k.Chrom < o.Chrom
	}
	if k.Pos != o.Pos {
		return k.Pos < o.Pos
	}
	if k.Ref != o.Ref {
		return k.Ref < o.Ref
	}
	return k.Alt < o.Alt
}

// ChromRank returns a sort rank for a chromosome name: 1-22, X, Y, MT, then
// everything else.
func ChromRank(chrom string) int {
	c := strings.TrimPrefix(chrom, "chr")
	switch c {
	case "X":
		return 23
	case "Y":
		return 24
	case "M", "MT":
		return 25
	}
	if n, err := strconv.Atoi(c); err == nil && n > 0 {
		return n
	}
	return 100
}

// IsSNV returns true if the variant is a single nucleotide variant.
func (v *Variant) IsSNV() bool {
	return len(v.Ref) == 1 && len(v.Alt) == 1
}

// IsIndel returns true if the variant is an insertion or deletion.
func (v *Variant) IsIndel() bool {
	return len(v.Ref) != len(v.Alt)
}

// NormalizeChrom returns the chromosome name without "chr" prefix.
func (v *Variant) NormalizeChrom() string {
	return NormalizeChrom(v.Chrom)
}

// NormalizeChrom strips a leading "chr" and maps "M" to "MT".
func NormalizeChrom(chrom string) string {
	if len(chrom) > 3 && chrom[:3] == "chr" {
		chrom = chrom[3:]
	}
	if chrom == "M" {
		return "MT"
	}
	return chrom
}

// InfoString returns the INFO value for key as a string, or "" if the key is
// absent or is a flag.
func (v *Variant) InfoString(key string) string {
	if v.Info == nil {
		return ""
	}
	s, _ := v.Info[key].(string)
	return s
}
