// Package variants loads, filters and balances ClinVar variant records.
package variants

import (
	"strings"

	"github.com/inodb/vibe-attn/internal/vcf"
)

// Clinical significance classes after normalization.
const (
	SignificancePathogenic  = "pathogenic"
	SignificanceBenign      = "benign"
	SignificanceVUS         = "vus"
	SignificanceConflicting = "conflicting"
	SignificanceOther       = "other"
)

// FunctionalClassUnknown is used when ClinVar reports no molecular consequence.
const FunctionalClassUnknown = "unknown"

// Record is a cleaned variant: one SNV with its clinical labels.
type Record struct {
	vcf.Key
	ID              string // ClinVar variation ID
	Gene            string
	Significance    string // normalized class, see NormalizeSignificance
	FunctionalClass string // first molecular consequence term
}

// NormalizeSignificance maps a raw CLNSIG value onto a coarse class.
// Likely and definite calls are pooled; anything with an extra
// qualifier (e.g. "Pathogenic|risk_factor") keeps its primary call.
func NormalizeSignificance(raw string) string {
	s := strings.ToLower(raw)
	if i := strings.IndexAny(s, "|,;"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	switch s {
	case "pathogenic", "likely_pathogenic", "pathogenic/likely_pathogenic":
		return SignificancePathogenic
	case "benign", "likely_benign", "benign/likely_benign":
		return SignificanceBenign
	case "uncertain_significance", "vus":
		return SignificanceVUS
	}
	if strings.HasPrefix(s, "conflicting") {
		return SignificanceConflicting
	}
	return SignificanceOther
}

// FunctionalClass returns the first molecular consequence term, or
// FunctionalClassUnknown.
func FunctionalClass(consequences []string) string {
	if len(consequences) == 0 || consequences[0] == "" {
		return FunctionalClassUnknown
	}
	return consequences[0]
}

// FromVariant builds a Record from a parsed ClinVar VCF variant.
func FromVariant(v *vcf.Variant) Record {
	cv := vcf.ParseClinVar(v)
	return Record{
		Key:             vcf.Key{Chrom: v.NormalizeChrom(), Pos: v.Pos, Ref: strings.ToUpper(v.Ref), Alt: strings.ToUpper(v.Alt)},
		ID:              v.ID,
		Gene:            cv.Gene,
		Significance:    NormalizeSignificance(cv.Significance),
		FunctionalClass: FunctionalClass(cv.Consequences),
	}
}
