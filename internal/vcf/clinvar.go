package vcf

import "strings"

// ClinVar holds the INFO annotations a ClinVar release attaches to a record.
type ClinVar struct {
	Significance string   // CLNSIG, e.g. "Pathogenic/Likely_pathogenic"
	Consequences []string // MC terms in order, e.g. ["missense_variant"]
	Gene         string   // first symbol from GENEINFO
	AlleleID     string   // ALLELEID
}

// ParseClinVar extracts the ClinVar INFO fields from a variant.
//
//	CLNSIG=Pathogenic;MC=SO:0001583|missense_variant;GENEINFO=KRAS:3845;ALLELEID=27634
func ParseClinVar(v *Variant) ClinVar {
	cv := ClinVar{
		Significance: v.InfoString("CLNSIG"),
		AlleleID:     v.InfoString("ALLELEID"),
	}

	if mc := v.InfoString("MC"); mc != "" {
		for _, entry := range strings.Split(mc, ",") {
			if _, term, ok := strings.Cut(entry, "|"); ok && term != "" {
				cv.Consequences = append(cv.Consequences, term)
			}
		}
	}

	if gi := v.InfoString("GENEINFO"); gi != "" {
		first, _, _ := strings.Cut(gi, "|")
		sym, _, _ := strings.Cut(first, ":")
		cv.Gene = sym
	}

	return cv
}
