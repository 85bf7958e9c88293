package vcf

import "testing"

func TestVariant_IsSNV(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		alt  string
		want bool
	}{
		{"A to G", "A", "G", true},
		{"G to C (KRAS G12C)", "G", "C", true},
		{"deletion", "AT", "A", false},
		{"insertion", "A", "AT", false},
		{"MNV", "AT", "GC", false},
		{"complex indel", "ATG", "A", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Variant{Ref: tt.ref, Alt: tt.alt}
			if got := v.IsSNV(); got != tt.want {
				t.Errorf("IsSNV() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariant_IsIndel(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		alt  string
		want bool
	}{
		{"SNV", "A", "G", false},
		{"deletion", "AT", "A", true},
		{"insertion", "A", "AT", true},
		{"complex deletion", "ATGC", "A", true},
		{"MNV same length", "AT", "GC", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Variant{Ref: tt.ref, Alt: tt.alt}
			if got := v.IsIndel(); got != tt.want {
				t.Errorf("IsIndel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariant_NormalizeChrom(t *testing.T) {
	tests := []struct {
		name  string
		chrom string
		want  string
	}{
		{"with chr prefix", "chr12", "12"},
		{"without chr prefix", "12", "12"},
		{"chrX", "chrX", "X"},
		{"X", "X", "X"},
		{"chrM", "chrM", "MT"},
		{"M", "M", "MT"},
		{"MT", "MT", "MT"},
		{"chr1", "chr1", "1"},
		{"empty", "", ""},
		{"short chr", "ch", "ch"}, // too short for "chr" prefix
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Variant{Chrom: tt.chrom}
			if got := v.NormalizeChrom(); got != tt.want {
				t.Errorf("NormalizeChrom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_String(t *testing.T) {
	k := Key{Chrom: "12", Pos: 25245351, Ref: "C", Alt: "A"}
	if got := k.String(); got != "12_25245351_C/A" {
		t.Errorf("String() = %q", got)
	}
}

func TestKey_Less(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
		want bool
	}{
		{"numeric chrom order", Key{Chrom: "2", Pos: 5}, Key{Chrom: "10", Pos: 1}, true},
		{"X after autosomes", Key{Chrom: "X", Pos: 1}, Key{Chrom: "22", Pos: 1}, false},
		{"prefix ignored for rank", Key{Chrom: "chr1", Pos: 9}, Key{Chrom: "chr2", Pos: 1}, true},
		{"position", Key{Chrom: "1", Pos: 5}, Key{Chrom: "1", Pos: 6}, true},
		{"alt tie-break", Key{Chrom: "1", Pos: 5, Ref: "A", Alt: "C"}, Key{Chrom: "1", Pos: 5, Ref: "A", Alt: "G"}, true},
		{"equal", Key{Chrom: "1", Pos: 5}, Key{Chrom: "1", Pos: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.want {
				t.Errorf("Less() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVariant_KRASG12C(t *testing.T) {
	// Test the specific KRAS G12C variant (c.34G>T p.G12C)
	// KRAS is on reverse strand: coding G->T = genomic C->A
	v := &Variant{
		Chrom: "12",
		Pos:   25245351,
		Ref:   "C",
		Alt:   "A",
	}

	if !v.IsSNV() {
		t.Error("KRAS G12C should be classified as SNV")
	}

	if v.IsIndel() {
		t.Error("KRAS G12C should not be classified as indel")
	}

	if v.NormalizeChrom() != "12" {
		t.Errorf("Expected chromosome 12, got %s", v.NormalizeChrom())
	}
}
