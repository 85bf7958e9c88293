package variants

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

const header = "##fileformat=VCFv4.1\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func parse(t *testing.T, body string) vcf.Source {
	t.Helper()
	r, err := vcf.NewReader(strings.NewReader(header + body))
	require.NoError(t, err)
	return r
}

func TestNormalizeSignificance(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Pathogenic", SignificancePathogenic},
		{"Likely_pathogenic", SignificancePathogenic},
		{"Pathogenic/Likely_pathogenic", SignificancePathogenic},
		{"Pathogenic|risk_factor", SignificancePathogenic},
		{"Benign", SignificanceBenign},
		{"Benign/Likely_benign", SignificanceBenign},
		{"Likely_benign", SignificanceBenign},
		{"Uncertain_significance", SignificanceVUS},
		{"Conflicting_classifications_of_pathogenicity", SignificanceConflicting},
		{"drug_response", SignificanceOther},
		{"", SignificanceOther},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSignificance(tt.raw))
		})
	}
}

func TestFunctionalClass(t *testing.T) {
	assert.Equal(t, "missense_variant", FunctionalClass([]string{"missense_variant", "intron_variant"}))
	assert.Equal(t, FunctionalClassUnknown, FunctionalClass(nil))
}

func TestLoader_FiltersAndRecordsExclusions(t *testing.T) {
	body := strings.Join([]string{
		"12\t25245351\t1\tC\tA\t.\t.\tCLNSIG=Pathogenic;MC=SO:0001583|missense_variant;GENEINFO=KRAS:3845",
		"1\t69134\t2\tA\tG\t.\t.\tCLNSIG=Likely_benign;MC=SO:0001819|synonymous_variant",
		"13\t32316461\t3\tTA\tT\t.\t.\tCLNSIG=Pathogenic",
		"2\t1000\t4\tA\tN\t.\t.\tCLNSIG=Benign",
		"3\t500\t5\tG\tC\t.\t.\tCLNSIG=Uncertain_significance",
		"12\t25245351\t1\tC\tA\t.\t.\tCLNSIG=Pathogenic",
		"7\t200\t6\tG\tA,T\t.\t.\tCLNSIG=Benign",
	}, "\n") + "\n"

	excl := qc.NewLog(nil)
	records, err := NewLoader(Options{}).Load(parse(t, body), excl)
	require.NoError(t, err)

	// Genomic order: 1, 7 (two alleles), 12.
	require.Len(t, records, 4)
	assert.Equal(t, "1", records[0].Chrom)
	assert.Equal(t, SignificanceBenign, records[0].Significance)
	assert.Equal(t, "synonymous_variant", records[0].FunctionalClass)
	assert.Equal(t, "7", records[1].Chrom)
	assert.Equal(t, "A", records[1].Alt)
	assert.Equal(t, "T", records[2].Alt)
	assert.Equal(t, "KRAS", records[3].Gene)
	assert.Equal(t, SignificancePathogenic, records[3].Significance)

	codes := map[qc.Code]int{}
	for _, e := range excl.Entries() {
		assert.Equal(t, qc.StageLoad, e.Stage)
		codes[e.Code]++
	}
	assert.Equal(t, map[qc.Code]int{
		qc.CodeNotSNV:                 1,
		qc.CodeInvalidBase:            1,
		qc.CodeUnselectedSignificance: 1,
		qc.CodeDuplicate:              1,
	}, codes)
}

func TestLoader_ReaderRejectionsAreExcluded(t *testing.T) {
	body := strings.Join([]string{
		"1\t100\t1\tA\tG\t.\t.\tCLNSIG=Pathogenic",
		"1\t200\t2\tC\t.\t.\t.\tCLNSIG=Uncertain_significance",
		"1\t300\t3\tG\tA,\t.\t.\tCLNSIG=Benign",
	}, "\n") + "\n"

	excl := qc.NewLog(nil)
	l := NewLoader(Options{})
	records, err := l.Load(parse(t, body), excl)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, int64(100), records[0].Pos)
	assert.Equal(t, int64(300), records[1].Pos)
	assert.Equal(t, 4, l.Read(), "rejected alleles count as read")

	entries := excl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, qc.CodeNoAlt, entries[0].Code)
	assert.Equal(t, vcf.Key{Chrom: "1", Pos: 200, Ref: "C", Alt: "."}, entries[0].Key)
	assert.Equal(t, "line 4: no alternate allele", entries[0].Detail)
	assert.Equal(t, qc.CodeMalformedRecord, entries[1].Code)
	assert.Equal(t, qc.StageLoad, entries[1].Stage)
	assert.Equal(t, l.Read(), len(records)+excl.Len())
}

func TestLoader_SelectedSignificance(t *testing.T) {
	body := "3\t500\t5\tG\tC\t.\t.\tCLNSIG=Uncertain_significance\n1\t10\t6\tA\tC\t.\t.\tCLNSIG=Benign\n"

	excl := qc.NewLog(nil)
	records, err := NewLoader(Options{Significance: []string{SignificanceVUS}}).Load(parse(t, body), excl)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, SignificanceVUS, records[0].Significance)
	assert.Equal(t, 1, excl.Len())
}

func makeRecords(class string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			Key:          vcf.Key{Chrom: "1", Pos: int64(1000*len(class) + i), Ref: "A", Alt: "G"},
			Significance: class,
		}
	}
	return out
}

func TestBalance_EqualClassSizes(t *testing.T) {
	records := append(makeRecords(SignificancePathogenic, 10), makeRecords(SignificanceBenign, 3)...)

	out := Balance(records, Options{Balance: true, Seed: 7})
	require.Len(t, out, 6)

	counts := map[string]int{}
	for i, r := range out {
		counts[r.Significance]++
		if i > 0 {
			assert.True(t, out[i-1].Key.Less(r.Key), "records must stay in genomic order")
		}
	}
	assert.Equal(t, 3, counts[SignificancePathogenic])
	assert.Equal(t, 3, counts[SignificanceBenign])
}

func TestBalance_Deterministic(t *testing.T) {
	records := append(makeRecords(SignificancePathogenic, 50), makeRecords(SignificanceBenign, 20)...)

	a := Balance(records, Options{Balance: true, Seed: 42})
	b := Balance(records, Options{Balance: true, Seed: 42})
	assert.Equal(t, a, b)
}

func TestBalance_MaxPerClass(t *testing.T) {
	records := append(makeRecords(SignificancePathogenic, 10), makeRecords(SignificanceBenign, 8)...)

	out := Balance(records, Options{MaxPerClass: 5, Seed: 1})
	assert.Len(t, out, 10)

	out = Balance(records, Options{Balance: true, MaxPerClass: 20, Seed: 1})
	assert.Len(t, out, 16)
}

func TestLoader_CleanTableRecords(t *testing.T) {
	excl := qc.NewLog(nil)
	in := []Record{
		{Key: vcf.Key{Chrom: "2", Pos: 5, Ref: "A", Alt: "G"}, Significance: NormalizeSignificance("benign")},
		{Key: vcf.Key{Chrom: "1", Pos: 9, Ref: "C", Alt: "T"}, Significance: NormalizeSignificance("pathogenic")},
		{Key: vcf.Key{Chrom: "1", Pos: 9, Ref: "C", Alt: "T"}, Significance: NormalizeSignificance("pathogenic")},
		{Key: vcf.Key{Chrom: "1", Pos: 12, Ref: "CA", Alt: "C"}, Significance: NormalizeSignificance("pathogenic")},
		{Key: vcf.Key{Chrom: "3", Pos: 1, Ref: "G", Alt: "A"}, Significance: NormalizeSignificance("vus")},
	}

	out := NewLoader(Options{}).Clean(in, excl)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].Chrom)
	assert.Equal(t, "2", out[1].Chrom)

	var codes []qc.Code
	for _, e := range excl.Entries() {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []qc.Code{qc.CodeDuplicate, qc.CodeNotSNV, qc.CodeUnselectedSignificance}, codes)
}
