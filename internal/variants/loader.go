package variants

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sort"

	"go.uber.org/zap"

	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/vcf"
)

// Options controls filtering and class balancing.
type Options struct {
	// Significance lists the normalized classes to keep. Empty keeps
	// pathogenic and benign.
	Significance []string

	// Balance downsamples every kept class to the size of the smallest.
	Balance bool

	// MaxPerClass caps each class after balancing; 0 means no cap.
	MaxPerClass int

	// Seed makes balancing reproducible.
	Seed uint64
}

func (o Options) classes() map[string]bool {
	keep := o.Significance
	if len(keep) == 0 {
		keep = []string{SignificancePathogenic, SignificanceBenign}
	}
	m := make(map[string]bool, len(keep))
	for _, s := range keep {
		m[s] = true
	}
	return m
}

// Loader reads a VCF and produces cleaned records.
type Loader struct {
	opts   Options
	logger *zap.Logger
	read   int
}

// NewLoader creates a loader with the given options.
func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts, logger: zap.NewNop()}
}

// SetLogger sets the logger for progress and exclusion messages.
func (l *Loader) SetLogger(logger *zap.Logger) {
	l.logger = logger
}

// Load reads every variant from src and cleans them with Clean. Records the
// reader rejects are excluded at load and counted as read.
func (l *Loader) Load(src vcf.Source, excl *qc.Log) ([]Record, error) {
	if ref := src.Meta("reference"); ref != "" && !strings.Contains(ref, "38") {
		l.logger.Warn("VCF reference is not GRCh38; windows may not match the genome",
			zap.String("reference", ref))
	}
	l.logger.Info("reading ClinVar",
		zap.String("file_date", src.Meta("fileDate")),
		zap.String("reference", src.Meta("reference")))

	var records []Record
	var rejected int
	for {
		v, err := src.Next()
		if err == io.EOF {
			break
		}
		if rej, ok := vcf.AsRejection(err); ok {
			excl.Record(rejection(rej))
			rejected++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read variant: %w", err)
		}
		records = append(records, FromVariant(v))
	}

	out := l.Clean(records, excl)
	l.read += rejected
	return out, nil
}

func rejection(rej *vcf.Rejection) *qc.Exclusion {
	code := qc.CodeMalformedRecord
	if rej.Problem == vcf.ProblemNoAlt {
		code = qc.CodeNoAlt
	}
	return qc.Exclude(rej.Key, qc.StageLoad, code, "line %d: %s", rej.Line, rej.Problem)
}

// Clean keeps SNVs of the selected classes and records an exclusion for
// everything else. Records are returned in genomic order, balanced if
// requested.
func (l *Loader) Clean(records []Record, excl *qc.Log) []Record {
	l.read = len(records)
	keep := l.opts.classes()
	seen := make(map[vcf.Key]bool)
	var out []Record

	for _, r := range records {
		if len(r.Ref) != 1 || len(r.Alt) != 1 {
			excl.Record(qc.Exclude(r.Key, qc.StageLoad, qc.CodeNotSNV, "ref %d bp, alt %d bp", len(r.Ref), len(r.Alt)))
			continue
		}
		if !isBase(r.Ref[0]) || !isBase(r.Alt[0]) || r.Ref == r.Alt {
			excl.Record(qc.Exclude(r.Key, qc.StageLoad, qc.CodeInvalidBase, "%s>%s", r.Ref, r.Alt))
			continue
		}
		if !keep[r.Significance] {
			excl.Record(qc.Exclude(r.Key, qc.StageLoad, qc.CodeUnselectedSignificance, "%s", r.Significance))
			continue
		}
		if seen[r.Key] {
			excl.Record(qc.Exclude(r.Key, qc.StageLoad, qc.CodeDuplicate, "key seen earlier in input"))
			continue
		}
		seen[r.Key] = true
		out = append(out, r)
	}

	l.logger.Info("variants filtered",
		zap.Int("read", len(records)),
		zap.Int("kept", len(out)),
		zap.Int("excluded", len(records)-len(out)))

	if l.opts.Balance || l.opts.MaxPerClass > 0 {
		out = Balance(out, l.opts)
		l.logger.Info("variants balanced", zap.Int("kept", len(out)))
	}

	SortRecords(out)
	return out
}

// Read returns the number of alleles seen by the last Load or Clean,
// rejected ones included.
func (l *Loader) Read() int {
	return l.read
}

// Balance downsamples each significance class. With Balance set every class
// is cut to the smallest class size; MaxPerClass applies an upper bound.
// Selection is a seeded shuffle, so equal inputs give equal outputs.
func Balance(records []Record, opts Options) []Record {
	byClass := make(map[string][]Record)
	for _, r := range records {
		byClass[r.Significance] = append(byClass[r.Significance], r)
	}
	if len(byClass) == 0 {
		return records
	}

	classes := make([]string, 0, len(byClass))
	target := -1
	for c, rs := range byClass {
		classes = append(classes, c)
		if target < 0 || len(rs) < target {
			target = len(rs)
		}
	}
	sort.Strings(classes)

	if !opts.Balance {
		target = -1
	}
	if opts.MaxPerClass > 0 && (target < 0 || opts.MaxPerClass < target) {
		target = opts.MaxPerClass
	}

	rng := rand.New(rand.NewPCG(opts.Seed, 0x9e3779b97f4a7c15))
	var out []Record
	for _, c := range classes {
		rs := byClass[c]
		SortRecords(rs)
		if target < 0 || len(rs) <= target {
			out = append(out, rs...)
			continue
		}
		for _, i := range rng.Perm(len(rs))[:target] {
			out = append(out, rs[i])
		}
	}

	SortRecords(out)
	return out
}

// SortRecords orders records by genomic coordinate.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.Less(records[j].Key)
	})
}

func isBase(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T':
		return true
	}
	return false
}
