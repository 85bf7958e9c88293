// Package qc records why variants drop out of the pipeline.
//
// A data-quality failure never aborts a batch: the affected variant is
// excluded with a reason code and every later stage skips it.
package qc

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/inodb/vibe-attn/internal/vcf"
)

// Code is a machine-readable exclusion reason.
type Code string

// Exclusion reason codes.
const (
	// load
	CodeNoAlt                  Code = "NO_ALT"
	CodeMalformedRecord        Code = "MALFORMED_RECORD"
	CodeNotSNV                 Code = "NOT_SNV"
	CodeInvalidBase            Code = "INVALID_BASE"
	CodeUnselectedSignificance Code = "UNSELECTED_SIGNIFICANCE"
	CodeDuplicate              Code = "DUPLICATE"

	// extract
	CodeUnknownChrom Code = "UNKNOWN_CHROM"
	CodeOutOfBounds  Code = "OUT_OF_BOUNDS"
	CodeRefMismatch  Code = "REF_MISMATCH"

	// run
	CodeTokenMisaligned Code = "TOKEN_MISALIGNED"
	CodeShapeMismatch   Code = "SHAPE_MISMATCH"
	CodeNonFiniteDelta  Code = "NON_FINITE_DELTA"

	// analyze
	CodeZeroDelta Code = "ZERO_DELTA"
)

// Stage names the pipeline step that produced an exclusion.
type Stage string

// Pipeline stages.
const (
	StageLoad    Stage = "load"
	StageExtract Stage = "extract"
	StageRun     Stage = "run"
	StageAnalyze Stage = "analyze"
)

// Exclusion is a data-quality failure for a single variant.
type Exclusion struct {
	Key    vcf.Key
	Stage  Stage
	Code   Code
	Detail string
}

func (e *Exclusion) Error() string {
	return fmt.Sprintf("%s excluded at %s: %s (%s)", e.Key, e.Stage, e.Code, e.Detail)
}

// Exclude builds an Exclusion with a formatted detail message.
func Exclude(key vcf.Key, stage Stage, code Code, format string, args ...any) *Exclusion {
	return &Exclusion{Key: key, Stage: stage, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// AsExclusion reports whether err is (or wraps) an Exclusion.
func AsExclusion(err error) (*Exclusion, bool) {
	var ex *Exclusion
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

// Log collects exclusions for a stage and mirrors them to a logger.
type Log struct {
	entries []Exclusion
	logger  *zap.Logger
}

// NewLog creates an empty exclusion log.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Record adds an exclusion.
func (l *Log) Record(e *Exclusion) {
	l.entries = append(l.entries, *e)
	l.logger.Debug("variant excluded",
		zap.String("variant", e.Key.String()),
		zap.String("stage", string(e.Stage)),
		zap.String("reason", string(e.Code)),
		zap.String("detail", e.Detail))
}

// Entries returns the recorded exclusions in insertion order.
func (l *Log) Entries() []Exclusion {
	return l.entries
}

// Len returns the number of recorded exclusions.
func (l *Log) Len() int {
	return len(l.entries)
}

// Reset drops recorded exclusions, typically after they were persisted.
func (l *Log) Reset() {
	l.entries = l.entries[:0]
}

// CodeCount is the number of exclusions sharing a reason code.
type CodeCount struct {
	Code  Code
	Count int
}

// Counts tallies exclusions by reason code, most frequent first.
func Counts(entries []Exclusion) []CodeCount {
	m := make(map[Code]int)
	for _, e := range entries {
		m[e.Code]++
	}
	out := make([]CodeCount, 0, len(m))
	for c, n := range m {
		out = append(out, CodeCount{Code: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}
