// Package vcf reads ClinVar VCF releases.
package vcf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Source yields variants one alternate allele at a time.
//
// Next returns io.EOF after the last record. A record that cannot become a
// variant is returned as a *Rejection; the caller may keep reading after it.
type Source interface {
	Next() (*Variant, error)

	// Meta returns a ##key=value header entry, or "".
	Meta(key string) string

	Close() error
}

// Problem is why a record was rejected.
type Problem int

const (
	// ALT is ".". ClinVar writes reference-only and some structural
	// records this way.
	ProblemNoAlt Problem = iota + 1

	// REF is missing or "." or one entry of a multi-allelic ALT is empty.
	ProblemEmptyAllele
)

func (p Problem) String() string {
	switch p {
	case ProblemNoAlt:
		return "no alternate allele"
	case ProblemEmptyAllele:
		return "empty allele"
	}
	return "problem(" + strconv.Itoa(int(p)) + ")"
}

// Rejection is a record the reader dropped.
type Rejection struct {
	Key     Key
	Line    int
	Problem Problem
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("vcf line %d: %s rejected: %s", r.Line, r.Key, r.Problem)
}

// AsRejection reports whether err is (or wraps) a Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// ParseError is a structural fault that stops reading.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vcf parse error at line %d: %s", e.Line, e.Message)
}

// Reader reads records from plain or gzip/bgzip compressed VCF text.
type Reader struct {
	br      *bufio.Reader
	closers []io.Closer
	line    int
	header  []string
	meta    map[string]string

	// alleles of the current record not yet returned
	pending []*Variant
}

// Open opens a VCF file. "-" reads standard input.
func Open(path string) (*Reader, error) {
	if path == "-" {
		return NewReader(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vcf file: %w", err)
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closers = append(r.closers, f)
	return r, nil
}

// NewReader reads VCF text from src, decompressing it when it starts with
// the gzip magic bytes. The header is consumed before NewReader returns.
func NewReader(src io.Reader) (*Reader, error) {
	return newReader(src)
}

func newReader(src io.Reader) (*Reader, error) {
	r := &Reader{meta: make(map[string]string)}

	br := bufio.NewReader(src)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		r.closers = append(r.closers, zr)
		br = bufio.NewReader(zr)
	}
	r.br = br

	if err := r.readHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

// readLine returns the next line without its terminator, or io.EOF.
func (r *Reader) readLine() (string, error) {
	s, err := r.br.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	r.line++
	return strings.TrimRight(s, "\r\n"), nil
}

func (r *Reader) readHeader() error {
	for {
		line, err := r.readLine()
		if err == io.EOF {
			return &ParseError{Line: r.line, Message: "no #CHROM header line found"}
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}

		switch {
		case strings.HasPrefix(line, "##"):
			r.header = append(r.header, line)
			// structured lines (##INFO=<...>) are kept in the header only
			if k, v, ok := strings.Cut(line[2:], "="); ok && !strings.HasPrefix(v, "<") {
				r.meta[k] = v
			}
		case strings.HasPrefix(line, "#CHROM"):
			r.header = append(r.header, line)
			return nil
		default:
			return &ParseError{Line: r.line, Message: "expected #CHROM header line"}
		}
	}
}

// Next returns the next variant. A multi-allelic record comes back once per
// ALT entry, each copy sharing the record's ID and INFO.
func (r *Reader) Next() (*Variant, error) {
	for len(r.pending) == 0 {
		line, err := r.readLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read variant line: %w", err)
		}
		if line == "" {
			continue
		}
		rec, err := r.parseRecord(line)
		if err != nil {
			return nil, err
		}
		r.pending = splitAlts(rec)
	}

	v := r.pending[0]
	r.pending = r.pending[1:]
	if p := alleleProblem(v); p != 0 {
		return nil, &Rejection{Key: v.Key(), Line: r.line, Problem: p}
	}
	return v, nil
}

func alleleProblem(v *Variant) Problem {
	switch {
	case v.Alt == ".":
		return ProblemNoAlt
	case v.Ref == "", v.Ref == ".", v.Alt == "":
		return ProblemEmptyAllele
	}
	return 0
}

// parseRecord turns the eight fixed columns of a data line into a Variant
// holding the raw ALT column. Genotype columns are ignored.
func (r *Reader) parseRecord(line string) (*Variant, error) {
	cols := strings.SplitN(line, "\t", 9)
	if len(cols) < 8 {
		return nil, &ParseError{
			Line:    r.line,
			Message: fmt.Sprintf("expected at least 8 columns, found %d", len(cols)),
		}
	}

	pos, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil || pos < 1 {
		return nil, &ParseError{Line: r.line, Message: fmt.Sprintf("invalid position: %s", cols[1])}
	}

	var qual float64
	if cols[5] != "." {
		qual, _ = strconv.ParseFloat(cols[5], 64)
	}

	return &Variant{
		Chrom:  cols[0],
		Pos:    pos,
		ID:     cols[2],
		Ref:    cols[3],
		Alt:    cols[4],
		Qual:   qual,
		Filter: cols[6],
		Info:   parseInfo(cols[7]),
	}, nil
}

// parseInfo maps INFO keys to their value, or to true for flags.
func parseInfo(field string) map[string]interface{} {
	info := make(map[string]interface{})
	if field == "." || field == "" {
		return info
	}
	for _, entry := range strings.Split(field, ";") {
		if k, v, ok := strings.Cut(entry, "="); ok {
			info[k] = v
		} else if entry != "" {
			info[entry] = true
		}
	}
	return info
}

// splitAlts returns one variant per comma-separated ALT entry. INFO is
// shared and read-only after parsing.
func splitAlts(rec *Variant) []*Variant {
	if !strings.Contains(rec.Alt, ",") {
		return []*Variant{rec}
	}
	alts := strings.Split(rec.Alt, ",")
	out := make([]*Variant, len(alts))
	for i, alt := range alts {
		v := *rec
		v.Alt = alt
		out[i] = &v
	}
	return out
}

// Header returns the header lines, ending with #CHROM.
func (r *Reader) Header() []string {
	return r.header
}

// Meta returns the value of a ##key=value header line, e.g. "fileDate" or
// "reference" in a ClinVar release.
func (r *Reader) Meta(key string) string {
	return r.meta[key]
}

// Line returns the number of lines read so far.
func (r *Reader) Line() int {
	return r.line
}

// Close releases the decompressor and the file, if any.
func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
