package model

import "fmt"

// Special token IDs shared by every tokenizer in this package.
const (
	TokenPad = 0
	TokenCLS = 1
	TokenUnk = 2
)

const singleBase = 3 // first single-nucleotide ID: A, C, G, T, N

// Span is the half-open nucleotide range a token covers. Special tokens
// have Start = End = -1.
type Span struct {
	Start, End int
}

// Special reports whether the span belongs to a special token.
func (s Span) Special() bool {
	return s.Start < 0
}

// Tokens is a tokenized sequence.
type Tokens struct {
	IDs   []int
	Spans []Span
}

// Len returns the number of tokens.
func (t Tokens) Len() int {
	return len(t.IDs)
}

// Locate returns the index of the token covering nucleotide offset.
func (t Tokens) Locate(offset int) (int, bool) {
	for i, s := range t.Spans {
		if !s.Special() && offset >= s.Start && offset < s.End {
			return i, true
		}
	}
	return 0, false
}

// Aligned reports whether t and u have the same length and identical spans,
// so that token i covers the same nucleotides in both.
func (t Tokens) Aligned(u Tokens) bool {
	if len(t.Spans) != len(u.Spans) || len(t.IDs) != len(u.IDs) {
		return false
	}
	for i := range t.Spans {
		if t.Spans[i] != u.Spans[i] {
			return false
		}
	}
	return true
}

// KmerTokenizer splits a sequence into non-overlapping k-mers from the
// start. A k-mer containing anything other than ACGT, and any trailing
// remainder shorter than K, is emitted one nucleotide per token.
type KmerTokenizer struct {
	K   int
	CLS bool // prepend a CLS token
}

// VocabSize returns the number of distinct token IDs.
func (t KmerTokenizer) VocabSize() int {
	n := singleBase + 5
	if t.K > 1 {
		n += pow4(t.K)
	}
	return n
}

// Tokenize implements the tokenization half of Model.
func (t KmerTokenizer) Tokenize(seq string) (Tokens, error) {
	if t.K < 1 {
		return Tokens{}, fmt.Errorf("k-mer size must be positive, got %d", t.K)
	}

	var out Tokens
	if t.CLS {
		out.IDs = append(out.IDs, TokenCLS)
		out.Spans = append(out.Spans, Span{-1, -1})
	}

	i := 0
	for i < len(seq) {
		if t.K > 1 && i+t.K <= len(seq) {
			if id, ok := t.kmerID(seq[i : i+t.K]); ok {
				out.IDs = append(out.IDs, id)
				out.Spans = append(out.Spans, Span{i, i + t.K})
				i += t.K
				continue
			}
			// Ambiguous k-mer: fall back to single nucleotides for it.
			for j := i; j < i+t.K; j++ {
				out.IDs = append(out.IDs, singleID(seq[j]))
				out.Spans = append(out.Spans, Span{j, j + 1})
			}
			i += t.K
			continue
		}
		out.IDs = append(out.IDs, singleID(seq[i]))
		out.Spans = append(out.Spans, Span{i, i + 1})
		i++
	}
	return out, nil
}

func (t KmerTokenizer) kmerID(kmer string) (int, bool) {
	code := 0
	for i := 0; i < len(kmer); i++ {
		b := baseCode(kmer[i])
		if b < 0 {
			return 0, false
		}
		code = code*4 + b
	}
	return singleBase + 5 + code, true
}

func singleID(b byte) int {
	if c := baseCode(b); c >= 0 {
		return singleBase + c
	}
	return singleBase + 4
}

func baseCode(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return -1
}

func pow4(k int) int {
	n := 1
	for range k {
		n *= 4
	}
	return n
}
