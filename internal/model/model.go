// Package model defines the capability the pipeline needs from a pretrained
// sequence model: tokenization, forward inference with attention capture, and
// hidden-state overrides for activation patching.
package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model is a pretrained nucleotide sequence model. Implementations must be
// safe for concurrent use by multiple goroutines.
type Model interface {
	// Name identifies the model in logs and run metadata.
	Name() string

	// Tokenize converts a nucleotide sequence to token IDs with the
	// nucleotide span each token covers.
	Tokenize(seq string) (Tokens, error)

	// Forward runs inference and returns attention for every layer and head
	// plus the hidden state entering each layer. Patches replace hidden
	// state rows before the named layer runs.
	Forward(ctx context.Context, ids []int, patches ...Patch) (*Output, error)
}

// Patch overwrites the hidden state of one token before a layer.
type Patch struct {
	Layer    int
	Position int
	Hidden   []float64
}

// Output is the result of a forward pass.
type Output struct {
	Attention Attention

	// Hidden[l] is the T x d residual stream entering layer l; the final
	// entry is the output of the last layer.
	Hidden []*mat.Dense
}

// HiddenAt returns a copy of the hidden state for token pos entering layer.
func (o *Output) HiddenAt(layer, pos int) ([]float64, error) {
	if layer < 0 || layer >= len(o.Hidden) {
		return nil, fmt.Errorf("layer %d outside [0,%d)", layer, len(o.Hidden))
	}
	h := o.Hidden[layer]
	r, _ := h.Dims()
	if pos < 0 || pos >= r {
		return nil, fmt.Errorf("position %d outside [0,%d)", pos, r)
	}
	return mat.Row(nil, pos, h), nil
}

// Attention holds one T x T matrix per layer and head, indexed
// [layer][head]. Rows are queries, columns are keys.
type Attention [][]*mat.Dense

// Layers returns the number of layers.
func (a Attention) Layers() int {
	return len(a)
}

// Heads returns the number of heads per layer.
func (a Attention) Heads() int {
	if len(a) == 0 {
		return 0
	}
	return len(a[0])
}

// Tokens returns the sequence length T.
func (a Attention) Tokens() int {
	if len(a) == 0 || len(a[0]) == 0 {
		return 0
	}
	r, _ := a[0][0].Dims()
	return r
}

// SameShape reports whether a and b have identical layer, head and token
// dimensions throughout.
func (a Attention) SameShape(b Attention) bool {
	if len(a) != len(b) {
		return false
	}
	for l := range a {
		if len(a[l]) != len(b[l]) {
			return false
		}
		for h := range a[l] {
			ar, ac := a[l][h].Dims()
			br, bc := b[l][h].Dims()
			if ar != br || ac != bc || ar != ac {
				return false
			}
		}
	}
	return true
}

// Flatten returns every weight in layer, head, row, column order.
func (a Attention) Flatten() []float64 {
	var out []float64
	for _, layer := range a {
		for _, m := range layer {
			r, c := m.Dims()
			for i := 0; i < r; i++ {
				out = append(out, m.RawRowView(i)[:c]...)
			}
		}
	}
	return out
}

// Layer returns the attention of a single layer as its own tensor.
func (a Attention) Layer(l int) Attention {
	return Attention{a[l]}
}

// From returns layers l onward. The matrices are shared, not copied.
func (a Attention) From(l int) Attention {
	return a[l:]
}

// NewAttention builds a tensor from nested slices indexed
// [layer][head][query][key].
func NewAttention(data [][][][]float64) (Attention, error) {
	att := make(Attention, len(data))
	for l, heads := range data {
		att[l] = make([]*mat.Dense, len(heads))
		for h, rows := range heads {
			n := len(rows)
			if n == 0 {
				return nil, fmt.Errorf("layer %d head %d: empty matrix", l, h)
			}
			flat := make([]float64, 0, n*n)
			for i, row := range rows {
				if len(row) != n {
					return nil, fmt.Errorf("layer %d head %d row %d: %d columns, want %d", l, h, i, len(row), n)
				}
				flat = append(flat, row...)
			}
			att[l][h] = mat.NewDense(n, n, flat)
		}
	}
	return att, nil
}
