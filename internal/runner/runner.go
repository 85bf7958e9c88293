// Package runner feeds sequence pairs through a model and captures aligned
// reference and alternate attention.
package runner

import (
	"context"
	"fmt"

	"github.com/inodb/vibe-attn/internal/model"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/window"
)

// Result holds both forward passes for a pair.
type Result struct {
	Pair         window.Pair
	Tokens       model.Tokens // shared by ref and alt
	VariantToken int
	Ref          *model.Output
	Alt          *model.Output
}

// Run tokenizes and runs both sequences of p. Tokenizer misalignment and
// attention shape disagreements are returned as *qc.Exclusion; any model
// invocation failure is returned as a plain wrapped error.
func Run(ctx context.Context, m model.Model, p window.Pair) (*Result, error) {
	refToks, err := m.Tokenize(p.Ref)
	if err != nil {
		return nil, fmt.Errorf("tokenize reference for %s: %w", p.Key, err)
	}
	altToks, err := m.Tokenize(p.Alt)
	if err != nil {
		return nil, fmt.Errorf("tokenize alternate for %s: %w", p.Key, err)
	}

	if !refToks.Aligned(altToks) {
		return nil, qc.Exclude(p.Key, qc.StageRun, qc.CodeTokenMisaligned,
			"%d reference tokens vs %d alternate tokens", refToks.Len(), altToks.Len())
	}

	vt, ok := refToks.Locate(p.Offset)
	if !ok {
		return nil, qc.Exclude(p.Key, qc.StageRun, qc.CodeTokenMisaligned,
			"no token covers offset %d", p.Offset)
	}

	ref, err := m.Forward(ctx, refToks.IDs)
	if err != nil {
		return nil, fmt.Errorf("forward reference for %s: %w", p.Key, err)
	}
	alt, err := m.Forward(ctx, altToks.IDs)
	if err != nil {
		return nil, fmt.Errorf("forward alternate for %s: %w", p.Key, err)
	}

	if !ref.Attention.SameShape(alt.Attention) || ref.Attention.Tokens() != refToks.Len() {
		return nil, qc.Exclude(p.Key, qc.StageRun, qc.CodeShapeMismatch,
			"reference %dx%dx%d, alternate %dx%dx%d",
			ref.Attention.Layers(), ref.Attention.Heads(), ref.Attention.Tokens(),
			alt.Attention.Layers(), alt.Attention.Heads(), alt.Attention.Tokens())
	}

	return &Result{
		Pair:         p,
		Tokens:       refToks,
		VariantToken: vt,
		Ref:          ref,
		Alt:          alt,
	}, nil
}
