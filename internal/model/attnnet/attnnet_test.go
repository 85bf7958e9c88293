package attnnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-attn/internal/model"
)

const refSeq = "ACGTTGCAACGGTACCATGGATCCGATTACAGGCTTAACG"

func smallConfig() Config {
	return Config{Layers: 3, Heads: 2, Dim: 16, K: 2, MaxTokens: 64, Seed: 11}
}

func forward(t *testing.T, n *Network, seq string, patches ...model.Patch) (*model.Output, model.Tokens) {
	t.Helper()
	toks, err := n.Tokenize(seq)
	require.NoError(t, err)
	out, err := n.Forward(context.Background(), toks.IDs, patches...)
	require.NoError(t, err)
	return out, toks
}

func TestForward_Shapes(t *testing.T) {
	n, err := New(smallConfig())
	require.NoError(t, err)

	out, toks := forward(t, n, refSeq)
	assert.Equal(t, 3, out.Attention.Layers())
	assert.Equal(t, 2, out.Attention.Heads())
	assert.Equal(t, toks.Len(), out.Attention.Tokens())
	assert.Len(t, out.Hidden, 4)

	// Attention rows are probability distributions.
	for _, layer := range out.Attention {
		for _, m := range layer {
			r, _ := m.Dims()
			for i := 0; i < r; i++ {
				sum := 0.0
				for _, v := range m.RawRowView(i) {
					assert.GreaterOrEqual(t, v, 0.0)
					sum += v
				}
				assert.InDelta(t, 1.0, sum, 1e-9)
			}
		}
	}
}

func TestForward_Deterministic(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	b, err := New(smallConfig())
	require.NoError(t, err)

	outA, _ := forward(t, a, refSeq)
	outB, _ := forward(t, b, refSeq)
	assert.Equal(t, outA.Attention.Flatten(), outB.Attention.Flatten())
	assert.Equal(t, a.Name(), b.Name())

	cfg := smallConfig()
	cfg.Seed = 12
	c, err := New(cfg)
	require.NoError(t, err)
	outC, _ := forward(t, c, refSeq)
	assert.NotEqual(t, outA.Attention.Flatten(), outC.Attention.Flatten())
}

func TestForward_VariantChangesAttention(t *testing.T) {
	n, err := New(smallConfig())
	require.NoError(t, err)

	alt := []byte(refSeq)
	alt[20] = 'C'

	ref, _ := forward(t, n, refSeq)
	out, _ := forward(t, n, string(alt))
	assert.True(t, ref.Attention.SameShape(out.Attention))
	assert.NotEqual(t, ref.Attention.Flatten(), out.Attention.Flatten())
}

func TestForward_PatchAtEmbeddingReproducesAlternate(t *testing.T) {
	n, err := New(smallConfig())
	require.NoError(t, err)

	alt := []byte(refSeq)
	alt[20] = 'C'

	altOut, toks := forward(t, n, string(alt))
	pos, ok := toks.Locate(20)
	require.True(t, ok)

	h, err := altOut.HiddenAt(0, pos)
	require.NoError(t, err)

	patched, _ := forward(t, n, refSeq, model.Patch{Layer: 0, Position: pos, Hidden: h})
	assert.Equal(t, altOut.Attention.Flatten(), patched.Attention.Flatten())
}

func TestForward_PatchLaterLayerKeepsEarlierAttention(t *testing.T) {
	n, err := New(smallConfig())
	require.NoError(t, err)

	alt := []byte(refSeq)
	alt[20] = 'C'

	refOut, toks := forward(t, n, refSeq)
	altOut, _ := forward(t, n, string(alt))
	pos, _ := toks.Locate(20)
	h, err := altOut.HiddenAt(2, pos)
	require.NoError(t, err)

	patched, _ := forward(t, n, refSeq, model.Patch{Layer: 2, Position: pos, Hidden: h})
	assert.Equal(t, refOut.Attention.Layer(0).Flatten(), patched.Attention.Layer(0).Flatten())
	assert.Equal(t, refOut.Attention.Layer(1).Flatten(), patched.Attention.Layer(1).Flatten())
	assert.NotEqual(t, refOut.Attention.Layer(2).Flatten(), patched.Attention.Layer(2).Flatten())
}

func TestForward_Errors(t *testing.T) {
	n, err := New(smallConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = n.Forward(ctx, nil)
	assert.Error(t, err)

	_, err = n.Forward(ctx, make([]int, 65))
	assert.Error(t, err)

	_, err = n.Forward(ctx, []int{1, 99999})
	assert.Error(t, err)

	_, err = n.Forward(ctx, []int{3, 4}, model.Patch{Layer: 5, Position: 0, Hidden: make([]float64, 16)})
	assert.Error(t, err)

	_, err = n.Forward(ctx, []int{3, 4}, model.Patch{Layer: 0, Position: 0, Hidden: make([]float64, 3)})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = n.Forward(cancelled, []int{3, 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Layers: 1, Heads: 3, Dim: 16, K: 2})
	assert.Error(t, err)

	_, err = New(Config{Layers: 0, Heads: 1, Dim: 4, K: 2})
	assert.Error(t, err)

	_, err = New(Config{Layers: 1, Heads: 1, Dim: 4, K: 0})
	assert.Error(t, err)
}
