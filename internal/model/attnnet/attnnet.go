// Package attnnet is a small deterministic transformer encoder over k-mer
// tokens. Weights are drawn from a seeded generator, so a given Config always
// yields the same network. It lets the pipeline run without a model server
// and gives the patching experiment a fully known reference point.
package attnnet

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-attn/internal/model"
)

// Config describes the network shape.
type Config struct {
	Layers    int
	Heads     int
	Dim       int // residual width, divisible by Heads
	K         int // k-mer size of the tokenizer
	CLS       bool
	MaxTokens int
	Seed      uint64
}

// DefaultConfig is a 4-layer, 4-head network over 6-mers.
func DefaultConfig() Config {
	return Config{Layers: 4, Heads: 4, Dim: 32, K: 6, MaxTokens: 1024, Seed: 1}
}

type block struct {
	wq, wk, wv []*mat.Dense // per head, Dim x headDim
	wo         *mat.Dense   // Dim x Dim
	w1         *mat.Dense   // Dim x 2Dim
	w2         *mat.Dense   // 2Dim x Dim
}

// Network implements model.Model. It is read-only after New and safe for
// concurrent Forward calls.
type Network struct {
	cfg     Config
	tok     model.KmerTokenizer
	headDim int
	embed   *mat.Dense // vocab x Dim
	pos     *mat.Dense // MaxTokens x Dim
	blocks  []block
}

// New builds a network from cfg.
func New(cfg Config) (*Network, error) {
	if cfg.Layers < 1 || cfg.Heads < 1 || cfg.Dim < 1 {
		return nil, fmt.Errorf("layers, heads and dim must be positive: %+v", cfg)
	}
	if cfg.Dim%cfg.Heads != 0 {
		return nil, fmt.Errorf("dim %d not divisible by %d heads", cfg.Dim, cfg.Heads)
	}
	if cfg.K < 1 {
		return nil, fmt.Errorf("k-mer size must be positive, got %d", cfg.K)
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5851f42d4c957f2d))
	tok := model.KmerTokenizer{K: cfg.K, CLS: cfg.CLS}
	hd := cfg.Dim / cfg.Heads

	n := &Network{
		cfg:     cfg,
		tok:     tok,
		headDim: hd,
		embed:   randDense(rng, tok.VocabSize(), cfg.Dim, 1),
		pos:     sinusoidal(cfg.MaxTokens, cfg.Dim),
	}

	scale := 1 / math.Sqrt(float64(cfg.Dim))
	for range cfg.Layers {
		b := block{
			wo: randDense(rng, cfg.Dim, cfg.Dim, scale),
			w1: randDense(rng, cfg.Dim, 2*cfg.Dim, scale),
			w2: randDense(rng, 2*cfg.Dim, cfg.Dim, 1/math.Sqrt(float64(2*cfg.Dim))),
		}
		for range cfg.Heads {
			// Queries and keys get a larger scale so attention is peaked
			// enough for token changes to move it.
			b.wq = append(b.wq, randDense(rng, cfg.Dim, hd, 2*scale))
			b.wk = append(b.wk, randDense(rng, cfg.Dim, hd, 2*scale))
			b.wv = append(b.wv, randDense(rng, cfg.Dim, hd, scale))
		}
		n.blocks = append(n.blocks, b)
	}
	return n, nil
}

// Name identifies the network and its shape.
func (n *Network) Name() string {
	return fmt.Sprintf("attnnet-L%dH%dD%dK%d-s%d", n.cfg.Layers, n.cfg.Heads, n.cfg.Dim, n.cfg.K, n.cfg.Seed)
}

// Tokenize splits seq into k-mer tokens.
func (n *Network) Tokenize(seq string) (model.Tokens, error) {
	return n.tok.Tokenize(seq)
}

// Forward runs the encoder, applying patches to the residual stream before
// the layer each one names.
func (n *Network) Forward(ctx context.Context, ids []int, patches ...model.Patch) (*model.Output, error) {
	T := len(ids)
	if T == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if T > n.cfg.MaxTokens {
		return nil, fmt.Errorf("%d tokens exceeds maximum of %d", T, n.cfg.MaxTokens)
	}
	for _, p := range patches {
		if p.Layer < 0 || p.Layer >= n.cfg.Layers {
			return nil, fmt.Errorf("patch layer %d outside [0,%d)", p.Layer, n.cfg.Layers)
		}
		if p.Position < 0 || p.Position >= T {
			return nil, fmt.Errorf("patch position %d outside [0,%d)", p.Position, T)
		}
		if len(p.Hidden) != n.cfg.Dim {
			return nil, fmt.Errorf("patch width %d, want %d", len(p.Hidden), n.cfg.Dim)
		}
	}

	vocab, _ := n.embed.Dims()
	x := mat.NewDense(T, n.cfg.Dim, nil)
	for i, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("token %d at %d outside vocabulary of %d", id, i, vocab)
		}
		row := x.RawRowView(i)
		emb := n.embed.RawRowView(id)
		pe := n.pos.RawRowView(i)
		for j := range row {
			row[j] = emb[j] + pe[j]
		}
	}

	out := &model.Output{
		Attention: make(model.Attention, n.cfg.Layers),
		Hidden:    make([]*mat.Dense, 0, n.cfg.Layers+1),
	}

	for l, b := range n.blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, p := range patches {
			if p.Layer == l {
				x.SetRow(p.Position, p.Hidden)
			}
		}
		out.Hidden = append(out.Hidden, mat.DenseCopyOf(x))

		attn, next := n.block(b, x)
		out.Attention[l] = attn
		x = next
	}
	out.Hidden = append(out.Hidden, x)

	return out, nil
}

// block runs one encoder layer: multi-head self-attention and a ReLU
// feed-forward, each followed by a residual add and layer norm.
func (n *Network) block(b block, x *mat.Dense) ([]*mat.Dense, *mat.Dense) {
	T, d := x.Dims()
	hd := n.headDim
	inv := 1 / math.Sqrt(float64(hd))

	concat := mat.NewDense(T, d, nil)
	attn := make([]*mat.Dense, len(b.wq))
	for h := range b.wq {
		var q, k, v mat.Dense
		q.Mul(x, b.wq[h])
		k.Mul(x, b.wk[h])
		v.Mul(x, b.wv[h])

		scores := mat.NewDense(T, T, nil)
		scores.Mul(&q, k.T())
		scores.Scale(inv, scores)
		softmaxRows(scores)
		attn[h] = scores

		var ctxv mat.Dense
		ctxv.Mul(scores, &v)
		concat.Slice(0, T, h*hd, (h+1)*hd).(*mat.Dense).Copy(&ctxv)
	}

	var proj mat.Dense
	proj.Mul(concat, b.wo)
	proj.Add(&proj, x)
	layerNorm(&proj)

	var hidden mat.Dense
	hidden.Mul(&proj, b.w1)
	hidden.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, &hidden)

	ff := mat.NewDense(T, d, nil)
	ff.Mul(&hidden, b.w2)
	ff.Add(ff, &proj)
	layerNorm(ff)

	return attn, ff
}

func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		maxv := math.Inf(-1)
		for _, v := range row {
			maxv = math.Max(maxv, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - maxv)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

func layerNorm(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(c)
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		std := math.Sqrt(variance/float64(c) + 1e-5)
		for j := range row {
			row[j] = (row[j] - mean) / std
		}
	}
}

func randDense(rng *rand.Rand, r, c int, scale float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(r, c, data)
}

func sinusoidal(T, d int) *mat.Dense {
	m := mat.NewDense(T, d, nil)
	for p := 0; p < T; p++ {
		row := m.RawRowView(p)
		for i := 0; i < d; i += 2 {
			freq := math.Pow(10000, -float64(i)/float64(d))
			row[i] = math.Sin(float64(p) * freq)
			if i+1 < d {
				row[i+1] = math.Cos(float64(p) * freq)
			}
		}
	}
	return m
}
