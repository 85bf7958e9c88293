// Package remote reaches a pretrained model served over HTTP by a sidecar
// process (for example a Python server wrapping a genomic foundation model).
//
// Protocol:
//
//	POST /tokenize {"sequence": "ACGT..."}
//	  -> {"ids": [...], "spans": [[start, end], ...]}
//	POST /forward  {"ids": [...], "patches": [{"layer", "position", "hidden"}]}
//	  -> {"attention": [layer][head][query][key], "hidden": [layer][token][dim]}
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-attn/internal/model"
)

// Client implements model.Model against a model server.
type Client struct {
	baseURL string
	name    string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL, name string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		http:    &http.Client{Timeout: timeout},
	}
}

// Name returns the configured model name.
func (c *Client) Name() string {
	return c.name
}

type tokenizeRequest struct {
	Sequence string `json:"sequence"`
}

type tokenizeResponse struct {
	IDs   []int    `json:"ids"`
	Spans [][2]int `json:"spans"`
}

type patchJSON struct {
	Layer    int       `json:"layer"`
	Position int       `json:"position"`
	Hidden   []float64 `json:"hidden"`
}

type forwardRequest struct {
	IDs     []int       `json:"ids"`
	Patches []patchJSON `json:"patches,omitempty"`
}

type forwardResponse struct {
	Attention [][][][]float64 `json:"attention"`
	Hidden    [][][]float64   `json:"hidden"`
}

// Tokenize asks the server to tokenize seq.
func (c *Client) Tokenize(seq string) (model.Tokens, error) {
	var resp tokenizeResponse
	if err := c.post(context.Background(), "/tokenize", tokenizeRequest{Sequence: seq}, &resp); err != nil {
		return model.Tokens{}, err
	}
	if len(resp.Spans) != len(resp.IDs) {
		return model.Tokens{}, fmt.Errorf("tokenize: %d ids but %d spans", len(resp.IDs), len(resp.Spans))
	}

	toks := model.Tokens{IDs: resp.IDs, Spans: make([]model.Span, len(resp.Spans))}
	for i, s := range resp.Spans {
		toks.Spans[i] = model.Span{Start: s[0], End: s[1]}
	}
	return toks, nil
}

// Forward runs inference on the server.
func (c *Client) Forward(ctx context.Context, ids []int, patches ...model.Patch) (*model.Output, error) {
	req := forwardRequest{IDs: ids}
	for _, p := range patches {
		req.Patches = append(req.Patches, patchJSON{Layer: p.Layer, Position: p.Position, Hidden: p.Hidden})
	}

	var resp forwardResponse
	if err := c.post(ctx, "/forward", req, &resp); err != nil {
		return nil, err
	}

	att, err := model.NewAttention(resp.Attention)
	if err != nil {
		return nil, fmt.Errorf("forward: attention: %w", err)
	}
	if att.Tokens() != len(ids) {
		return nil, fmt.Errorf("forward: attention over %d tokens, sent %d", att.Tokens(), len(ids))
	}

	out := &model.Output{Attention: att}
	for l, rows := range resp.Hidden {
		if len(rows) == 0 || len(rows) != len(ids) || len(rows[0]) == 0 {
			return nil, fmt.Errorf("forward: hidden layer %d has %d rows, want %d", l, len(rows), len(ids))
		}
		d := len(rows[0])
		flat := make([]float64, 0, len(rows)*d)
		for _, r := range rows {
			if len(r) != d {
				return nil, fmt.Errorf("forward: ragged hidden state at layer %d", l)
			}
			flat = append(flat, r...)
		}
		out.Hidden = append(out.Hidden, mat.NewDense(len(rows), d, flat))
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("model server %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model server %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
