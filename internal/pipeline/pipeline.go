// Package pipeline runs the stages in order: load variants, extract sequence
// pairs, run the model with activation patching, and analyze the deltas.
// Every stage reads its input from the store and writes its own tables.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/inodb/vibe-attn/internal/analysis"
	"github.com/inodb/vibe-attn/internal/genome"
	"github.com/inodb/vibe-attn/internal/model"
	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/qc"
	"github.com/inodb/vibe-attn/internal/runner"
	"github.com/inodb/vibe-attn/internal/store"
	"github.com/inodb/vibe-attn/internal/variants"
	"github.com/inodb/vibe-attn/internal/vcf"
	"github.com/inodb/vibe-attn/internal/window"
)

// Options configures every stage.
type Options struct {
	Variants         variants.Options
	WindowSize       int
	PatchLayer       int
	BatchSize        int
	Workers          int // 1 runs the model single-threaded; 0 uses every CPU
	CentralityRadius int
	MinGroupSize     int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WindowSize:       601,
		PatchLayer:       1,
		BatchSize:        32,
		Workers:          1,
		CentralityRadius: 1,
		MinGroupSize:     5,
	}
}

// Counts summarizes one stage invocation.
type Counts struct {
	In       int
	Out      int
	Excluded int
}

// Pipeline runs stages against a store.
type Pipeline struct {
	store  *store.Store
	opts   Options
	logger *zap.Logger
}

// New creates a pipeline over s.
func New(s *store.Store, opts Options) *Pipeline {
	return &Pipeline{store: s, opts: opts, logger: zap.NewNop()}
}

// SetLogger sets the logger for progress and warnings.
func (p *Pipeline) SetLogger(l *zap.Logger) {
	p.logger = l
}

// Load reads a ClinVar VCF, writes the cleaned variants and their
// exclusions, and clears every later stage.
func (p *Pipeline) Load(src vcf.Source) (Counts, error) {
	loader := variants.NewLoader(p.opts.Variants)
	loader.SetLogger(p.logger)
	excl := qc.NewLog(p.logger)

	var records []variants.Record
	return p.stage(qc.StageLoad, excl, func(run *store.Run) error {
		var err error
		records, err = loader.Load(src, excl)
		if err != nil {
			return err
		}
		run.In = int64(loader.Read())
		return p.store.WriteVariants(records)
	}, func() int { return len(records) })
}

// ImportTable loads a cleaned variant table instead of a VCF. The rows go
// through the same filters as VCF records.
func (p *Pipeline) ImportTable(path string) (Counts, error) {
	loader := variants.NewLoader(p.opts.Variants)
	loader.SetLogger(p.logger)
	excl := qc.NewLog(p.logger)

	var records []variants.Record
	return p.stage(qc.StageLoad, excl, func(run *store.Run) error {
		raw, err := p.store.ImportVariantTable(path)
		if err != nil {
			return err
		}
		run.In = int64(len(raw))
		records = loader.Clean(raw, excl)
		return p.store.WriteVariants(records)
	}, func() int { return len(records) })
}

// Extract cuts a sequence pair for every loaded variant.
func (p *Pipeline) Extract(ref genome.Reference) (Counts, error) {
	ext, err := window.NewExtractor(ref, p.opts.WindowSize)
	if err != nil {
		return Counts{}, err
	}
	excl := qc.NewLog(p.logger)

	var written int
	return p.stage(qc.StageExtract, excl, func(run *store.Run) error {
		records, err := p.store.ReadVariants()
		if err != nil {
			return err
		}
		run.In = int64(len(records))

		var pairs []window.Pair
		flush := func() error {
			if err := p.store.WritePairs(pairs); err != nil {
				return err
			}
			written += len(pairs)
			pairs = pairs[:0]
			return nil
		}
		for _, r := range records {
			pair, err := ext.Extract(r.Key)
			if err != nil {
				if ex, ok := qc.AsExclusion(err); ok {
					excl.Record(ex)
					continue
				}
				return err
			}
			if err := pair.Validate(); err != nil {
				return err
			}
			pairs = append(pairs, pair)
			if len(pairs) >= 1000 {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	}, func() int { return written })
}

// Run feeds every sequence pair through m in batches, patches the variant
// token, and writes deltas and patch results. It returns the patch
// aggregate over all variants; a warning is logged whenever a batch or the
// whole run does not support the causal claim.
func (p *Pipeline) Run(ctx context.Context, m model.Model) (Counts, patch.Aggregate, error) {
	patcher, err := patch.New(p.opts.PatchLayer)
	if err != nil {
		return Counts{}, patch.Aggregate{}, err
	}
	batchSize := p.opts.BatchSize
	if batchSize < 1 {
		batchSize = DefaultOptions().BatchSize
	}
	excl := qc.NewLog(p.logger)

	var all []patch.Result
	var batchNum int
	counts, err := p.stage(qc.StageRun, excl, func(run *store.Run) error {
		run.Model = m.Name()
		p.logger.Info("running model", zap.String("model", m.Name()),
			zap.Int("batch_size", batchSize), zap.Int("workers", p.opts.Workers),
			zap.Int("patch_layer", patcher.Layer))

		return p.store.ForEachPairBatch(ctx, batchSize, func(batch []store.PairRecord) error {
			batchNum++
			run.In += int64(len(batch))

			fn := func(ctx context.Context, pr store.PairRecord) (*Output, error) {
				return processPair(ctx, m, patcher, pr)
			}
			results := ProcessBatch(ctx, batchItems(batch), p.opts.Workers, fn)

			var deltas []analysis.Delta
			var patches []patch.Result
			excluded := excl.Len()
			err := OrderedCollect(results, func(r WorkResult) error {
				if r.Err != nil {
					if ex, ok := qc.AsExclusion(r.Err); ok {
						excl.Record(ex)
						return nil
					}
					return r.Err
				}
				deltas = append(deltas, r.Output.Deltas...)
				patches = append(patches, r.Output.Patch)
				return nil
			})
			if err != nil {
				return err
			}

			if err := p.store.WriteDeltas(deltas); err != nil {
				return err
			}
			if err := p.store.WritePatchResults(patches); err != nil {
				return err
			}
			all = append(all, patches...)

			agg := patch.Summarize(patches)
			p.logger.Info("batch done",
				zap.Int("batch", batchNum),
				zap.Int("pairs", len(batch)),
				zap.Int("excluded", excl.Len()-excluded),
				zap.Float64("mean_recovery", agg.MeanRecovery))
			if agg.N > 0 && !agg.Supported {
				p.logger.Warn("patching does not move attention toward the alternate in this batch",
					zap.Int("batch", batchNum),
					zap.Float64("mean_dist_ref_alt", agg.MeanDistRefAlt),
					zap.Float64("mean_dist_patched_alt", agg.MeanDistPatchedAlt))
			}
			return nil
		})
	}, func() int { return len(all) })
	if err != nil {
		return counts, patch.Aggregate{}, err
	}

	agg := patch.Summarize(all)
	if !agg.Supported {
		p.logger.Warn("causal claim not supported",
			zap.Int("variants", agg.N),
			zap.Float64("mean_dist_ref_alt", agg.MeanDistRefAlt),
			zap.Float64("mean_dist_patched_alt", agg.MeanDistPatchedAlt))
	}
	return counts, agg, nil
}

// processPair runs both sequences, patches the variant token, and computes
// deltas for the alternate and patched contrasts.
func processPair(ctx context.Context, m model.Model, patcher *patch.Patcher, pr store.PairRecord) (*Output, error) {
	res, err := runner.Run(ctx, m, pr.Pair)
	if err != nil {
		return nil, err
	}
	pres, patched, err := patcher.Evaluate(ctx, m, res)
	if err != nil {
		return nil, err
	}

	altDeltas, err := analysis.Deltas(pr.Pair.Key, analysis.ContrastAlt,
		res.Ref.Attention, res.Alt.Attention, res.Tokens, res.VariantToken)
	if err != nil {
		return nil, err
	}
	patchedDeltas, err := analysis.Deltas(pr.Pair.Key, analysis.ContrastPatched,
		res.Ref.Attention, patched, res.Tokens, res.VariantToken)
	if err != nil {
		return nil, err
	}

	return &Output{
		Deltas: append(altDeltas, patchedDeltas...),
		Patch:  pres,
	}, nil
}

// Analyze summarizes the stored deltas of every variant and groups them by
// significance and functional class.
func (p *Pipeline) Analyze() (Counts, []analysis.GroupSummary, error) {
	excl := qc.NewLog(p.logger)
	var summaries []analysis.VariantSummary
	var groups []analysis.GroupSummary

	counts, err := p.stage(qc.StageAnalyze, excl, func(run *store.Run) error {
		records, err := p.store.ReadVariants()
		if err != nil {
			return err
		}
		byKey := make(map[vcf.Key]variants.Record, len(records))
		for _, r := range records {
			byKey[r.Key] = r
		}

		var layers []analysis.LayerSummary
		err = p.store.ForEachDeltaGroup(func(key vcf.Key, contrast string, deltas []analysis.Delta) error {
			rec, ok := byKey[key]
			if !ok {
				return fmt.Errorf("deltas for %s have no variant record", key)
			}
			if contrast == analysis.ContrastAlt {
				run.In++
			}
			vs, ls, err := analysis.Summarize(rec, contrast, deltas, p.opts.CentralityRadius)
			if err != nil {
				ex, ok := qc.AsExclusion(err)
				if !ok {
					return err
				}
				// Only the alternate contrast decides whether a variant
				// has a delta at all.
				if contrast == analysis.ContrastAlt {
					excl.Record(ex)
				} else {
					p.logger.Debug("no patched delta", zap.String("variant", key.String()))
				}
				return nil
			}
			summaries = append(summaries, vs)
			layers = append(layers, ls...)
			return nil
		})
		if err != nil {
			return err
		}

		// Variants excluded above must not reach the summary tables.
		zero := make(map[vcf.Key]bool)
		for _, e := range excl.Entries() {
			zero[e.Key] = true
		}
		summaries = dropKeys(summaries, zero, func(s analysis.VariantSummary) vcf.Key { return s.Key })
		layers = dropKeys(layers, zero, func(l analysis.LayerSummary) vcf.Key { return l.Key })

		if err := p.store.WriteVariantSummaries(summaries); err != nil {
			return err
		}
		if err := p.store.WriteLayerSummaries(layers); err != nil {
			return err
		}

		groups, err = p.groups(summaries)
		return err
	}, func() int {
		n := 0
		for _, s := range summaries {
			if s.Contrast == analysis.ContrastAlt {
				n++
			}
		}
		return n
	})
	return counts, groups, err
}

// Groups recomputes the group summaries from stored tables.
func (p *Pipeline) Groups() ([]analysis.GroupSummary, error) {
	summaries, err := p.store.ReadVariantSummaries()
	if err != nil {
		return nil, err
	}
	return p.groups(summaries)
}

func (p *Pipeline) groups(summaries []analysis.VariantSummary) ([]analysis.GroupSummary, error) {
	results, err := p.store.ReadPatchResults()
	if err != nil {
		return nil, err
	}
	patches := make(map[vcf.Key]patch.Result, len(results))
	for _, r := range results {
		patches[r.Key] = r
	}

	groups := analysis.Group(summaries, patches, p.opts.MinGroupSize)
	for _, g := range groups {
		if g.Warning != "" {
			p.logger.Warn("small group",
				zap.String("grouping", string(g.Grouping)),
				zap.String("contrast", g.Contrast),
				zap.String("significance", g.Significance),
				zap.String("functional_class", g.FunctionalClass),
				zap.Int("n", g.N))
		}
	}
	return groups, nil
}

// PatchAggregate summarizes the stored patch results.
func (p *Pipeline) PatchAggregate() (patch.Aggregate, error) {
	results, err := p.store.ReadPatchResults()
	if err != nil {
		return patch.Aggregate{}, err
	}
	return patch.Summarize(results), nil
}

// stage resets the stage's tables, runs body, then writes exclusions and a
// runs row. out reports the number of records the stage produced.
func (p *Pipeline) stage(st qc.Stage, excl *qc.Log, body func(run *store.Run) error, out func() int) (Counts, error) {
	if err := p.store.ResetStage(st); err != nil {
		return Counts{}, fmt.Errorf("reset %s: %w", st, err)
	}
	run := store.StartRun(st)
	p.logger.Info("stage started", zap.String("stage", string(st)), zap.String("run_id", run.ID))

	if err := body(run); err != nil {
		return Counts{}, fmt.Errorf("%s stage: %w", st, err)
	}
	if err := p.store.WriteExclusions(excl.Entries()); err != nil {
		return Counts{}, fmt.Errorf("write %s exclusions: %w", st, err)
	}

	run.Out = int64(out())
	run.Excluded = int64(excl.Len())
	if err := p.store.FinishRun(run); err != nil {
		return Counts{}, fmt.Errorf("record %s run: %w", st, err)
	}

	c := Counts{In: int(run.In), Out: int(run.Out), Excluded: int(run.Excluded)}
	p.logger.Info("stage finished",
		zap.String("stage", string(st)),
		zap.Int("in", c.In),
		zap.Int("out", c.Out),
		zap.Int("excluded", c.Excluded))
	for _, cc := range qc.Counts(excl.Entries()) {
		p.logger.Info("exclusions", zap.String("stage", string(st)),
			zap.String("reason", string(cc.Code)), zap.Int("count", cc.Count))
	}
	return c, nil
}

func dropKeys[T any](items []T, drop map[vcf.Key]bool, key func(T) vcf.Key) []T {
	if len(drop) == 0 {
		return items
	}
	out := items[:0]
	for _, it := range items {
		if !drop[key(it)] {
			out = append(out, it)
		}
	}
	return out
}
