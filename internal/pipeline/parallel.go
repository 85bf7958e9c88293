package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/inodb/vibe-attn/internal/analysis"
	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/store"
)

// WorkItem holds a sequence pair ready for the model.
type WorkItem struct {
	Seq  int
	Pair store.PairRecord
}

// Output is everything the run stage keeps for one pair.
type Output struct {
	Deltas []analysis.Delta
	Patch  patch.Result
}

// WorkResult holds the output for a single pair.
type WorkResult struct {
	Seq    int
	Pair   store.PairRecord
	Output *Output
	Err    error
}

// ProcessFunc runs the model work for one pair.
type ProcessFunc func(ctx context.Context, pr store.PairRecord) (*Output, error)

// ProcessBatch runs fn over work items using a pool of workers.
// Results are sent to the returned channel in arrival order (not sequence order).
// Use OrderedCollect to consume results in sequence-number order.
// If workers is 0, runtime.NumCPU() is used. Once ctx is cancelled the
// remaining items are returned with ctx.Err().
func ProcessBatch(ctx context.Context, items <-chan WorkItem, workers int, fn ProcessFunc) <-chan WorkResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				var out *Output
				err := ctx.Err()
				if err == nil {
					out, err = fn(ctx, item.Pair)
				}
				results <- WorkResult{
					Seq:    item.Seq,
					Pair:   item.Pair,
					Output: out,
					Err:    err,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect calls fn for each result in sequence-number order.
// It buffers out-of-order results in a pending map and emits them
// as soon as the next expected sequence number is available.
// Blocks until the results channel is closed.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult) error) error {
	pending := make(map[int]WorkResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r

		for {
			rr, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := fn(rr); err != nil {
				// Drain remaining results to unblock workers.
				for range results {
				}
				return err
			}
		}
	}

	return nil
}

// batchItems queues a batch on a closed, fully buffered channel.
func batchItems(batch []store.PairRecord) <-chan WorkItem {
	ch := make(chan WorkItem, len(batch))
	for i, pr := range batch {
		ch <- WorkItem{Seq: i, Pair: pr}
	}
	close(ch)
	return ch
}
