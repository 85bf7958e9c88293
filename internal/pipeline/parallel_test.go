package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-attn/internal/patch"
	"github.com/inodb/vibe-attn/internal/store"
	"github.com/inodb/vibe-attn/internal/vcf"
	"github.com/inodb/vibe-attn/internal/window"
)

func makeBatch(n int) []store.PairRecord {
	batch := make([]store.PairRecord, n)
	for i := range batch {
		batch[i].Pair = window.Pair{Key: vcf.Key{Chrom: "1", Pos: int64(100 + i), Ref: "A", Alt: "T"}}
	}
	return batch
}

// echo returns the pair position as a patch result after a short,
// position-dependent delay so workers finish out of order.
func echo(_ context.Context, pr store.PairRecord) (*Output, error) {
	time.Sleep(time.Duration(pr.Pair.Key.Pos%3) * time.Millisecond)
	return &Output{Patch: patch.Result{Key: pr.Pair.Key}}, nil
}

func TestProcessBatch_OrderPreservation(t *testing.T) {
	results := ProcessBatch(context.Background(), batchItems(makeBatch(200)), 8, echo)

	var collected []int
	err := OrderedCollect(results, func(r WorkResult) error {
		require.NoError(t, r.Err)
		assert.Equal(t, r.Pair.Pair.Key, r.Output.Patch.Key)
		collected = append(collected, r.Seq)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, collected, 200)
	for i, seq := range collected {
		assert.Equal(t, i, seq, "result %d out of order", i)
	}
}

func TestProcessBatch_SingleWorker(t *testing.T) {
	results := ProcessBatch(context.Background(), batchItems(makeBatch(50)), 1, echo)

	var collected []int
	err := OrderedCollect(results, func(r WorkResult) error {
		collected = append(collected, r.Seq)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, collected, 50)
	for i, seq := range collected {
		assert.Equal(t, i, seq)
	}
}

func TestProcessBatch_EmptyInput(t *testing.T) {
	results := ProcessBatch(context.Background(), batchItems(nil), 4, echo)

	count := 0
	err := OrderedCollect(results, func(r WorkResult) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	fn := func(context.Context, store.PairRecord) (*Output, error) {
		called = true
		return &Output{}, nil
	}
	results := ProcessBatch(ctx, batchItems(makeBatch(5)), 2, fn)

	err := OrderedCollect(results, func(r WorkResult) error {
		return r.Err
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestOrderedCollect_EarlyError(t *testing.T) {
	results := ProcessBatch(context.Background(), batchItems(makeBatch(100)), 4, echo)

	count := 0
	err := OrderedCollect(results, func(r WorkResult) error {
		count++
		if count == 5 {
			return fmt.Errorf("stop at 5")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 5, count)
}
