package batcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func weightOne(int) uint64 { return 1 }

func TestImmediateAlwaysSingleton(t *testing.T) {
	b := New[int](100, 10, Immediate)
	for i := 0; i < 5; i++ {
		out := b.PushWith(i, weightOne)
		require.Equal(t, []int{i}, out)
	}
	require.Nil(t, b.Flush())
}

func TestDeferredByWeight(t *testing.T) {
	b := New[int](3, 100, Deferred)
	require.Nil(t, b.PushWith(1, weightOne))
	require.Nil(t, b.PushWith(2, weightOne))
	out := b.PushWith(3, weightOne)
	require.Equal(t, []int{1, 2, 3}, out)
	require.True(t, b.IsEmpty())
}

func TestDeferredByCap(t *testing.T) {
	b := New[int](1000, 2, Deferred)
	require.Nil(t, b.PushWith(1, weightOne))
	out := b.PushWith(2, weightOne)
	require.Equal(t, []int{1, 2}, out)
}

func TestDeferredFlushRemainder(t *testing.T) {
	b := New[int](100, 100, Deferred)
	b.PushWith(1, weightOne)
	b.PushWith(2, weightOne)
	out := b.Flush()
	require.Equal(t, []int{1, 2}, out)
	require.True(t, b.IsEmpty())
}

func TestLinearSyncScenario(t *testing.T) {
	// spec §8 scenario 1: heights 1..10, min_batch_size=3, weight_of=1.
	b := New[int](3, 1<<30, Deferred)
	var batches [][]int
	for h := 1; h <= 10; h++ {
		if out := b.PushWith(h, weightOne); out != nil {
			batches = append(batches, out)
		}
	}
	if rest := b.Flush(); len(rest) > 0 {
		batches = append(batches, rest)
	}
	require.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10}}, batches)
}

func TestConcatenationPreservesOrder(t *testing.T) {
	b := New[int](5, 3, Deferred)
	var all []int
	var batches [][]int
	weights := map[int]uint64{1: 2, 2: 1, 3: 4, 4: 1, 5: 1, 6: 1, 7: 10}
	for i := 1; i <= 7; i++ {
		all = append(all, i)
		if out := b.PushWith(i, func(x int) uint64 { return weights[x] }); out != nil {
			batches = append(batches, out)
			for _, w := range out {
				require.Contains(t, all, w)
			}
		}
	}
	if rest := b.Flush(); len(rest) > 0 {
		batches = append(batches, rest)
	}
	var flat []int
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	require.Equal(t, all, flat)
	for _, batch := range batches[:len(batches)-1] {
		var sum uint64
		for _, v := range batch {
			sum += weights[v]
		}
		require.True(t, sum >= 5 || len(batch) >= 3)
	}
}
