package mergebuffer

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type kv struct {
	key int
	tag string // distinguishes otherwise-equal-key entries for stability checks
}

func lessKV(a, b kv) bool { return a.key < b.key }

func TestAppendSortedFastPath(t *testing.T) {
	b := New[kv](lessKV)
	b.AppendSorted([]kv{{1, "a"}, {2, "a"}, {3, "a"}})
	b.AppendSorted([]kv{{4, "a"}, {5, "a"}})
	out := b.TakeSorted()
	require.Equal(t, []int{1, 2, 3, 4, 5}, keys(out))
	require.Equal(t, 0, b.Runs())
}

func TestMergeSortedInterleaved(t *testing.T) {
	b := New[kv](lessKV)
	b.MergeSorted([]kv{{1, "a"}, {3, "a"}, {5, "a"}})
	b.MergeSorted([]kv{{2, "a"}, {4, "a"}, {6, "a"}})
	out := b.TakeSorted()
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, keys(out))
}

func TestMergeUnsortedSortsByKey(t *testing.T) {
	b := New[kv](lessKV)
	b.MergeUnsorted([]kv{{3, "a"}, {1, "a"}, {2, "a"}})
	out := b.TakeSorted()
	require.Equal(t, []int{1, 2, 3}, keys(out))
}

func TestStabilityAcrossOperations(t *testing.T) {
	b := New[kv](lessKV)
	b.AppendSorted([]kv{{1, "first"}})
	b.MergeSorted([]kv{{1, "second"}})
	b.MergeUnsorted([]kv{{1, "third"}})
	out := b.TakeSorted()
	require.Len(t, out, 3)
	require.Equal(t, []string{"first", "second", "third"}, tags(out))
}

func TestTakeSortedIsGloballySortedPermutation(t *testing.T) {
	b := New[kv](lessKV)
	input := []kv{{5, "a"}, {3, "b"}, {9, "c"}, {1, "d"}, {1, "e"}, {7, "f"}}
	b.MergeUnsorted(input[:3])
	b.AppendSorted([]kv{{1, "d"}})
	b.MergeSorted([]kv{{1, "e"}, {7, "f"}})
	out := b.TakeSorted()
	ks := keys(out)
	require.True(t, sort.IntsAreSorted(ks))
	require.Len(t, out, len(input))
	require.Equal(t, 0, b.Runs())
}

func TestManyRunsHeapReduction(t *testing.T) {
	b := New[kv](lessKV)
	for i := 0; i < 20; i++ {
		b.MergeSorted([]kv{{i*2 + 1, "a"}})
		b.MergeSorted([]kv{{i * 2, "a"}})
	}
	out := b.TakeSorted()
	require.True(t, sort.IntsAreSorted(keys(out)))
	require.Len(t, out, 40)
}

func keys(out []kv) []int {
	ks := make([]int, len(out))
	for i, v := range out {
		ks[i] = v.key
	}
	return ks
}

func tags(out []kv) []string {
	ts := make([]string, len(out))
	for i, v := range out {
		ts[i] = v.tag
	}
	return ts
}
