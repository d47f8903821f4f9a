package reorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinearInOrder(t *testing.T) {
	buf := New[int](1, 8)
	var out []int
	for h := uint64(1); h <= 10; h++ {
		out = append(out, buf.Insert(h, int(h))...)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, out)
	require.Equal(t, uint64(11), buf.NextExpected())
}

func TestOutOfOrderProcessing(t *testing.T) {
	buf := New[int](1, 8)
	var out []int
	order := []uint64{3, 1, 4, 2, 5}
	for _, h := range order {
		out = append(out, buf.Insert(h, int(h))...)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, out)
}

func TestDroppedTooLow(t *testing.T) {
	buf := New[int](100, 8)
	buf.Insert(100, 1)
	require.Empty(t, buf.Insert(50, 2))
	require.Equal(t, uint64(1), buf.DroppedTooLow())
}

func TestGapWithLateFill(t *testing.T) {
	buf := New[int](100, 8)
	for h := uint64(101); h <= 130; h++ {
		if h == 115 {
			continue
		}
		out := buf.Insert(h, int(h))
		require.Empty(t, out, "nothing should emit before 100 arrives")
	}
	require.True(t, buf.IsSaturated())

	out := buf.Insert(100, 100)
	expected := make([]int, 0, 15)
	for h := 100; h <= 114; h++ {
		expected = append(expected, h)
	}
	require.Equal(t, expected, out)
	require.True(t, buf.IsSaturated(), "116..130 still pending behind the gap at 115")

	out = buf.Insert(115, 115)
	expected = expected[:0]
	for h := 115; h <= 130; h++ {
		expected = append(expected, h)
	}
	require.Equal(t, expected, out)
}

func TestIsSaturated(t *testing.T) {
	buf := New[int](1, 3)
	require.False(t, buf.IsSaturated())
	buf.Insert(2, 2)
	buf.Insert(3, 3)
	require.False(t, buf.IsSaturated())
	buf.Insert(4, 4)
	require.True(t, buf.IsSaturated())

	need, seen, ok := buf.GapSpan()
	require.True(t, ok)
	require.Equal(t, uint64(1), need)
	require.Equal(t, uint64(4), seen)
}
