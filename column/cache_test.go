package column

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCacheDisabledWhenSizeIsZero(t *testing.T) {
	c := newReadCache(0)
	c.put([]byte("k"), []byte("v"))
	_, ok := c.get([]byte("k"))
	require.False(t, ok)
}

func TestReadCacheRoundTripsAndEvicts(t *testing.T) {
	c := newReadCache(2)
	c.put([]byte("a"), []byte("1"))
	c.put([]byte("b"), []byte("2"))

	v, ok := c.get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	c.put([]byte("c"), []byte("3")) // evicts least-recently-used ("b", since "a" was just touched)
	_, ok = c.get([]byte("b"))
	require.False(t, ok)

	v, ok = c.get([]byte("c"))
	require.True(t, ok)
	require.Equal(t, []byte("3"), v)
}
