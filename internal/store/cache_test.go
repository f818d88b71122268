package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadCacheEviction(t *testing.T) {
	c, err := NewPayloadCache(2)
	require.NoError(t, err)

	c.Add("a", []byte("1"))
	c.Add("b", []byte("2"))
	_, _ = c.Get("a")
	c.Add("c", []byte("3"))

	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"), "least recently used entry should be evicted")
	assert.True(t, c.Has("c"))
	assert.Equal(t, 2, c.Len())
}

func TestPayloadCacheRetain(t *testing.T) {
	c, err := NewPayloadCache(8)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		c.Add(id, []byte(id))
	}
	c.Retain(map[string]struct{}{"b": {}})

	assert.Equal(t, 1, c.Len())
	data, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), data)
}

func TestNilPayloadCache(t *testing.T) {
	c, err := NewPayloadCache(0)
	require.NoError(t, err)
	assert.Nil(t, c)

	c.Add("a", []byte("1"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Remove("a")
	c.Retain(nil)
	c.Clear()
	assert.Zero(t, c.Len())
}
