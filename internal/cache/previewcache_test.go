package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSizeMB int) *PreviewCache {
	t.Helper()
	c, err := NewPreviewCache(t.TempDir(), maxSizeMB, 8, 30)
	require.NoError(t, err)
	return c
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("thumbnail", "Sentinel-2", "NDVI")
	b := Key("thumbnail", "Sentinel-2", "NDVI")
	c := Key("thumbnail", "Sentinel-2", "NDWI")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestKeyPartBoundaries(t *testing.T) {
	// Concatenation across part boundaries must not collide.
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t, 10)

	key := Key("thumbnail", "test")
	data := []byte("png bytes")

	require.NoError(t, c.Set(key, data))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok = c.Get(Key("other"))
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := NewPreviewCache(dir, 10, 8, 30)
	require.NoError(t, err)

	key := Key("thumbnail", "persisted")
	require.NoError(t, c.Set(key, []byte("data")))

	reopened, err := NewPreviewCache(dir, 10, 8, 30)
	require.NoError(t, err)

	got, ok := reopened.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("data"), got)
}

func TestOverwriteReplacesEntry(t *testing.T) {
	c := newTestCache(t, 10)

	key := Key("thumbnail", "x")
	require.NoError(t, c.Set(key, []byte("first")))
	require.NoError(t, c.Set(key, []byte("second")))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)

	entries, size, _ := c.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(len("second")), size)
}

func TestClear(t *testing.T) {
	c := newTestCache(t, 10)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(Key("entry", fmt.Sprint(i)), []byte("data")))
	}

	entries, _, _ := c.Stats()
	assert.Equal(t, 5, entries)

	require.NoError(t, c.Clear())

	entries, size, _ := c.Stats()
	assert.Equal(t, 0, entries)
	assert.Equal(t, int64(0), size)

	_, ok := c.Get(Key("entry", "0"))
	assert.False(t, ok)
}

func TestEvict(t *testing.T) {
	c := newTestCache(t, 10)
	// Force a tiny disk budget so eviction has work to do.
	c.maxSize = 100

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(Key("entry", fmt.Sprint(i)), make([]byte, 30)))
	}

	c.evict()

	_, size, _ := c.Stats()
	assert.LessOrEqual(t, size, int64(100))
}

func TestRejectsShortKey(t *testing.T) {
	c := newTestCache(t, 10)
	assert.Error(t, c.Set("x", []byte("data")))
}
