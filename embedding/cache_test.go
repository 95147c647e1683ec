package embedding

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c, err := NewCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	key := core.CacheKey("hello")
	_, ok := c.Get(key)
	assert.False(t, ok)

	require.NoError(t, c.Put(key, []float32{0.5, -1, 2}))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -1, 2}, got)

	// one file per key, named by the key
	_, err = os.Stat(filepath.Join(c.Root(), key+".json"))
	assert.NoError(t, err)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)

	key := core.CacheKey("broken")
	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), key+".json"), []byte("{not json"), 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "corrupt entry should be removed")
}

func TestCache_ConcurrentWritersSameKey(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)

	key := core.CacheKey("shared")
	vec := []float32{1, 2, 3}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Put(key, vec))
		}()
	}
	wg.Wait()

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no temp files left behind")
}

func TestCache_Clear(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Put("a", []float32{1}))
	require.NoError(t, c.Put("b", []float32{2}))
	require.NoError(t, c.Clear())

	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewCache_RequiresRoot(t *testing.T) {
	_, err := NewCache("")
	assert.Error(t, err)
}
