package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileText(text string) (*Compiled, error) {
	p, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return Compile(p)
}

func TestCacheHitsAndMisses(t *testing.T) {
	cache := NewCache(2)

	first, err := cache.GetOrCompile(reachEDN, compileText)
	require.NoError(t, err)
	second, err := cache.GetOrCompile(reachEDN, compileText)
	require.NoError(t, err)
	assert.Same(t, first, second)

	hits, misses, size := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)

	cache.Clear()
	hits, misses, size = cache.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
	assert.Zero(t, size)
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(2)
	texts := []string{
		`{:body (get a 1)}`,
		`{:body (get b 1)}`,
		`{:body (get c 1)}`,
	}
	for _, text := range texts {
		_, err := cache.GetOrCompile(text, compileText)
		require.NoError(t, err)
	}
	_, _, size := cache.Stats()
	assert.Equal(t, 2, size)

	// The oldest entry was evicted and compiles again.
	_, err := cache.GetOrCompile(texts[0], compileText)
	require.NoError(t, err)
	_, misses, _ := cache.Stats()
	assert.Equal(t, int64(4), misses)
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	cache := NewCache(0)
	calls := 0
	failing := func(string) (*Compiled, error) {
		calls++
		return nil, errors.New("nope")
	}
	for i := 0; i < 2; i++ {
		_, err := cache.GetOrCompile("x", failing)
		assert.Error(t, err)
	}
	assert.Equal(t, 2, calls)

	var nilCache *Cache
	c, err := nilCache.GetOrCompile(`{:body (get a 1)}`, compileText)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 64, len(Key("x")))
}
