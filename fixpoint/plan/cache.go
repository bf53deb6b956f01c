package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds compiled plans keyed by a digest of their source text.
// Compiled plans are immutable, so cached entries are shared freely.
type Cache struct {
	entries *lru.Cache[string, *Compiled]
	hits    int64
	misses  int64
}

// NewCache creates a cache holding up to size plans (default 128).
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 128
	}
	entries, err := lru.New[string, *Compiled](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Cache{entries: entries}
}

// Key digests plan source text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetOrCompile returns the compiled plan for text, decoding and compiling it
// on a miss. Failed compilations are not cached.
func (c *Cache) GetOrCompile(text string, compile func(string) (*Compiled, error)) (*Compiled, error) {
	if c == nil {
		return compile(text)
	}
	key := Key(text)
	if compiled, ok := c.entries.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return compiled, nil
	}
	atomic.AddInt64(&c.misses, 1)

	compiled, err := compile(text)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, compiled)
	return compiled, nil
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int64, size int) {
	if c == nil {
		return 0, 0, 0
	}
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), c.entries.Len()
}

// Clear removes all cached plans.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.entries.Purge()
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}
