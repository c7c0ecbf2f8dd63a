package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedding is a cache entry: the vector plus the model that produced
// it and when. The cache holds nothing that cannot be regenerated by the
// provider; it is purely a cost optimization.
type CachedEmbedding struct {
	Vector      []float32
	Model       string
	GeneratedAt time.Time
}

// Cache is a bounded LRU of computed embeddings with per-entry TTL. Keys
// are content hashes of the canonicalized input text, not entity names, so
// identical text across entities shares one entry. Lookups refresh recency;
// expired entries are treated as absent and reaped in the background by the
// underlying expirable LRU.
type Cache struct {
	lru *expirable.LRU[string, CachedEmbedding]
	ttl time.Duration
}

// NewCache creates a cache with the given capacity (default 1000) and TTL
// (default 1 hour).
func NewCache(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		lru: expirable.NewLRU[string, CachedEmbedding](size, nil, ttl),
		ttl: ttl,
	}
}

// Key returns the cache key for a canonical text: its sha256 hex digest.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get looks up the entry for a content key.
func (c *Cache) Get(key string) (CachedEmbedding, bool) {
	return c.lru.Get(key)
}

// Put stores a freshly generated embedding under the content key.
func (c *Cache) Put(key string, vector []float32, model string) {
	c.lru.Add(key, CachedEmbedding{
		Vector:      vector,
		Model:       model,
		GeneratedAt: time.Now(),
	})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}
