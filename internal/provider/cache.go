package provider

import (
	"crypto/md5"
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	Data      []string
	Timestamp time.Time
	TTL       time.Duration
}

// ListingCache はディレクトリ一覧と検索結果を TTL 付きで保持する
type ListingCache struct {
	mu    sync.RWMutex
	cache map[string]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{
		cache: make(map[string]*cacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *ListingCache) Get(key string) ([]string, bool) {
	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if c.now().Sub(entry.Timestamp) > entry.TTL {
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
		return nil, false
	}

	return entry.Data, true
}

func (c *ListingCache) Set(key string, data []string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cacheEntry{
		Data:      data,
		Timestamp: c.now(),
		TTL:       c.ttl,
	}
}

// Invalidate はファイル書き込み後にすべてのエントリを破棄する
func (c *ListingCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}

func (c *ListingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *ListingCache) GenerateKey(params any) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%+v", params)))
	return fmt.Sprintf("%x", hash)
}
