package sniffer

import (
	"sync"
	"time"

	"github.com/John-Robertt/streamlux/internal/domain"
)

// Cache 是按 embed URL 索引的嗅探结果缓存（进程内，带 TTL）。
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[string]domain.SniffResult
}

// NewCache 创建缓存；now 为 nil 时使用 time.Now。
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, m: make(map[string]domain.SniffResult)}
}

// Get 返回未过期的结果副本。过期条目保留，直到被新结果替换。
func (c *Cache) Get(key string) (*domain.SniffResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !r.Fresh(c.now(), c.ttl) {
		return nil, false
	}
	out := r.Clone()
	return &out, true
}

func (c *Cache) Put(key string, r domain.SniffResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = r.Clone()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// Len 返回当前条目数（含过期条目）。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
