// Package cache 提供进程内的泛型 LRU+TTL 缓存。
//
// 批量操作层用它缓存按 (实体类型, 属性路径) 编译的字段访问器。
// 访问器是纯函数结果，被驱逐只影响性能。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 通用泛型缓存
//
// 核心特性：
// - LRU 驱逐：超过容量时删除最久未使用的条目
// - TTL 过期：基于访问时间
// - 并发安全：Mutex 保护，GetOrLoad 对同一个键不做去重加载
//
// 使用示例：
//
//	accessors := cache.New[accessorKey, *Accessor](cache.Config{
//	    Name:    "mapping.accessors",
//	    MaxSize: 4096,
//	})
//	acc, err := accessors.GetOrLoad(key, func() (*Accessor, error) {
//	    return compileAccessor(t, path)
//	})
type Cache[K comparable, V any] struct {
	name   string
	config Config

	items   map[K]*cacheEntry[K, V]
	lruList *list.List // 最近使用的在前

	mu    sync.RWMutex
	stats CacheStats
}

type cacheEntry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
	lruElement *list.Element
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示无限制
	MaxSize int

	// TTL 基于访问时间的过期时长，0 表示永不过期
	TTL time.Duration

	// OnEvict 条目被移除时的回调（可选）
	OnEvict func(key, value any)
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Hits      int64 // 命中次数
	Misses    int64 // 未命中次数
	Evictions int64 // LRU 驱逐次数
	Expires   int64 // TTL 过期次数
	Loads     int64 // GetOrLoad 触发的加载次数
	Size      int   // 当前条目数
}

// HitRate 命中率，没有访问时为 0
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New 创建新的缓存实例
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}

	return &Cache[K, V]{
		name:    config.Name,
		config:  config,
		items:   make(map[K]*cacheEntry[K, V]),
		lruList: list.New(),
	}
}

// Name 缓存名称
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Get 获取未过期的缓存值。
// 命中会移动 LRU 位置并更新统计，因此持写锁。
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return value, false
	}

	if c.isExpired(entry) {
		c.removeEntryUnsafe(entry)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}

	entry.accessedAt = time.Now()
	c.lruList.MoveToFront(entry.lruElement)
	c.stats.Hits++

	return entry.value, true
}

// GetOrLoad 命中则返回缓存值，否则调用 load 并缓存成功结果。
// load 在锁外执行；并发未命中时可能被调用多次，以最后一次写入为准。
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.stats.Loads++
	c.mu.Unlock()

	c.Set(key, v)
	return v, nil
}

// Set 设置缓存值
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if entry, exists := c.items[key]; exists {
		entry.value = value
		entry.accessedAt = now
		c.lruList.MoveToFront(entry.lruElement)
		return
	}

	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		c.evictOldestUnsafe()
	}

	entry := &cacheEntry[K, V]{
		key:        key,
		value:      value,
		accessedAt: now,
	}
	entry.lruElement = c.lruList.PushFront(entry)
	c.items[key] = entry
	c.stats.Size = len(c.items)
}

// Delete 删除缓存条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return false
	}

	c.removeEntryUnsafe(entry)
	return true
}

// Stats 获取缓存统计信息（副本）
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Size 获取当前缓存条目数
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// isExpired 需要持锁调用
func (c *Cache[K, V]) isExpired(entry *cacheEntry[K, V]) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return time.Since(entry.accessedAt) >= c.config.TTL
}

// evictOldestUnsafe 需要持锁调用
func (c *Cache[K, V]) evictOldestUnsafe() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}

	entry := oldest.Value.(*cacheEntry[K, V])
	c.removeEntryUnsafe(entry)
	c.stats.Evictions++
}

// removeEntryUnsafe 需要持锁调用
func (c *Cache[K, V]) removeEntryUnsafe(entry *cacheEntry[K, V]) {
	if c.config.OnEvict != nil {
		c.config.OnEvict(entry.key, entry.value)
	}

	if entry.lruElement != nil {
		c.lruList.Remove(entry.lruElement)
	}

	delete(c.items, entry.key)
	c.stats.Size = len(c.items)
}

// String 返回缓存信息的字符串表示
func (c *Cache[K, V]) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, loads=%d, hit_rate=%.2f%%, evictions=%d, expires=%d",
		c.name,
		stats.Size,
		c.config.MaxSize,
		stats.Hits,
		stats.Misses,
		stats.Loads,
		stats.HitRate()*100,
		stats.Evictions,
		stats.Expires,
	)
}
