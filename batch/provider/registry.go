package provider

import (
	"sync"

	core "ormbatch/data/db"
)

// Registry 按注册顺序保存提供者，选择第一个能处理连接的。
// 注册顺序即优先级，调用方应保证顺序确定。
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry 创建注册表
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register 追加提供者；nil 被忽略
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
}

// Find 返回第一个 CanHandle(conn) 为真的提供者
func (r *Registry) Find(conn core.IDatabase) (Provider, bool) {
	if conn == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.CanHandle(conn) {
			return p, true
		}
	}
	return nil, false
}

// Providers 已注册提供者的副本
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.providers...)
}
