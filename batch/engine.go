// Package batch 批量操作入口：按连接选择后端提供者，执行批量写入、合并更新、
// 按条件删除与更新；没有可用提供者时按配置回退到宿主 ORM 的逐行路径。
//
// 用法：
//
//	engine := batch.NewEngine()
//	ops := batch.For[Blog](engine, ctx)
//	err := ops.InsertAll(c, blogs)
//	n, err := ops.Where(expr.Lambda(...)).Delete(c)
//
// Engine 是组合根：映射目录、提供者注册表、配置与诊断出口都由它持有并显式传递。
package batch

import (
	"time"

	"ormbatch/batch/diagnostics"
	"ormbatch/batch/mapping"
	"ormbatch/batch/provider"
	"ormbatch/batch/provider/postgres"
	"ormbatch/batch/provider/sqlite"
	"ormbatch/batch/provider/sqlserver"
)

const (
	// DefaultBatchSize 每批行数
	DefaultBatchSize = 15000
	// DefaultTimeout 单次批量操作超时
	DefaultTimeout = 600 * time.Second
)

// Configuration 引擎配置
type Configuration struct {
	// DisableDefaultFallback 没有可用提供者时返回 NO_CAPABLE_PROVIDER，而不是逐行回退
	DisableDefaultFallback bool
	// EnableUpdateFallback 允许 Where(...).Update 与 UpdateAll 在没有提供者时逐行保存
	EnableUpdateFallback bool
	BatchSize            int
	Timeout              time.Duration
	// CopyOptions 批量写入的默认选项，可被 WithCopyOptions 覆盖
	CopyOptions provider.CopyOptions
}

// DefaultConfiguration 默认配置
func DefaultConfiguration() Configuration {
	return Configuration{
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

func (c Configuration) normalized() Configuration {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// Engine 批量操作的组合根，可并发使用
type Engine struct {
	catalog  *mapping.MappingCatalog
	registry *provider.Registry
	config   Configuration
	sink     diagnostics.Sink
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithCatalog 使用外部持有的映射目录
func WithCatalog(c *mapping.MappingCatalog) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithRegistry 替换提供者注册表
func WithRegistry(r *provider.Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithConfiguration 设置引擎配置
func WithConfiguration(c Configuration) EngineOption {
	return func(e *Engine) { e.config = c.normalized() }
}

// WithSink 设置诊断出口
func WithSink(s diagnostics.Sink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// DefaultRegistry 内置提供者：SQL Server、PostgreSQL、SQLite（按此顺序匹配）
func DefaultRegistry() *provider.Registry {
	return provider.NewRegistry(sqlserver.New(), postgres.New(), sqlite.New())
}

// NewEngine 创建引擎
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{config: DefaultConfiguration()}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = mapping.NewMappingCatalog()
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.sink == nil {
		e.sink = diagnostics.NewLoggerSink(nil)
	}
	return e
}

func (e *Engine) Catalog() *mapping.MappingCatalog { return e.catalog }
func (e *Engine) Registry() *provider.Registry     { return e.registry }
func (e *Engine) Configuration() Configuration     { return e.config }
func (e *Engine) Sink() diagnostics.Sink           { return e.sink }
