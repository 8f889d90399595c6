package batch

import (
	"time"

	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/orm"
)

// Option 单次操作选项
type Option func(*callOptions)

type callOptions struct {
	conn      core.IDatabase
	tx        core.ITransaction
	batchSize int
	timeout   time.Duration
	copy      provider.CopyOptions
}

// WithConnection 在指定连接上执行（默认为 ORM 绑定的数据库）
func WithConnection(conn core.IDatabase) Option {
	return func(o *callOptions) { o.conn = conn }
}

// WithTransaction 在调用方事务中执行；事务优先于连接，且不会被提交或回滚
func WithTransaction(tx core.ITransaction) Option {
	return func(o *callOptions) { o.tx = tx }
}

// WithBatchSize 每批行数
func WithBatchSize(n int) Option {
	return func(o *callOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithTimeout 操作超时；0 表示不限
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithCopyOptions 批量写入选项
func WithCopyOptions(c provider.CopyOptions) Option {
	return func(o *callOptions) { o.copy = c }
}

func collectOptions(cfg Configuration, opts []Option) *callOptions {
	o := &callOptions{batchSize: cfg.BatchSize, timeout: cfg.Timeout, copy: cfg.CopyOptions}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// executor 依次取 事务、指定连接、ORM 绑定的数据库
func (o *callOptions) executor(ctx orm.IContext) core.IDatabase {
	if o.tx != nil {
		return o.tx
	}
	if o.conn != nil {
		return o.conn
	}
	if ctx != nil && ctx.Orm() != nil {
		return ctx.Orm().Database()
	}
	return nil
}
