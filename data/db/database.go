// Package db 提供通用的数据库抽象接口
//
// 设计目标：
// 1. 隔离具体驱动（database/sql、pgx 等）
// 2. 统一查询/执行/事务入口，批量提供者只面向这些接口生成并执行 SQL
// 3. 便于单元测试（记录型 Fake 实现）
package db

import (
	"context"
	"database/sql"
)

// IDatabase 通用数据库接口
//
// 约定：所有 SQL 使用 ? 作为占位符，由实现按方言改写（$n、@pN）。
type IDatabase interface {
	// 查询操作
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow

	// 执行操作
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// 事务操作
	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	// 连接管理
	Ping(ctx context.Context) error
	Close() error

	// 获取原始连接（*sql.DB、*sql.Tx、*sql.Conn、*pgxpool.Pool、pgx.Tx 等）
	Raw() any
}

// IDialectNameProvider 可选接口：提供底层数据库方言名称
//
// 实现方应返回诸如 "sqlite"、"postgres"、"sqlserver" 等 driver/dialect 名，
// 供方言层推断能力与批量提供者选择。
type IDialectNameProvider interface {
	// GetDialectName 返回底层数据库方言名称
	GetDialectName() string
}

// ISessionProvider 可选接口：固定一条物理连接。
//
// 临时表只在创建它的会话内可见，连接池下需要把"建表-写入-合并-删表"
// 放在同一个会话上执行。release 必须被调用以归还连接。
type ISessionProvider interface {
	Session(ctx context.Context) (session IDatabase, release func() error, err error)
}

// ITransaction 事务接口
type ITransaction interface {
	IDatabase

	// 事务控制
	Commit() error
	Rollback() error
}

// IRows 查询结果集接口
type IRows interface {
	// 遍历结果
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error

	// 获取列信息
	Columns() ([]string, error)
}

// IRow 单行结果接口
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres, sqlserver
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"` // sqlite 下为文件路径或 :memory:
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DSN 非空时直接使用，忽略上面的分项
	DSN string `yaml:"dsn"`

	// 连接池配置
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"` // 秒
	ConnMaxIdleTime int `yaml:"conn_max_idle_time"` // 秒
}

// NewDatabaseFunc 工厂方法（由具体实现提供）
type NewDatabaseFunc func(config DBConfig) (IDatabase, error)
