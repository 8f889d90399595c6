// Package provider 定义后端批量提供者及其共享的 SQL 文本处理。
//
// 设计目标：
//  1. 提供者是无状态策略对象，按连接的方言声明能否处理（CanHandle）
//  2. 过滤条件不自行翻译：复用 ORM 编译器生成的 SQL，按文本提取表名与 WHERE
//  3. 批量写入走各后端的原生通道（SQL Server bulk copy、PostgreSQL COPY、SQLite 多行 INSERT）
package provider

import (
	"context"
	"strconv"
	"time"

	"ormbatch/batch/mapping"
	"ormbatch/batch/reader"
	core "ormbatch/data/db"
	"ormbatch/data/orm"
)

// Provider 后端批量策略
type Provider interface {
	// Name 提供者名称（日志与诊断使用）
	Name() string

	CanInsert() bool
	CanUpdate() bool
	CanDelete() bool
	CanBulkUpdate() bool

	// CanHandle 是否能处理该连接
	CanHandle(conn core.IDatabase) bool

	// QueryInformation 从编译后的查询中提取 schema、表、别名与 WHERE
	QueryInformation(q orm.INativeQuery) (*QueryInformation, error)
	// DeleteQuery 生成按条件删除语句
	DeleteQuery(info *QueryInformation) (string, []any, error)
	// UpdateQuery 生成按条件更新语句；modification 为选择器与修改器合并后的查询信息
	UpdateQuery(predicate, modification *QueryInformation) (string, []any, error)

	// InsertItems 把游标中的行批量写入目标表
	InsertItems(ctx context.Context, req *InsertRequest) error
	// UpdateItems 经临时表合并更新目标表
	UpdateItems(ctx context.Context, req *UpdateRequest) error
}

// Top 删除时的行数限制
type Top struct {
	N       float64
	Percent bool
}

// Expression SQL Server 形式：TOP (n) 或 TOP (p) PERCENT
func (t *Top) Expression() string {
	if t == nil {
		return ""
	}
	s := "TOP (" + t.Count() + ")"
	if t.Percent {
		s += " PERCENT"
	}
	return s
}

// Count 不依赖区域设置的数值文本
func (t *Top) Count() string {
	if t.Percent {
		return strconv.FormatFloat(t.N, 'f', -1, 64)
	}
	return strconv.FormatInt(int64(t.N), 10)
}

// QueryInformation 一次谓词编译提取出的信息，不缓存
type QueryInformation struct {
	Schema string
	Table  string
	// Alias 编译器选择的表别名（含引号）
	Alias string
	// WhereSQL 以 WHERE 开头、已去掉别名前缀的条件；无条件时为空
	WhereSQL string
	// Args 与 WhereSQL 中 ? 一一对应
	Args []any
	Top  *Top
}

// CopyOptions 批量写入选项
type CopyOptions struct {
	// KeepIdentity 写入自增主键的值而不是由数据库生成
	KeepIdentity     bool
	CheckConstraints bool
	TableLock        bool
	KeepNulls        bool
	FireTriggers     bool
}

// InsertRequest 一次批量写入
type InsertRequest struct {
	// DB 执行者：事务、固定会话或连接本身
	DB     core.IDatabase
	Schema string
	Table  string
	// Columns 与 Source 的列一一对应
	Columns   []mapping.ColumnMapping
	Source    reader.Source
	BatchSize int
	Timeout   time.Duration
	Options   CopyOptions
}

// UpdateRequest 一次批量合并更新。
// Columns 为主键列加待更新列，Source 按同样的列读取。
type UpdateRequest struct {
	InsertRequest
}

// Names 列名（按序号）
func (r *InsertRequest) Names() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.DatabaseColumn
	}
	return names
}

// Deadline 为请求设置超时；d 为 0 表示沿用 ctx
func Deadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Capabilities 能力声明，具体提供者内嵌后即满足 Provider 的能力方法
type Capabilities struct {
	Insert     bool
	Update     bool
	Delete     bool
	BulkUpdate bool
}

// AllCapabilities 全部能力开启
func AllCapabilities() Capabilities {
	return Capabilities{Insert: true, Update: true, Delete: true, BulkUpdate: true}
}

func (c Capabilities) CanInsert() bool     { return c.Insert }
func (c Capabilities) CanUpdate() bool     { return c.Update }
func (c Capabilities) CanDelete() bool     { return c.Delete }
func (c Capabilities) CanBulkUpdate() bool { return c.BulkUpdate }
