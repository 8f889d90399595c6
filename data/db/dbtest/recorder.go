// Package dbtest 提供记录型 IDatabase，用于断言生成的 SQL 而无需真实数据库。
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	core "ormbatch/data/db"
)

// Statement 一条被记录的语句
type Statement struct {
	Query string
	Args  []any
}

// Recorder 记录所有 Exec/Query 调用。
//
// Exec 默认返回 RowsAffected 为 Affected；ExecErr 非 nil 时按调用顺序返回错误。
// Query 结果由 Rows 提供（按调用顺序消费），耗尽后返回空结果集。
type Recorder struct {
	Dialect  string
	Affected int64
	ExecErr  func(query string) error
	Rows     []*Rows
	RawValue any

	mu         sync.Mutex
	statements []Statement
	committed  bool
	rolledBack bool
}

// New 创建指定方言名的记录器
func New(dialectName string) *Recorder {
	return &Recorder{Dialect: dialectName, Affected: 1}
}

var (
	_ core.ITransaction         = (*Recorder)(nil)
	_ core.IDialectNameProvider = (*Recorder)(nil)
)

func (r *Recorder) record(query string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, Statement{Query: query, Args: append([]any(nil), args...)})
}

// Statements 返回已记录语句的副本
func (r *Recorder) Statements() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Statement(nil), r.statements...)
}

// Queries 只返回 SQL 文本
func (r *Recorder) Queries() []string {
	stmts := r.Statements()
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.Query
	}
	return out
}

// Last 返回最后一条语句；没有时返回零值
func (r *Recorder) Last() Statement {
	stmts := r.Statements()
	if len(stmts) == 0 {
		return Statement{}
	}
	return stmts[len(stmts)-1]
}

func (r *Recorder) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	r.record(query, args)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Rows) == 0 {
		return &Rows{}, nil
	}
	rows := r.Rows[0]
	r.Rows = r.Rows[1:]
	return rows, nil
}

func (r *Recorder) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	rows, _ := r.Query(ctx, query, args...)
	return &row{rows: rows.(*Rows)}
}

func (r *Recorder) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.record(query, args)
	if r.ExecErr != nil {
		if err := r.ExecErr(query); err != nil {
			return nil, err
		}
	}
	return result(r.Affected), nil
}

func (r *Recorder) Begin(ctx context.Context) (core.ITransaction, error) { return r, nil }
func (r *Recorder) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	return r, nil
}
func (r *Recorder) Ping(ctx context.Context) error { return nil }
func (r *Recorder) Close() error                   { return nil }
func (r *Recorder) Raw() any                       { return r.RawValue }
func (r *Recorder) GetDialectName() string         { return r.Dialect }

func (r *Recorder) Commit() error {
	r.mu.Lock()
	r.committed = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Rollback() error {
	r.mu.Lock()
	r.rolledBack = true
	r.mu.Unlock()
	return nil
}

// Committed 是否调用过 Commit
func (r *Recorder) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

type result int64

func (r result) LastInsertId() (int64, error) { return 0, fmt.Errorf("dbtest: LastInsertId not supported") }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

// Rows 内存结果集
type Rows struct {
	Cols   []string
	Values [][]any
	pos    int
}

// NewRows 构造内存结果集
func NewRows(cols []string, values ...[]any) *Rows {
	return &Rows{Cols: cols, Values: values}
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.Values) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.Values) {
		return sql.ErrNoRows
	}
	cur := r.Values[r.pos-1]
	if len(dest) != len(cur) {
		return fmt.Errorf("dbtest: scan %d values into %d targets", len(cur), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, cur[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rows) Close() error               { return nil }
func (r *Rows) Err() error                 { return nil }
func (r *Rows) Columns() ([]string, error) { return r.Cols, nil }

type row struct{ rows *Rows }

func (r *row) Scan(dest ...any) error {
	if !r.rows.Next() {
		return sql.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *row) Err() error { return nil }
