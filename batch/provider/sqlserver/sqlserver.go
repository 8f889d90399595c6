// Package sqlserver SQL Server 批量提供者：bulk copy 写入，临时表合并更新。
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"ormbatch/batch/provider"
	"ormbatch/batch/reader"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	"ormbatch/data/orm"
	"ormbatch/errors"
)

// BulkCopyFunc 把一批行写入 table，返回写入行数
type BulkCopyFunc func(ctx context.Context, db core.IDatabase, table string, opts mssql.BulkOptions, columns []string, rows reader.Batch) (int64, error)

// Provider SQL Server 提供者
type Provider struct {
	provider.Capabilities

	dialect   dialect.Dialect
	extractor *provider.TextExtractor
	bulkCopy  BulkCopyFunc
}

var _ provider.Provider = (*Provider)(nil)

// Option 配置 Provider
type Option func(*Provider)

// WithBulkCopy 替换 bulk copy 实现（测试或自定义驱动）
func WithBulkCopy(fn BulkCopyFunc) Option {
	return func(p *Provider) {
		if fn != nil {
			p.bulkCopy = fn
		}
	}
}

// New 创建提供者
func New(opts ...Option) *Provider {
	d := dialect.New("sqlserver")
	x, _ := provider.ExtractorFor(d)
	p := &Provider{
		Capabilities: provider.AllCapabilities(),
		dialect:      d,
		extractor:    x,
		bulkCopy:     CopyIn,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "sqlserver" }

func (p *Provider) CanHandle(conn core.IDatabase) bool {
	return dialect.FromDatabase(conn).Name() == dialect.NameSQLServer
}

func (p *Provider) QueryInformation(q orm.INativeQuery) (*provider.QueryInformation, error) {
	return p.extractor.Extract(q)
}

// DeleteQuery DELETE <top> FROM [schema].[table] <where>
func (p *Provider) DeleteQuery(info *provider.QueryInformation) (string, []any, error) {
	parts := []string{"DELETE"}
	if top := info.Top.Expression(); top != "" {
		parts = append(parts, top)
	}
	parts = append(parts, "FROM", p.table(info.Schema, info.Table))
	if info.WhereSQL != "" {
		parts = append(parts, info.WhereSQL)
	}
	return strings.Join(parts, " "), info.Args, nil
}

// UpdateQuery UPDATE [schema].[table] SET <col> = <expr> <where>
func (p *Provider) UpdateQuery(predicate, modification *provider.QueryInformation) (string, []any, error) {
	set, err := p.extractor.Assignment(modification)
	if err != nil {
		return "", nil, err
	}
	query := "UPDATE " + p.table(predicate.Schema, predicate.Table) + " SET " + set
	if predicate.WhereSQL != "" {
		query += " " + predicate.WhereSQL
	}
	args := append(append([]any(nil), modification.Args...), predicate.Args...)
	return query, args, nil
}

// InsertItems 按批大小分批 bulk copy。
// BulkOptions 没有 KEEPIDENTITY 开关，KeepIdentity 视为配置错误。
func (p *Provider) InsertItems(ctx context.Context, req *provider.InsertRequest) error {
	if req.Options.KeepIdentity {
		return errors.Configuration("keep identity is not supported by the sqlserver bulk copy provider")
	}

	ctx, cancel := provider.Deadline(ctx, req.Timeout)
	defer cancel()

	opts := mssql.BulkOptions{
		CheckConstraints: req.Options.CheckConstraints,
		FireTriggers:     req.Options.FireTriggers,
		KeepNulls:        req.Options.KeepNulls,
		Tablock:          req.Options.TableLock,
		RowsPerBatch:     req.BatchSize,
	}
	table := p.table(req.Schema, req.Table)
	names := req.Names()

	for req.Source.More() {
		batch := req.Source.Batch(req.BatchSize)
		if _, err := p.bulkCopy(ctx, req.DB, table, opts, names, batch); err != nil {
			return err
		}
		if batch.Rows() == 0 {
			break
		}
	}
	return req.Source.Err()
}

// UpdateItems 建临时表、bulk copy 变更行、UPDATE ... INNER JOIN 合并、删临时表
func (p *Provider) UpdateItems(ctx context.Context, req *provider.UpdateRequest) error {
	keys, values, err := provider.SplitKeys(req.Columns)
	if err != nil {
		return err
	}
	schema := req.Schema
	if schema == "" {
		schema = p.dialect.DefaultSchema()
	}
	temp := provider.TempTableName()
	tempTable := p.table(schema, temp)

	stmts := provider.MergeStatements{
		Create: fmt.Sprintf("CREATE TABLE %s(%s, PRIMARY KEY (%s))",
			tempTable, provider.ColumnDefinitions(p.dialect, req.Columns), provider.ColumnList(p.dialect, keys)),
		Merge: fmt.Sprintf("UPDATE %s SET %s FROM %s %s INNER JOIN %s %s ON %s",
			provider.OrigAlias,
			provider.SetClause(p.dialect, values, provider.OrigAlias, ", "),
			p.table(schema, req.Table), provider.OrigAlias,
			tempTable, provider.TempAlias,
			provider.KeyCondition(p.dialect, keys, "AND")),
		Drop: "DROP TABLE " + tempTable,
	}

	ctx, cancel := provider.Deadline(ctx, req.Timeout)
	defer cancel()
	return provider.RunMerge(ctx, req.DB, stmts, func(ctx context.Context) error {
		load := req.InsertRequest
		load.Schema, load.Table, load.Timeout = schema, temp, 0
		return p.InsertItems(ctx, &load)
	})
}

func (p *Provider) table(schema, table string) string {
	if schema == "" {
		return p.dialect.QuoteIdentifier(table)
	}
	return p.dialect.QuoteTable(schema, table)
}

type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// CopyIn 默认 bulk copy：在 Raw() 返回的 *sql.DB / *sql.Tx / *sql.Conn 上执行 mssql.CopyIn
func CopyIn(ctx context.Context, db core.IDatabase, table string, opts mssql.BulkOptions, columns []string, rows reader.Batch) (int64, error) {
	pr, ok := db.Raw().(preparer)
	if !ok {
		return 0, errors.Configuration("sqlserver bulk copy needs a database/sql handle, got %T", db.Raw())
	}
	stmt, err := pr.PrepareContext(ctx, mssql.CopyIn(table, opts, columns...))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if rows.Rows() == 0 {
		return 0, nil
	}

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
