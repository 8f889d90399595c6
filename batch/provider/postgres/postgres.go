// Package postgres PostgreSQL 批量提供者：pgx COPY 写入，TEMP 表合并更新。
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	"ormbatch/data/db/pgxdb"
	"ormbatch/data/orm"
)

// MaxParams 扩展协议单条语句的参数上限
const MaxParams = 65535

// Provider PostgreSQL 提供者。
// 连接的 Raw() 满足 pgxdb.Copier 时走 COPY，否则退回多行 INSERT。
type Provider struct {
	provider.Capabilities

	dialect   dialect.Dialect
	extractor *provider.TextExtractor
}

var _ provider.Provider = (*Provider)(nil)

// New 创建提供者
func New() *Provider {
	d := dialect.New("postgres")
	x, _ := provider.ExtractorFor(d)
	return &Provider{
		Capabilities: provider.AllCapabilities(),
		dialect:      d,
		extractor:    x,
	}
}

func (p *Provider) Name() string { return "postgres" }

func (p *Provider) CanHandle(conn core.IDatabase) bool {
	return dialect.FromDatabase(conn).Name() == dialect.NamePostgres
}

func (p *Provider) QueryInformation(q orm.INativeQuery) (*provider.QueryInformation, error) {
	return p.extractor.Extract(q)
}

// DeleteQuery 有行数限制时按 ctid 子查询删除，百分比向上取整
func (p *Provider) DeleteQuery(info *provider.QueryInformation) (string, []any, error) {
	table := p.dialect.QuoteTable(info.Schema, info.Table)
	if info.Top == nil {
		return provider.JoinSQL("DELETE FROM", table, info.WhereSQL), info.Args, nil
	}

	args := append([]any(nil), info.Args...)
	limit := info.Top.Count()
	if info.Top.Percent {
		limit = "(" + provider.JoinSQL(
			fmt.Sprintf("SELECT CAST(CEIL(COUNT(*) * %s / 100.0) AS BIGINT) FROM", info.Top.Count()),
			table, info.WhereSQL) + ")"
		args = append(args, info.Args...)
	}
	sub := provider.JoinSQL("SELECT ctid FROM", table, info.WhereSQL, "LIMIT", limit)
	return "DELETE FROM " + table + " WHERE ctid IN (" + sub + ")", args, nil
}

// UpdateQuery UPDATE t SET <col> = <expr> <where>
func (p *Provider) UpdateQuery(predicate, modification *provider.QueryInformation) (string, []any, error) {
	set, err := p.extractor.Assignment(modification)
	if err != nil {
		return "", nil, err
	}
	query := provider.JoinSQL("UPDATE", p.dialect.QuoteTable(predicate.Schema, predicate.Table), "SET", set, predicate.WhereSQL)
	args := append(append([]any(nil), modification.Args...), predicate.Args...)
	return query, args, nil
}

// InsertItems 每批一次 CopyFrom；无 COPY 能力时按参数上限分条 INSERT
func (p *Provider) InsertItems(ctx context.Context, req *provider.InsertRequest) error {
	ctx, cancel := provider.Deadline(ctx, req.Timeout)
	defer cancel()

	copier, ok := req.DB.Raw().(pgxdb.Copier)
	if !ok {
		rows := provider.RowsPerStatement(req.BatchSize, len(req.Columns), MaxParams)
		_, err := provider.InsertRows(ctx, req.DB, p.dialect, provider.Qualified(req.Schema, req.Table), req.Names(), req.Source, rows)
		return err
	}

	ident := pgx.Identifier{req.Table}
	if req.Schema != "" {
		ident = pgx.Identifier{req.Schema, req.Table}
	}
	names := req.Names()
	for req.Source.More() {
		batch := req.Source.Batch(req.BatchSize)
		if _, err := copier.CopyFrom(ctx, ident, names, batch); err != nil {
			return err
		}
		if batch.Rows() == 0 {
			break
		}
	}
	return req.Source.Err()
}

// UpdateItems TEMP 表合并：
//
//	UPDATE t AS ORIG SET "c" = TEMP."c" FROM "tmp_x" AS TEMP WHERE ORIG."pk" = TEMP."pk"
func (p *Provider) UpdateItems(ctx context.Context, req *provider.UpdateRequest) error {
	keys, values, err := provider.SplitKeys(req.Columns)
	if err != nil {
		return err
	}
	temp := provider.TempTableName()
	tempTable := p.dialect.QuoteIdentifier(temp)

	stmts := provider.MergeStatements{
		Create: fmt.Sprintf("CREATE TEMP TABLE %s(%s, PRIMARY KEY (%s))",
			tempTable, provider.ColumnDefinitions(p.dialect, req.Columns), provider.ColumnList(p.dialect, keys)),
		Merge: fmt.Sprintf("UPDATE %s AS %s SET %s FROM %s AS %s WHERE %s",
			p.dialect.QuoteTable(req.Schema, req.Table), provider.OrigAlias,
			provider.SetClause(p.dialect, values, "", ", "),
			tempTable, provider.TempAlias,
			provider.KeyCondition(p.dialect, keys, "AND")),
		Drop: "DROP TABLE " + tempTable,
	}

	ctx, cancel := provider.Deadline(ctx, req.Timeout)
	defer cancel()
	return provider.RunMerge(ctx, req.DB, stmts, func(ctx context.Context) error {
		load := req.InsertRequest
		load.Schema, load.Table, load.Timeout = "", temp, 0
		return p.InsertItems(ctx, &load)
	})
}
