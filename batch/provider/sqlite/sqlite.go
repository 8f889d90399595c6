// Package sqlite SQLite 批量提供者。
//
// SQLite 没有 bulk copy：写入使用按参数上限切分的多行 INSERT；
// 合并更新使用会话级 TEMP 表与 UPDATE ... FROM。
package sqlite

import (
	"context"
	"fmt"

	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	"ormbatch/data/orm"
)

// MaxParams 单条语句的绑定参数上限（SQLITE_MAX_VARIABLE_NUMBER 默认值）
const MaxParams = 32766

// Provider SQLite 提供者
type Provider struct {
	provider.Capabilities

	dialect   dialect.Dialect
	extractor *provider.TextExtractor
}

var _ provider.Provider = (*Provider)(nil)

// New 创建提供者
func New() *Provider {
	d := dialect.New("sqlite")
	x, _ := provider.ExtractorFor(d)
	return &Provider{
		Capabilities: provider.AllCapabilities(),
		dialect:      d,
		extractor:    x,
	}
}

func (p *Provider) Name() string { return "sqlite" }

func (p *Provider) CanHandle(conn core.IDatabase) bool {
	return dialect.FromDatabase(conn).Name() == dialect.NameSQLite
}

func (p *Provider) QueryInformation(q orm.INativeQuery) (*provider.QueryInformation, error) {
	return p.extractor.Extract(q)
}

// DeleteQuery 有行数限制时按 rowid 子查询删除：
//
//	DELETE FROM t WHERE rowid IN (SELECT rowid FROM t <where> LIMIT n)
//
// 百分比按匹配行数向上取整。
func (p *Provider) DeleteQuery(info *provider.QueryInformation) (string, []any, error) {
	table := p.dialect.QuoteTable(info.Schema, info.Table)
	if info.Top == nil {
		return provider.JoinSQL("DELETE FROM", table, info.WhereSQL), info.Args, nil
	}

	args := append([]any(nil), info.Args...)
	limit := info.Top.Count()
	if info.Top.Percent {
		// SQLite 没有 CEIL：CAST 截断后小数部分非零再加一
		x := fmt.Sprintf("(COUNT(*) * %s / 100.0)", info.Top.Count())
		limit = "(" + provider.JoinSQL(
			fmt.Sprintf("SELECT CAST(%s AS INTEGER) + (%s > CAST(%s AS INTEGER)) FROM", x, x, x),
			table, info.WhereSQL) + ")"
		args = append(args, info.Args...)
	}
	sub := provider.JoinSQL("SELECT rowid FROM", table, info.WhereSQL, "LIMIT", limit)
	return "DELETE FROM " + table + " WHERE rowid IN (" + sub + ")", args, nil
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

// InsertItems 多行 INSERT，每条语句的行数受批大小与参数上限约束
func (p *Provider) InsertItems(ctx context.Context, req *provider.InsertRequest) error {
	ctx, cancel := provider.Deadline(ctx, req.Timeout)
	defer cancel()

	rows := provider.RowsPerStatement(req.BatchSize, len(req.Columns), MaxParams)
	_, err := provider.InsertRows(ctx, req.DB, p.dialect, provider.Qualified(req.Schema, req.Table), req.Names(), req.Source, rows)
	return err
}

// UpdateItems TEMP 表合并：
//
//	UPDATE t AS ORIG SET "c" = TEMP."c" FROM "temp"."tmp_x" AS TEMP WHERE ORIG."pk" = TEMP."pk"
func (p *Provider) UpdateItems(ctx context.Context, req *provider.UpdateRequest) error {
	keys, values, err := provider.SplitKeys(req.Columns)
	if err != nil {
		return err
	}
	temp := provider.TempTableName()
	tempTable := p.dialect.QuoteTable("temp", temp)

	stmts := provider.MergeStatements{
		Create: fmt.Sprintf("CREATE TEMP TABLE %s(%s, PRIMARY KEY (%s))",
			p.dialect.QuoteIdentifier(temp), provider.ColumnDefinitions(p.dialect, req.Columns), provider.ColumnList(p.dialect, keys)),
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
		load.Schema, load.Table, load.Timeout = "temp", temp, 0
		return p.InsertItems(ctx, &load)
	})
}
