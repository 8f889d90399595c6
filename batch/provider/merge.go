package provider

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"ormbatch/batch/mapping"
	"ormbatch/batch/reader"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	dbsql "ormbatch/data/db/sql"
	"ormbatch/errors"
)

const (
	// OrigAlias 合并语句中目标表的别名
	OrigAlias = "ORIG"
	// TempAlias 合并语句中临时表的别名
	TempAlias = "TEMP"
)

// TempTableName 合并更新使用的临时表名
func TempTableName() string {
	return "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SplitKeys 把合并列分为主键列与待更新列；两者都不能为空
func SplitKeys(cols []mapping.ColumnMapping) (keys, values []mapping.ColumnMapping, err error) {
	for _, c := range cols {
		if c.IsPrimaryKey {
			keys = append(keys, c)
		} else {
			values = append(values, c)
		}
	}
	if len(keys) == 0 {
		return nil, nil, errors.UnsupportedMapping("bulk update requires a primary key")
	}
	if len(values) == 0 {
		return nil, nil, errors.UnsupportedMapping("bulk update has no columns to update")
	}
	return keys, values, nil
}

// ColumnDefinitions 临时表列定义："col" type, ...
func ColumnDefinitions(d dialect.Dialect, cols []mapping.ColumnMapping) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := c.DataTypeFull
		if typ == "" {
			typ = c.DataType
		}
		defs[i] = d.QuoteIdentifier(c.DatabaseColumn) + " " + typ
	}
	return strings.Join(defs, ", ")
}

// ColumnList 引号包裹的列名列表
func ColumnList(d dialect.Dialect, cols []mapping.ColumnMapping) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.QuoteIdentifier(c.DatabaseColumn)
	}
	return strings.Join(names, ", ")
}

// SetClause 生成 <target>col = TEMP.col 列表；target 为空时左侧不带别名
func SetClause(d dialect.Dialect, cols []mapping.ColumnMapping, target, sep string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		col := d.QuoteIdentifier(c.DatabaseColumn)
		lhs := col
		if target != "" {
			lhs = target + "." + col
		}
		sets[i] = lhs + " = " + TempAlias + "." + col
	}
	return strings.Join(sets, sep)
}

// KeyCondition 生成 ORIG.pk = TEMP.pk 条件
func KeyCondition(d dialect.Dialect, keys []mapping.ColumnMapping, and string) string {
	conds := make([]string, len(keys))
	for i, c := range keys {
		col := d.QuoteIdentifier(c.DatabaseColumn)
		conds[i] = OrigAlias + "." + col + " = " + TempAlias + "." + col
	}
	return strings.Join(conds, " "+and+" ")
}

// RowsPerStatement 多行 INSERT 每条语句的行数：不超过批大小与参数上限
func RowsPerStatement(batchSize, columns, maxParams int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if batchSize > 0 && batchSize < n {
		n = batchSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// InsertRows 以多行 INSERT 写入游标中的全部行，返回写入行数。
// table 允许 schema.table 形式。
func InsertRows(ctx context.Context, db core.IDatabase, d dialect.Dialect, table string, names []string, src reader.Source, rowsPerStatement int) (int64, error) {
	if len(names) == 0 {
		return 0, errors.UnsupportedMapping("no columns to insert into %s", table)
	}
	builder := dbsql.NewWithDialect(db, d)
	var total int64
	for src.More() {
		ins := builder.InsertInto(table).Columns(names...)
		batch := src.Batch(rowsPerStatement)
		for batch.Next() {
			vals, err := batch.Values()
			if err != nil {
				return total, err
			}
			ins.Values(vals...)
		}
		if err := batch.Err(); err != nil {
			return total, err
		}
		if batch.Rows() == 0 {
			break
		}
		if _, err := ins.Exec(ctx); err != nil {
			return total, err
		}
		total += int64(batch.Rows())
	}
	return total, src.Err()
}

// MergeStatements 临时表合并的三条语句
type MergeStatements struct {
	Create string
	Merge  string
	Drop   string
}

// RunMerge 依次执行 建表、写入、合并、删表，任何一步失败立即返回。
// 没有事务时中途失败会留下临时表，需要在外部清理。
func RunMerge(ctx context.Context, db core.IDatabase, stmts MergeStatements, load func(context.Context) error) error {
	if _, err := db.Exec(ctx, stmts.Create); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return err
	}
	if _, err := db.Exec(ctx, stmts.Merge); err != nil {
		return err
	}
	_, err := db.Exec(ctx, stmts.Drop)
	return err
}

// Qualified 供 SQL 构建器使用的未加引号表名；schema 为空时只有表名
func Qualified(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// JoinSQL 以空格连接非空片段
func JoinSQL(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
