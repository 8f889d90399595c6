package sql

import (
	"context"
	"fmt"
	"strings"

	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
)

// selectBuilder 的列与 FROM 片段按原样写入（可包含已引用的标识符或 JOIN），
// 参数一律使用 ? 占位。
type selectBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	cols    []string
	table   string
	where   []string
	args    []any
	groupBy []string
	orderBy string
	limit   int
	offset  int
}

func (b *selectBuilder) From(table string) ISelectBuilder {
	b.table = table
	return b
}

func (b *selectBuilder) Where(cond string, args ...any) ISelectBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

func (b *selectBuilder) And(cond string, args ...any) ISelectBuilder {
	return b.Where(cond, args...)
}

func (b *selectBuilder) Or(cond string, args ...any) ISelectBuilder {
	if cond == "" {
		return b
	}
	if len(b.where) == 0 {
		return b.Where(cond, args...)
	}
	last := b.where[len(b.where)-1]
	b.where[len(b.where)-1] = "(" + last + " OR " + cond + ")"
	b.args = append(b.args, args...)
	return b
}

func (b *selectBuilder) GroupBy(cols ...string) ISelectBuilder {
	if len(cols) > 0 {
		b.groupBy = append(b.groupBy, cols...)
	}
	return b
}

func (b *selectBuilder) OrderBy(expr string) ISelectBuilder {
	if expr != "" {
		b.orderBy = expr
	}
	return b
}

func (b *selectBuilder) Limit(n int) ISelectBuilder {
	b.limit = n
	return b
}

func (b *selectBuilder) Offset(n int) ISelectBuilder {
	b.offset = n
	return b
}

// Build 生成 SELECT。SQL Server 无 LIMIT：仅限制条数时使用 TOP (?)，
// 带偏移时使用 OFFSET/FETCH（要求 ORDER BY，缺省按 (SELECT NULL) 排序）。
func (b *selectBuilder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, fmt.Errorf("selectBuilder: FROM is required")
	}

	var sb strings.Builder
	// 使用局部 args 副本，避免在多次 Build 调用之间污染 builder 状态。
	args := make([]any, 0, len(b.args)+2)

	mssql := b.dialect.Name() == dialect.NameSQLServer
	sb.WriteString("SELECT ")
	if mssql && b.limit > 0 && b.offset <= 0 {
		sb.WriteString("TOP (?) ")
		args = append(args, b.limit)
	}
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	args = append(args, b.args...)

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}

	if mssql {
		if b.offset > 0 {
			order := b.orderBy
			if order == "" {
				order = "(SELECT NULL)"
			}
			sb.WriteString(" ORDER BY " + order + " OFFSET ? ROWS")
			args = append(args, b.offset)
			if b.limit > 0 {
				sb.WriteString(" FETCH NEXT ? ROWS ONLY")
				args = append(args, b.limit)
			}
		} else if b.orderBy != "" {
			sb.WriteString(" ORDER BY " + b.orderBy)
		}
		return sb.String(), args, nil
	}

	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	if b.offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, b.offset)
	}
	return sb.String(), args, nil
}

func (b *selectBuilder) Query(ctx context.Context) (core.IRows, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Query(ctx, q, args...)
}
