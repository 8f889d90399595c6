package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
)

type deleteBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table string
	where []string
	args  []any
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

// Build 拒绝生成无条件 DELETE
func (b *deleteBuilder) Build() (string, []any, error) {
	if !isSafeIdentifier(b.table) {
		return "", nil, unsafeIdentifier("table", b.table)
	}
	if len(b.where) == 0 {
		return "", nil, fmt.Errorf("deleteBuilder: delete without where is not allowed")
	}

	var sb strings.Builder
	args := make([]any, len(b.args))
	copy(args, b.args)

	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(b.where, " AND "))

	return sb.String(), args, nil
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.Exec(ctx, q, args...)
}
