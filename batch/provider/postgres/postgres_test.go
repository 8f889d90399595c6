package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormbatch/batch/mapping"
	"ormbatch/batch/provider"
	"ormbatch/batch/reader"
	"ormbatch/data/db/dbtest"
	"ormbatch/data/db/pgxdb"
)

type post struct {
	ID    int64
	Title string
}

func columns() []mapping.ColumnMapping {
	return []mapping.ColumnMapping{
		{ObjectPath: "ID", DatabaseColumn: "id", DataTypeFull: "bigint", IsPrimaryKey: true},
		{ObjectPath: "Title", DatabaseColumn: "title", DataTypeFull: "varchar(200)"},
	}
}

func source(t *testing.T, rows ...post) reader.Source {
	t.Helper()
	cur, err := reader.FromSlice(rows, columns(), mapping.NewMappingCatalog())
	require.NoError(t, err)
	return cur
}

func posts(n int) []post {
	out := make([]post, n)
	for i := range out {
		out[i] = post{ID: int64(i + 1), Title: fmt.Sprintf("T%d", i+1)}
	}
	return out
}

type copyCall struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
}

// fakeCopier 记录每次 CopyFrom 读到的行
type fakeCopier struct {
	calls []copyCall
}

var _ pgxdb.Copier = (*fakeCopier)(nil)

func (f *fakeCopier) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	call := copyCall{table: table, columns: columns}
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		call.rows = append(call.rows, vals)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	f.calls = append(f.calls, call)
	return int64(len(call.rows)), nil
}

func TestCanHandle(t *testing.T) {
	p := New()
	assert.True(t, p.CanHandle(dbtest.New("pgx")))
	assert.True(t, p.CanHandle(dbtest.New("postgresql")))
	assert.False(t, p.CanHandle(dbtest.New("sqlserver")))
}

func TestInsertItems_CopyPerBatch(t *testing.T) {
	copier := &fakeCopier{}
	rec := dbtest.New("postgres")
	rec.RawValue = copier

	err := New().InsertItems(context.Background(), &provider.InsertRequest{
		DB: rec, Schema: "public", Table: "posts", Columns: columns(), Source: source(t, posts(7)...), BatchSize: 3,
	})
	require.NoError(t, err)

	require.Len(t, copier.calls, 3)
	for _, c := range copier.calls {
		assert.Equal(t, pgx.Identifier{"public", "posts"}, c.table)
		assert.Equal(t, []string{"id", "title"}, c.columns)
	}
	assert.Len(t, copier.calls[0].rows, 3)
	assert.Len(t, copier.calls[2].rows, 1)
	assert.Equal(t, []any{int64(7), "T7"}, copier.calls[2].rows[0])
	assert.Empty(t, rec.Queries(), "COPY path issues no statements")
}

func TestInsertItems_WithoutCopierFallsBackToInsert(t *testing.T) {
	rec := dbtest.New("postgres")
	err := New().InsertItems(context.Background(), &provider.InsertRequest{
		DB: rec, Schema: "public", Table: "posts", Columns: columns(), Source: source(t, posts(3)...), BatchSize: 2,
	})
	require.NoError(t, err)

	stmts := rec.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, `INSERT INTO "public"."posts" ("id", "title") VALUES (?, ?), (?, ?)`, stmts[0].Query)
	assert.Equal(t, []any{int64(3), "T3"}, stmts[1].Args)
}

func TestUpdateItems_TempTableMerge(t *testing.T) {
	copier := &fakeCopier{}
	rec := dbtest.New("postgres")
	rec.RawValue = copier

	err := New().UpdateItems(context.Background(), &provider.UpdateRequest{InsertRequest: provider.InsertRequest{
		DB: rec, Schema: "public", Table: "posts", Columns: columns(), Source: source(t, posts(2)...),
	}})
	require.NoError(t, err)

	qs := rec.Queries()
	require.Len(t, qs, 3)
	temp := strings.TrimPrefix(qs[2], "DROP TABLE ")
	assert.True(t, strings.HasPrefix(temp, `"tmp_`), qs[2])
	assert.Equal(t, `CREATE TEMP TABLE `+temp+`("id" bigint, "title" varchar(200), PRIMARY KEY ("id"))`, qs[0])
	assert.Equal(t, `UPDATE "public"."posts" AS ORIG SET "title" = TEMP."title" FROM `+temp+` AS TEMP WHERE ORIG."id" = TEMP."id"`, qs[1])

	require.Len(t, copier.calls, 1)
	assert.Equal(t, pgx.Identifier{strings.Trim(temp, `"`)}, copier.calls[0].table)
	assert.Len(t, copier.calls[0].rows, 2)
}

func TestDeleteQuery(t *testing.T) {
	p := New()
	info := &provider.QueryInformation{Schema: "public", Table: "posts", WhereSQL: `WHERE ("title" = ?)`, Args: []any{"x"}}

	q, _, err := p.DeleteQuery(info)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."posts" WHERE ("title" = ?)`, q)

	info.Top = &provider.Top{N: 10}
	q, args, _ := p.DeleteQuery(info)
	assert.Equal(t, `DELETE FROM "public"."posts" WHERE ctid IN (SELECT ctid FROM "public"."posts" WHERE ("title" = ?) LIMIT 10)`, q)
	assert.Equal(t, []any{"x"}, args)

	info.Top = &provider.Top{N: 12.5, Percent: true}
	q, args, _ = p.DeleteQuery(info)
	assert.Equal(t, `DELETE FROM "public"."posts" WHERE ctid IN (SELECT ctid FROM "public"."posts" WHERE ("title" = ?) LIMIT `+
		`(SELECT CAST(CEIL(COUNT(*) * 12.5 / 100.0) AS BIGINT) FROM "public"."posts" WHERE ("title" = ?)))`, q)
	assert.Equal(t, []any{"x", "x"}, args)

	q, _, _ = p.DeleteQuery(&provider.QueryInformation{Schema: "public", Table: "posts", Top: &provider.Top{N: 3}})
	assert.Equal(t, `DELETE FROM "public"."posts" WHERE ctid IN (SELECT ctid FROM "public"."posts" LIMIT 3)`, q)
}

func TestUpdateQuery(t *testing.T) {
	q, args, err := New().UpdateQuery(
		&provider.QueryInformation{Schema: "public", Table: "posts"},
		&provider.QueryInformation{WhereSQL: `WHERE ("title" = LOWER("title"))`},
	)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "public"."posts" SET "title" = LOWER("title")`, q)
	assert.Empty(t, args)
}
