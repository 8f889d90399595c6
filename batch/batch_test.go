package batch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"ormbatch/batch/diagnostics"
	"ormbatch/batch/provider"
	"ormbatch/batch/provider/sqlite"
	"ormbatch/batch/provider/sqlserver"
	"ormbatch/batch/reader"
	core "ormbatch/data/db"
	dbbasic "ormbatch/data/db/basic"
	"ormbatch/data/db/dbtest"
	"ormbatch/data/orm"
	"ormbatch/data/orm/basic"
	"ormbatch/data/orm/expr"
	"ormbatch/errors"
)

type address struct {
	Street string
	City   string
}

type blog struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	Title   string `gorm:"size:200"`
	Reads   int
	Address address
}

type featuredBlog struct {
	blog
	Badge string
}

type blogContext struct {
	orm orm.IOrm
}

func (c *blogContext) Orm() orm.IOrm { return c.orm }
func (c *blogContext) Models() []*orm.ModelMeta {
	return []*orm.ModelMeta{blogMeta()}
}

func blogMeta() *orm.ModelMeta {
	return &orm.ModelMeta{
		Model: blog{},
		Table: "blogs",
		Inheritance: &orm.InheritanceMeta{
			Discriminator: "kind",
			Types: []orm.DerivedMeta{
				{Model: blog{}, Value: "Blog"},
				{Model: featuredBlog{}, Value: "Featured"},
			},
		},
	}
}

// newSQLite 单连接内存库：TEMP 表与数据都在同一会话内
func newSQLite(t *testing.T) *blogContext {
	t.Helper()
	db, err := dbbasic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ExecDDL(context.Background(),
		`CREATE TABLE blogs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT,
			reads INTEGER NOT NULL DEFAULT 0,
			address_street TEXT,
			address_city TEXT,
			badge TEXT,
			kind TEXT NOT NULL
		)`,
	))
	return &blogContext{orm: basic.New(db)}
}

func newEngine(sink diagnostics.Sink, opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithSink(sink)}, opts...)...)
}

// noProviders 空注册表：所有操作走回退路径
func noProviders() EngineOption {
	return WithRegistry(provider.NewRegistry())
}

func titleIs(v string) *expr.Func {
	return expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Eq(b.Field("Title"), v) })
}

func loadBlogs(t *testing.T, ctx *blogContext) []blog {
	t.Helper()
	var rows []blog
	require.NoError(t, ctx.Orm().Model(blogMeta()).Find(context.Background(), &rows, orm.WithOrderBy("id", false)))
	return rows
}

func titlesOf(rows []blog) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Title
	}
	return out
}

func seed(t *testing.T, e *Engine, ctx *blogContext, titles ...string) {
	t.Helper()
	items := make([]blog, len(titles))
	for i, title := range titles {
		items[i] = blog{Title: title, Address: address{Street: randomdata.Street(), City: randomdata.City()}}
	}
	require.NoError(t, For[blog](e, ctx).InsertAll(context.Background(), items))
}

func TestInsertAll_SQLiteRoundTrip(t *testing.T) {
	ctx := newSQLite(t)
	sink := &diagnostics.MemorySink{}
	e := newEngine(sink)

	items := []blog{
		{Title: "T1", Address: address{City: "Oslo"}},
		{Title: "T2", Reads: 7},
		{Title: "T3"},
	}
	require.NoError(t, For[blog](e, ctx).InsertAll(context.Background(), items))

	rows := loadBlogs(t, ctx)
	assert.Equal(t, []string{"T1", "T2", "T3"}, titlesOf(rows))
	assert.Equal(t, "Oslo", rows[0].Address.City)
	assert.Equal(t, 7, rows[1].Reads)

	selected := sink.Of(diagnostics.KindProviderSelected)
	require.NotEmpty(t, selected)
	assert.Equal(t, "sqlite", selected[0].Provider)
	bulk := sink.Of(diagnostics.KindBulk)
	require.Len(t, bulk, 1)
	assert.EqualValues(t, 3, bulk[0].Rows)
	assert.Empty(t, sink.Of(diagnostics.KindFallback))
}

func TestInsertSeq_SmallBatchesAcrossStatements(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)

	const n = 57
	seq := func(yield func(blog) bool) {
		for i := 0; i < n; i++ {
			if !yield(blog{Title: randomdata.SillyName(), Reads: i}) {
				return
			}
		}
	}
	require.NoError(t, For[blog](e, ctx).InsertSeq(context.Background(), seq, WithBatchSize(10)))

	count, err := ctx.Orm().Model(blogMeta()).Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, n, count)
}

func TestInsertAll_DerivedTypeWritesDiscriminator(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "plain")

	err := For[featuredBlog](e, ctx).InsertAll(context.Background(), []featuredBlog{
		{blog: blog{Title: "F1"}, Badge: "gold"},
	})
	require.NoError(t, err)

	var featured []featuredBlog
	require.NoError(t, ctx.Orm().Model(blogMeta()).Find(context.Background(), &featured))
	require.Len(t, featured, 1)
	assert.Equal(t, "F1", featured[0].Title)
	assert.Equal(t, "gold", featured[0].Badge)

	// 基类查询覆盖整个层次
	assert.Equal(t, []string{"plain", "F1"}, titlesOf(loadBlogs(t, ctx)))
}

func TestWhereUpdate_ReadsPlusFive(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "T1", "T2")

	n, err := For[blog](e, ctx).Where(titleIs("T1")).Update(context.Background(),
		expr.Prop("Reads"),
		expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Add(b.Field("Reads"), 5) }))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows := loadBlogs(t, ctx)
	assert.Equal(t, 5, rows[0].Reads)
	assert.Equal(t, 0, rows[1].Reads)
}

func TestWhereUpdate_BoundValueAndConcat(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "a", "b")
	ops := For[blog](e, ctx)

	n, err := ops.Where(nil).Update(context.Background(),
		expr.Prop("Title"),
		expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Add(b.Field("Title"), "!") }))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = ops.Where(titleIs("b!")).Update(context.Background(),
		expr.Prop("Address.City"),
		expr.Lambda(func(*expr.Param) expr.Expr { return expr.Bind("city", "Lima") }))
	require.NoError(t, err)

	rows := loadBlogs(t, ctx)
	assert.Equal(t, []string{"a!", "b!"}, titlesOf(rows))
	assert.Equal(t, "Lima", rows[1].Address.City)
}

func TestWhereUpdate_GoFunctionModifierIsRejected(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "T1")

	_, err := For[blog](e, ctx).Where(nil).Update(context.Background(),
		expr.Prop("Title"),
		expr.Lambda(func(b *expr.Param) expr.Expr {
			return expr.GoFunc("Upper", func(args ...any) (any, error) {
				return strings.ToUpper(args[0].(string)), nil
			}, b.Field("Title"))
		}))
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)
	assert.Equal(t, []string{"T1"}, titlesOf(loadBlogs(t, ctx)))
}

func TestUpdateAll_MergesTitles(t *testing.T) {
	ctx := newSQLite(t)
	sink := &diagnostics.MemorySink{}
	e := newEngine(sink)
	seed(t, e, ctx, "T1", "T2", "T3")

	rows := loadBlogs(t, ctx)
	r := strings.NewReplacer("1", "4", "2", "8", "3", "12")
	for i := range rows {
		rows[i].Title = r.Replace(rows[i].Title)
		rows[i].Reads = 99
	}

	require.NoError(t, For[blog](e, ctx).UpdateAll(context.Background(), rows, UpdateColumns("Title")))

	after := loadBlogs(t, ctx)
	assert.Equal(t, []string{"T4", "T8", "T12"}, titlesOf(after))
	for _, b := range after {
		assert.Zero(t, b.Reads, "columns not named for update stay untouched")
	}
	assert.Len(t, sink.Of(diagnostics.KindBulk), 2)
}

func TestUpdateAll_ComplexPropertyExpands(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "T1")

	rows := loadBlogs(t, ctx)
	rows[0].Address = address{Street: "Main", City: "Rome"}
	require.NoError(t, For[blog](e, ctx).UpdateAll(context.Background(), rows,
		new(UpdateSpec).ColumnsToUpdate(expr.Prop("Address"))))

	assert.Equal(t, address{Street: "Main", City: "Rome"}, loadBlogs(t, ctx)[0].Address)
}

func TestUpdateAll_PrimaryKeyInSpecIsKept(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "T1", "T2")

	rows := loadBlogs(t, ctx)
	rows[0].Title, rows[1].Title = "A", "B"
	require.NoError(t, For[blog](e, ctx).UpdateAll(context.Background(), rows, UpdateColumns("ID", "Title")))
	assert.Equal(t, []string{"A", "B"}, titlesOf(loadBlogs(t, ctx)))
}

func TestUpdateAll_InvalidSpecs(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	ops := For[blog](e, ctx)
	rows := []blog{{ID: 1, Title: "x"}}

	// 只有主键时没有可更新的列
	err := ops.UpdateAll(context.Background(), rows, UpdateColumns("ID"))
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)

	err = ops.UpdateAll(context.Background(), rows, UpdateColumns("Nope"))
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)

	err = ops.UpdateAll(context.Background(), rows, nil)
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)

	err = ops.UpdateAll(context.Background(), rows, new(UpdateSpec).ColumnsToUpdate(
		expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Add(b.Field("Reads"), 1) })))
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)

	// 基类没有 Badge
	err = ops.UpdateAll(context.Background(), rows, UpdateColumns("Badge"))
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)
}

func TestDelete_ExactlyOneMatch(t *testing.T) {
	ctx := newSQLite(t)
	sink := &diagnostics.MemorySink{}
	e := newEngine(sink)
	seed(t, e, ctx, "T1", "T2", "T3")

	n, err := For[blog](e, ctx).Where(titleIs("T2")).Delete(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"T1", "T3"}, titlesOf(loadBlogs(t, ctx)))

	stmts := sink.Of(diagnostics.KindStatement)
	require.Len(t, stmts, 1)
	assert.Equal(t, `DELETE FROM "main"."blogs" WHERE ("title" = 'T2')`, stmts[0].SQL)
	assert.Equal(t, diagnostics.Fingerprint(stmts[0].SQL), stmts[0].Fingerprint)
}

func TestWhere_LiteralContainingAliasIsPreserved(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "x", "keep")
	ops := For[blog](e, ctx)

	n, err := ops.Where(titleIs(`"Extent1".x`)).Delete(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"x", "keep"}, titlesOf(loadBlogs(t, ctx)))

	n, err = ops.Where(titleIs("keep")).Update(context.Background(), expr.Prop("Title"),
		expr.Lambda(func(*expr.Param) expr.Expr { return expr.Of(`"Extent1".y`) }))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"x", `"Extent1".y`}, titlesOf(loadBlogs(t, ctx)))
}

func TestDelete_DerivedTypeOnlyTouchesItsRows(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "same")
	require.NoError(t, For[featuredBlog](e, ctx).InsertAll(context.Background(),
		[]featuredBlog{{blog: blog{Title: "same"}, Badge: "x"}}))

	n, err := For[featuredBlog](e, ctx).Where(titleIs("same")).Delete(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"same"}, titlesOf(loadBlogs(t, ctx)))
}

func TestDeleteTop_SQLite(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "x", "x", "x", "x", "y")
	ops := For[blog](e, ctx)

	n, err := ops.Where(titleIs("x")).DeleteTop(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// 剩 3 行 x，50% 向上取整为 2
	n, err = ops.Where(titleIs("x")).DeleteTopPercent(context.Background(), 50)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"x", "y"}, titlesOf(loadBlogs(t, ctx)))

	_, err = ops.Where(nil).DeleteTopPercent(context.Background(), 150)
	assert.True(t, errors.IsConfiguration(err))
	_, err = ops.Where(nil).DeleteTop(context.Background(), -1)
	assert.True(t, errors.IsConfiguration(err))
}

func TestFallback_InsertAndDeleteThroughORM(t *testing.T) {
	ctx := newSQLite(t)
	sink := &diagnostics.MemorySink{}
	e := newEngine(sink, noProviders())
	ops := For[blog](e, ctx)

	require.NoError(t, ops.InsertAll(context.Background(), []blog{{Title: "T1"}, {Title: "T2"}}))
	assert.Equal(t, []string{"T1", "T2"}, titlesOf(loadBlogs(t, ctx)))

	fallbacks := sink.Of(diagnostics.KindFallback)
	require.Len(t, fallbacks, 1)
	assert.NotEmpty(t, fallbacks[0].Message)
	assert.Contains(t, fallbacks[0].Message, "[]")

	n, err := ops.Where(titleIs("T2")).Delete(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"T1"}, titlesOf(loadBlogs(t, ctx)))

	fallbacks = sink.Of(diagnostics.KindFallback)
	require.Len(t, fallbacks, 2)
	assert.Equal(t, opDelete, fallbacks[1].Operation)
	assert.NotEmpty(t, fallbacks[1].Message)
}

func TestFallback_DeleteEvaluatesGoPredicateInMemory(t *testing.T) {
	ctx := newSQLite(t)
	seed(t, newEngine(diagnostics.Nop), ctx, "keep", "drop-1", "drop-2")
	e := newEngine(diagnostics.Nop, noProviders())

	pred := expr.Lambda(func(b *expr.Param) expr.Expr {
		return expr.Eq(expr.GoFunc("HasDrop", func(args ...any) (any, error) {
			return strings.HasPrefix(args[0].(string), "drop"), nil
		}, b.Field("Title")), true)
	})
	n, err := For[blog](e, ctx).Where(pred).DeleteTop(context.Background(), 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, loadBlogs(t, ctx), 2)
}

func TestFallback_DisabledReturnsNoCapableProvider(t *testing.T) {
	ctx := newSQLite(t)
	sink := &diagnostics.MemorySink{}
	e := newEngine(sink, WithConfiguration(Configuration{DisableDefaultFallback: true}), noProviders())

	err := For[blog](e, ctx).InsertAll(context.Background(), []blog{{Title: "T1"}})
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)

	_, err = For[blog](e, ctx).Where(nil).Delete(context.Background())
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)

	assert.Empty(t, loadBlogs(t, ctx))
	assert.Len(t, sink.Of(diagnostics.KindFallback), 2)
	assert.Equal(t, DefaultBatchSize, e.Configuration().BatchSize)
}

func TestFallback_RunsInCallerTransaction(t *testing.T) {
	ctx := newSQLite(t)
	ops := For[blog](newEngine(diagnostics.Nop, noProviders()), ctx)
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 单连接池：回退不走事务会一直等待连接
	tx, err := ctx.Orm().Database().Begin(c)
	require.NoError(t, err)
	require.NoError(t, ops.InsertAll(c, []blog{{Title: "T1"}, {Title: "T2"}}, WithTransaction(tx)))
	n, err := ops.Where(titleIs("T2")).Delete(c, WithTransaction(tx))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, tx.Rollback())

	assert.Empty(t, loadBlogs(t, ctx))
}

// fixedOrm 不支持重新绑定数据库的 ORM
type fixedOrm struct{ orm.IOrm }

func TestFallback_ForeignExecutorNeedsRebindableOrm(t *testing.T) {
	base := newSQLite(t)
	ctx := &blogContext{orm: fixedOrm{base.orm}}
	e := newEngine(diagnostics.Nop, noProviders())

	err := For[blog](e, ctx).InsertAll(context.Background(), []blog{{Title: "T1"}}, WithConnection(dbtest.New("sqlite")))
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)

	_, err = For[blog](e, ctx).Where(nil).Delete(context.Background(), WithConnection(dbtest.New("sqlite")))
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)
	assert.Empty(t, loadBlogs(t, base))
}

func TestUpdateAll_NoProviderNeedsOptIn(t *testing.T) {
	ctx := newSQLite(t)
	seed(t, newEngine(diagnostics.Nop), ctx, "T1")
	rows := loadBlogs(t, ctx)
	rows[0].Title = "T4"

	strict := newEngine(diagnostics.Nop, noProviders())
	err := For[blog](strict, ctx).UpdateAll(context.Background(), rows, UpdateColumns("Title"))
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)
	_, err = For[blog](strict, ctx).Where(nil).Update(context.Background(), expr.Prop("Reads"),
		expr.Lambda(func(*expr.Param) expr.Expr { return expr.Bind("r", 1) }))
	assert.True(t, errors.IsNoCapableProvider(err), "%v", err)

	cfg := DefaultConfiguration()
	cfg.EnableUpdateFallback = true
	lenient := newEngine(diagnostics.Nop, WithConfiguration(cfg), noProviders())
	require.NoError(t, For[blog](lenient, ctx).UpdateAll(context.Background(), rows, UpdateColumns("Title")))

	n, err := For[blog](lenient, ctx).Where(titleIs("T4")).Update(context.Background(), expr.Prop("Reads"),
		expr.Lambda(func(b *expr.Param) expr.Expr {
			return expr.GoFunc("Len", func(args ...any) (any, error) { return len(args[0].(string)) * 10, nil }, b.Field("Title"))
		}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	after := loadBlogs(t, ctx)
	assert.Equal(t, "T4", after[0].Title)
	assert.Equal(t, 20, after[0].Reads)
}

func TestAttachAndModify(t *testing.T) {
	ctx := newSQLite(t)
	e := newEngine(diagnostics.Nop)
	seed(t, e, ctx, "T1", "T2")
	ops := For[blog](e, ctx)

	rows := loadBlogs(t, ctx)
	target := rows[1]
	target.Reads = 42 // 未 Set 的修改不写入
	require.NoError(t, ops.AttachAndModify(&target).
		Set("Title", "T9").
		Set("Address.City", "Paris").
		Save(context.Background()))
	assert.Equal(t, "T9", target.Title)

	after := loadBlogs(t, ctx)
	assert.Equal(t, []string{"T1", "T9"}, titlesOf(after))
	assert.Equal(t, "Paris", after[1].Address.City)
	assert.Zero(t, after[1].Reads)

	// int32 按数值转换
	require.NoError(t, ops.AttachAndModify(&target).Set("Reads", int32(3)).Save(context.Background()))
	assert.Equal(t, 3, loadBlogs(t, ctx)[1].Reads)

	err := ops.AttachAndModify(&target).Set("ID", int64(7)).Save(context.Background())
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)
	err = ops.AttachAndModify(&target).Set("Nope", 1).Save(context.Background())
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)
	err = ops.AttachAndModify(&target).Set("Title", 5).Save(context.Background())
	assert.True(t, errors.IsUnsupportedMapping(err), "%v", err)
	err = ops.AttachAndModify(nil).Set("Title", "x").Save(context.Background())
	assert.True(t, errors.IsConfiguration(err), "%v", err)
	assert.NoError(t, ops.AttachAndModify(&target).Save(context.Background()))
}

// SQL Server 没有本地实例：记录语句，bulk copy 由假实现接收
type bulkCall struct {
	table   string
	opts    mssql.BulkOptions
	columns []string
	rows    [][]any
}

func fakeBulkCopy(calls *[]bulkCall) sqlserver.BulkCopyFunc {
	return func(ctx context.Context, db core.IDatabase, table string, opts mssql.BulkOptions, columns []string, rows reader.Batch) (int64, error) {
		call := bulkCall{table: table, opts: opts, columns: columns}
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return 0, err
			}
			call.rows = append(call.rows, vals)
		}
		*calls = append(*calls, call)
		return int64(len(call.rows)), rows.Err()
	}
}

func newSQLServer(calls *[]bulkCall) (*Engine, *blogContext, *dbtest.Recorder) {
	rec := dbtest.New("sqlserver")
	e := newEngine(diagnostics.Nop, WithRegistry(provider.NewRegistry(
		sqlserver.New(sqlserver.WithBulkCopy(fakeBulkCopy(calls))),
		sqlite.New(),
	)))
	return e, &blogContext{orm: basic.New(rec)}, rec
}

func TestSQLServer_DeleteTopPercentStatement(t *testing.T) {
	e, ctx, rec := newSQLServer(nil)

	n, err := For[blog](e, ctx).Where(titleIs("T2")).DeleteTopPercent(context.Background(), 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	q := rec.Last().Query
	assert.Contains(t, q, "TOP (50) PERCENT")
	assert.True(t, strings.HasPrefix(q, "DELETE TOP (50) PERCENT FROM [dbo].[blogs] WHERE ([title] = N'T2')"), q)
}

func TestSQLServer_UpdateStatementArgsOrder(t *testing.T) {
	e, ctx, rec := newSQLServer(nil)

	pred := expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Ge(b.Field("Reads"), expr.Bind("min", 10)) })
	_, err := For[blog](e, ctx).Where(pred).Update(context.Background(), expr.Prop("Reads"),
		expr.Lambda(func(b *expr.Param) expr.Expr { return expr.Add(b.Field("Reads"), expr.Bind("inc", 5)) }))
	require.NoError(t, err)

	last := rec.Last()
	assert.True(t, strings.HasPrefix(last.Query, "UPDATE [dbo].[blogs] SET [reads] = ([reads] + ?) WHERE ([reads] >= ?)"), last.Query)
	assert.Equal(t, []any{5, 10}, last.Args)
}

func TestSQLServer_InsertUsesBulkCopy(t *testing.T) {
	var calls []bulkCall
	e, ctx, _ := newSQLServer(&calls)

	items := []blog{{Title: "T1"}, {Title: "T2"}, {Title: "T3"}}
	err := For[blog](e, ctx).InsertAll(context.Background(), items,
		WithBatchSize(2),
		WithCopyOptions(provider.CopyOptions{TableLock: true, CheckConstraints: true}))
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "[dbo].[blogs]", calls[0].table)
	assert.Equal(t, []string{"title", "reads", "address_street", "address_city", "kind"}, calls[0].columns)
	assert.True(t, calls[0].opts.Tablock)
	assert.True(t, calls[0].opts.CheckConstraints)
	assert.Equal(t, 2, calls[0].opts.RowsPerBatch)
	assert.Len(t, calls[0].rows, 2)
	assert.Len(t, calls[1].rows, 1)
	assert.Equal(t, "Blog", calls[1].rows[0][4])
}

func TestSQLServer_UpdateAllMergeShape(t *testing.T) {
	var calls []bulkCall
	e, ctx, rec := newSQLServer(&calls)
	tx := WithTransaction(rec)

	rows := []blog{{ID: 1, Title: "T4"}, {ID: 2, Title: "T8"}}
	require.NoError(t, For[blog](e, ctx).UpdateAll(context.Background(), rows, UpdateColumns("Title"), tx))

	qs := rec.Queries()
	require.Len(t, qs, 3)
	assert.True(t, strings.HasPrefix(qs[0], "CREATE TABLE [dbo].[tmp_"), qs[0])
	assert.True(t, strings.HasSuffix(qs[0], ", PRIMARY KEY ([id]))"), qs[0])
	assert.Contains(t, qs[0], "[title] nvarchar(200)")

	temp := strings.TrimPrefix(qs[2], "DROP TABLE ")
	assert.Equal(t,
		"UPDATE ORIG SET ORIG.[title] = TEMP.[title] FROM [dbo].[blogs] ORIG INNER JOIN "+temp+" TEMP ON ORIG.[id] = TEMP.[id]",
		qs[1])

	require.Len(t, calls, 1)
	assert.Equal(t, temp, calls[0].table)
	assert.Equal(t, []string{"id", "title"}, calls[0].columns)
	assert.Equal(t, [][]any{{int64(1), "T4"}, {int64(2), "T8"}}, calls[0].rows)
	assert.False(t, rec.Committed(), "caller transaction is never committed")
}
