package batch

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
	"time"

	"ormbatch/batch/diagnostics"
	"ormbatch/batch/mapping"
	"ormbatch/batch/provider"
	"ormbatch/batch/reader"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	"ormbatch/data/orm"
	"ormbatch/data/orm/expr"
	"ormbatch/errors"
)

const (
	opInsert     = "InsertAll"
	opUpdateAll  = "UpdateAll"
	opDelete     = "Delete"
	opUpdate     = "Update"
	opAttachSave = "AttachAndModify"
)

// Operation 实体类型 T 上的批量操作。
//
// T 是具体类型（结构体）：单表继承中的派生类型只写入、删除、更新自身鉴别值的行。
// 回退路径经宿主 ORM 执行，使用 ORM 自身的连接而不是 WithConnection/WithTransaction。
type Operation[T any] struct {
	engine *Engine
	ctx    orm.IContext
	typ    reflect.Type
}

// For 绑定 ORM 上下文，返回 T 上的批量操作
func For[T any](engine *Engine, ctx orm.IContext) *Operation[T] {
	if engine == nil {
		engine = NewEngine()
	}
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return &Operation[T]{engine: engine, ctx: ctx, typ: t}
}

// InsertAll 批量写入
func (op *Operation[T]) InsertAll(ctx context.Context, items []T, opts ...Option) error {
	return op.InsertSeq(ctx, slices.Values(items), opts...)
}

// InsertSeq 批量写入任意长度的序列；游标只持有当前行
func (op *Operation[T]) InsertSeq(ctx context.Context, items iter.Seq[T], opts ...Option) error {
	o := collectOptions(op.engine.config, opts)
	conn := o.executor(op.ctx)

	p := op.resolve(ctx, opInsert, conn, provider.Provider.CanInsert)
	if p == nil {
		if err := op.fallback(ctx, opInsert, conn); err != nil {
			return err
		}
		return op.insertEach(ctx, items, conn)
	}

	tm, err := op.table()
	if err != nil {
		return err
	}
	cols := tm.InsertColumns(op.typ, o.copy.KeepIdentity)
	cur, err := reader.New(items, cols, op.engine.catalog)
	if err != nil {
		return err
	}
	defer cur.Close()

	start := time.Now()
	err = p.InsertItems(ctx, &provider.InsertRequest{
		DB:        conn,
		Schema:    tm.Schema,
		Table:     tm.Table,
		Columns:   cols,
		Source:    cur,
		BatchSize: o.batchSize,
		Timeout:   o.timeout,
		Options:   o.copy,
	})
	if err != nil {
		return err
	}
	op.emitBulk(ctx, opInsert, p, cur.Rows(), time.Since(start))
	return nil
}

// UpdateSpec 合并更新要写入的列（对象属性路径）
type UpdateSpec struct {
	paths []string
	err   error
}

// UpdateColumns 以属性路径声明要更新的列；复杂属性的路径覆盖其全部子列
func UpdateColumns(paths ...string) *UpdateSpec {
	return &UpdateSpec{paths: paths}
}

// ColumnsToUpdate 以属性选择器（expr.Prop）追加要更新的列
func (s *UpdateSpec) ColumnsToUpdate(selectors ...*expr.Func) *UpdateSpec {
	for _, sel := range selectors {
		path, ok := sel.SelectorPath()
		if !ok {
			if s.err == nil {
				s.err = errors.UnsupportedMapping("update column selector must name a property, got %s", sel)
			}
			continue
		}
		s.paths = append(s.paths, path)
	}
	return s
}

// Paths 已声明的属性路径
func (s *UpdateSpec) Paths() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.paths...)
}

// UpdateAll 按主键把 items 中 spec 指定的列合并更新到目标表。
//
// 没有支持合并更新的提供者时返回 NO_CAPABLE_PROVIDER；
// 仅当 Configuration.EnableUpdateFallback 打开时改为逐行更新。
func (op *Operation[T]) UpdateAll(ctx context.Context, items []T, spec *UpdateSpec, opts ...Option) (err error) {
	tm, err := op.table()
	if err != nil {
		return err
	}
	cols, err := op.mergeColumns(tm, spec)
	if err != nil {
		return err
	}

	o := collectOptions(op.engine.config, opts)
	conn := o.executor(op.ctx)
	p := op.resolve(ctx, opUpdateAll, conn, provider.Provider.CanBulkUpdate)
	if p == nil {
		op.emitFallback(ctx, opUpdateAll, conn)
		if !op.engine.config.EnableUpdateFallback {
			return errors.NoCapableProvider(opUpdateAll, describe(conn))
		}
		return op.updateEach(ctx, items, cols, conn)
	}

	exec, release, err := pin(ctx, o, conn)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	cur, err := reader.FromSlice(items, cols, op.engine.catalog)
	if err != nil {
		return err
	}
	defer cur.Close()

	start := time.Now()
	err = p.UpdateItems(ctx, &provider.UpdateRequest{InsertRequest: provider.InsertRequest{
		DB:        exec,
		Schema:    tm.Schema,
		Table:     tm.Table,
		Columns:   cols,
		Source:    cur,
		BatchSize: o.batchSize,
		Timeout:   o.timeout,
		Options:   o.copy,
	}})
	if err != nil {
		return err
	}
	op.emitBulk(ctx, opUpdateAll, p, cur.Rows(), time.Since(start))
	return nil
}

// mergeColumns 主键列加 spec 指定的列；spec 中的主键已在集合内，计算列不能被更新
func (op *Operation[T]) mergeColumns(tm *mapping.TableMapping, spec *UpdateSpec) ([]mapping.ColumnMapping, error) {
	if spec == nil || len(spec.paths) == 0 {
		return nil, errors.UnsupportedMapping("update of %v names no columns", op.typ)
	}
	if spec.err != nil {
		return nil, spec.err
	}
	keys := tm.PrimaryKeys()
	if len(keys) == 0 {
		return nil, errors.UnsupportedMapping("table %s has no primary key", tm.Table)
	}

	cols := append([]mapping.ColumnMapping(nil), keys...)
	seen := map[string]bool{}
	for _, path := range spec.paths {
		matched, err := op.columnsFor(tm, path)
		if err != nil {
			return nil, err
		}
		for _, c := range matched {
			switch {
			case c.IsPrimaryKey:
				continue
			case c.IsComputed:
				return nil, errors.UnsupportedMapping("computed column %s cannot be updated", c.DatabaseColumn)
			case seen[c.DatabaseColumn]:
				continue
			}
			seen[c.DatabaseColumn] = true
			cols = append(cols, c)
		}
	}
	if len(cols) == len(keys) {
		return nil, errors.UnsupportedMapping("update of %v names only primary key columns", op.typ)
	}
	return cols, nil
}

// columnsFor 属性路径对应的列；复杂属性展开为其全部子列
func (op *Operation[T]) columnsFor(tm *mapping.TableMapping, path string) ([]mapping.ColumnMapping, error) {
	if c, ok := tm.ColumnByPath(path); ok && c.AppliesTo(op.typ) {
		return []mapping.ColumnMapping{c}, nil
	}
	var out []mapping.ColumnMapping
	for _, c := range tm.Columns {
		if c.AppliesTo(op.typ) && strings.HasPrefix(c.ObjectPath, path+".") {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, errors.UnsupportedMapping("%v has no mapped property %q", op.typ, path)
	}
	return out, nil
}

// Where 以谓词限定后续的删除与更新
func (op *Operation[T]) Where(pred *expr.Func) *Filtered[T] {
	return &Filtered[T]{op: op, pred: pred}
}

// meta 覆盖 T 的模型元信息
func (op *Operation[T]) meta() (*orm.ModelMeta, error) {
	if op.ctx == nil || op.ctx.Orm() == nil {
		return nil, errors.Configuration("batch operation needs an orm context")
	}
	for _, m := range op.ctx.Models() {
		if m.Covers(op.typ) {
			return m, nil
		}
	}
	return nil, errors.UnsupportedMapping("type %v is not mapped by the context", op.typ)
}

// table T 的主表映射
func (op *Operation[T]) table() (*mapping.TableMapping, error) {
	m, err := op.engine.catalog.MappingFor(op.ctx, op.typ)
	if err != nil {
		return nil, err
	}
	tm := m.Primary()
	if tm == nil {
		return nil, errors.UnsupportedMapping("type %v has no table", op.typ)
	}
	return tm, nil
}

// resolve 选出能处理连接且具备能力 can 的提供者；没有时返回 nil
func (op *Operation[T]) resolve(ctx context.Context, operation string, conn core.IDatabase, can func(provider.Provider) bool) provider.Provider {
	p, ok := op.engine.registry.Find(conn)
	if !ok || !can(p) {
		return nil
	}
	e := diagnostics.NewEvent(diagnostics.KindProviderSelected, operation,
		fmt.Sprintf("found provider: %s for %s", p.Name(), describe(conn)))
	e.Provider = p.Name()
	op.engine.sink.Emit(ctx, e)
	return p
}

// fallback 记录回退；DisableDefaultFallback 时返回 NO_CAPABLE_PROVIDER
func (op *Operation[T]) fallback(ctx context.Context, operation string, conn core.IDatabase) error {
	op.emitFallback(ctx, operation, conn)
	if op.engine.config.DisableDefaultFallback {
		return errors.NoCapableProvider(operation, describe(conn))
	}
	return nil
}

func (op *Operation[T]) emitFallback(ctx context.Context, operation string, conn core.IDatabase) {
	name := "[]"
	if p, ok := op.engine.registry.Find(conn); ok {
		name = p.Name()
	}
	op.engine.sink.Emit(ctx, diagnostics.NewEvent(diagnostics.KindFallback, operation,
		fmt.Sprintf("found provider: %s for %s; %s falls back to per-row execution through the orm", name, describe(conn), operation)))
}

func (op *Operation[T]) emitBulk(ctx context.Context, operation string, p provider.Provider, rows int64, d time.Duration) {
	e := diagnostics.NewEvent(diagnostics.KindBulk, operation,
		fmt.Sprintf("%s wrote %d rows to %v", p.Name(), rows, op.typ))
	e.Provider, e.Rows, e.Duration = p.Name(), rows, d
	op.engine.sink.Emit(ctx, e)
}

// describe 连接的类型与方言，用于日志与错误
func describe(conn core.IDatabase) string {
	if conn == nil {
		return "<nil connection>"
	}
	return fmt.Sprintf("%T(%s)", conn, dialect.FromDatabase(conn).Name())
}

// pin 为多语句序列固定一条会话：有事务时沿用事务，连接支持会话时取出一条
func pin(ctx context.Context, o *callOptions, conn core.IDatabase) (core.IDatabase, func() error, error) {
	noop := func() error { return nil }
	if o.tx != nil {
		return conn, noop, nil
	}
	sp, ok := conn.(core.ISessionProvider)
	if !ok {
		return conn, noop, nil
	}
	s, release, err := sp.Session(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, release, nil
}
