package batch

import (
	"context"
	"iter"
	"math"
	"reflect"

	"ormbatch/batch/mapping"
	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/orm"
	"ormbatch/data/orm/expr"
	"ormbatch/errors"
)

// 没有可用提供者时的逐行路径，全部经宿主 ORM 在调用方的执行者上执行

// model 绑定到 conn 的模型；conn 不是 ORM 自己的数据库时 ORM 须实现 IDatabaseBinder
func (op *Operation[T]) model(operation string, conn core.IDatabase) (orm.IModel, error) {
	meta, err := op.meta()
	if err != nil {
		return nil, err
	}
	o := op.ctx.Orm()
	if conn != nil && conn != o.Database() {
		b, ok := o.(orm.IDatabaseBinder)
		if !ok {
			return nil, errors.NoCapableProvider(operation, describe(conn))
		}
		o = b.WithDatabase(conn)
	}
	return o.Model(meta), nil
}

func (op *Operation[T]) insertEach(ctx context.Context, items iter.Seq[T], conn core.IDatabase) error {
	model, err := op.model(opInsert, conn)
	if err != nil {
		return err
	}
	for item := range items {
		if err := model.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (op *Operation[T]) updateEach(ctx context.Context, items []T, cols []mapping.ColumnMapping, conn core.IDatabase) error {
	model, err := op.model(opUpdateAll, conn)
	if err != nil {
		return err
	}
	keys, values, err := provider.SplitKeys(cols)
	if err != nil {
		return err
	}
	accessors, err := op.accessors(values)
	if err != nil {
		return err
	}
	for _, item := range items {
		v := reflect.ValueOf(item)
		set := make(map[string]any, len(values))
		for i, c := range values {
			set[c.DatabaseColumn] = accessors[i](v)
		}
		where, err := op.keyFilter(keys, v)
		if err != nil {
			return err
		}
		if err := model.UpdateValues(ctx, set, where...); err != nil {
			return err
		}
	}
	return nil
}

// accessors 按列顺序解析访问器
func (op *Operation[T]) accessors(cols []mapping.ColumnMapping) ([]mapping.Accessor, error) {
	out := make([]mapping.Accessor, len(cols))
	for i, c := range cols {
		acc, err := op.engine.catalog.AccessorFor(op.typ, c)
		if err != nil {
			return nil, err
		}
		out[i] = acc
	}
	return out, nil
}

// keyFilter 按主键定位一行的查询条件
func (op *Operation[T]) keyFilter(keys []mapping.ColumnMapping, v reflect.Value) ([]orm.QueryOption, error) {
	if len(keys) == 0 {
		return nil, errors.UnsupportedMapping("%v has no primary key", op.typ)
	}
	c, err := op.engine.catalog.GetMapping(op.ctx)
	if err != nil {
		return nil, err
	}
	accessors, err := op.accessors(keys)
	if err != nil {
		return nil, err
	}
	where := make([]orm.QueryOption, len(keys))
	for i, k := range keys {
		where[i] = orm.WithWhere(c.Dialect().QuoteIdentifier(k.DatabaseColumn)+" = ?", accessors[i](v))
	}
	return where, nil
}

// load 读出匹配行；谓词含 Go 函数调用时读出全部行后在内存中过滤
func (f *Filtered[T]) load(ctx context.Context, model orm.IModel) ([]T, error) {
	var rows []T
	if f.pred == nil || expr.Translatable(f.pred.Body) {
		var opts []orm.QueryOption
		if f.pred != nil {
			opts = append(opts, orm.WithPredicate(f.pred))
		}
		if err := model.Find(ctx, &rows, opts...); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var all []T
	if err := model.Find(ctx, &all); err != nil {
		return nil, err
	}
	for _, row := range all {
		ok, err := f.pred.Test(row)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *Filtered[T]) deleteEach(ctx context.Context, top *provider.Top, conn core.IDatabase) (int64, error) {
	op := f.op
	model, err := op.model(opDelete, conn)
	if err != nil {
		return 0, err
	}
	tm, err := op.table()
	if err != nil {
		return 0, err
	}
	rows, err := f.load(ctx, model)
	if err != nil {
		return 0, err
	}
	rows = rows[:limit(top, len(rows))]

	var n int64
	for _, row := range rows {
		where, err := op.keyFilter(tm.PrimaryKeys(), reflect.ValueOf(row))
		if err != nil {
			return n, err
		}
		if err := model.Delete(ctx, where...); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *Filtered[T]) updateEach(ctx context.Context, selector, modifier *expr.Func, conn core.IDatabase) (int64, error) {
	op := f.op
	if modifier == nil {
		return 0, errors.UnsupportedMapping("update requires a modifier")
	}
	path, ok := selector.SelectorPath()
	if !ok {
		return 0, errors.UnsupportedMapping("update selector must name a property, got %s", selector)
	}
	tm, err := op.table()
	if err != nil {
		return 0, err
	}
	col, ok := tm.ColumnByPath(path)
	if !ok || !col.AppliesTo(op.typ) {
		return 0, errors.UnsupportedMapping("%v has no mapped property %q", op.typ, path)
	}
	if col.IsPrimaryKey || col.IsComputed {
		return 0, errors.UnsupportedMapping("column %s cannot be updated", col.DatabaseColumn)
	}

	model, err := op.model(opUpdate, conn)
	if err != nil {
		return 0, err
	}
	rows, err := f.load(ctx, model)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, row := range rows {
		val, err := modifier.Eval(row)
		if err != nil {
			return n, err
		}
		where, err := op.keyFilter(tm.PrimaryKeys(), reflect.ValueOf(row))
		if err != nil {
			return n, err
		}
		if err := model.UpdateValues(ctx, map[string]any{col.DatabaseColumn: val}, where...); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// limit 行数限制下实际处理的行数；百分比向上取整
func limit(top *provider.Top, n int) int {
	if top == nil {
		return n
	}
	k := int(top.N)
	if top.Percent {
		k = int(math.Ceil(float64(n) * top.N / 100))
	}
	return min(max(k, 0), n)
}
