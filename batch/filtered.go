package batch

import (
	"context"
	"time"

	"ormbatch/batch/diagnostics"
	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/orm/expr"
	"ormbatch/errors"
	"ormbatch/validation"
)

// Filtered 按谓词限定的删除与更新
type Filtered[T any] struct {
	op   *Operation[T]
	pred *expr.Func
}

// Delete 删除全部匹配行，返回删除行数
func (f *Filtered[T]) Delete(ctx context.Context, opts ...Option) (int64, error) {
	return f.delete(ctx, nil, opts)
}

// DeleteTop 至多删除 n 行匹配行
func (f *Filtered[T]) DeleteTop(ctx context.Context, n int, opts ...Option) (int64, error) {
	if n < 0 {
		return 0, errors.Configuration("DeleteTop: negative row count %d", n)
	}
	return f.delete(ctx, &provider.Top{N: float64(n)}, opts)
}

// DeleteTopPercent 删除匹配行中的前 pct 百分比
func (f *Filtered[T]) DeleteTopPercent(ctx context.Context, pct float64, opts ...Option) (int64, error) {
	if err := validation.ValidatePercent(pct, "DeleteTopPercent"); err != nil {
		return 0, errors.WrapError(err, errors.ErrCodeConfiguration, "DeleteTopPercent: percent out of range")
	}
	return f.delete(ctx, &provider.Top{N: pct, Percent: true}, opts)
}

func (f *Filtered[T]) delete(ctx context.Context, top *provider.Top, opts []Option) (int64, error) {
	op := f.op
	o := collectOptions(op.engine.config, opts)
	conn := o.executor(op.ctx)

	p := op.resolve(ctx, opDelete, conn, provider.Provider.CanDelete)
	if p == nil {
		if err := op.fallback(ctx, opDelete, conn); err != nil {
			return 0, err
		}
		return f.deleteEach(ctx, top, conn)
	}

	info, err := f.compile(p, f.pred)
	if err != nil {
		return 0, err
	}
	info.Top = top
	query, args, err := p.DeleteQuery(info)
	if err != nil {
		return 0, err
	}
	return f.exec(ctx, opDelete, p, conn, o, query, args)
}

// Update 把匹配行的 selector 列设为 modifier 的值，返回更新行数。
//
//	ops.Where(pred).Update(ctx, expr.Prop("Reads"), expr.Lambda(func(b *expr.Param) expr.Expr {
//		return expr.Add(b.Field("Reads"), 5)
//	}))
//
// 修改器必须能翻译为 SQL；调用 Go 函数的修改器只在开启 EnableUpdateFallback
// 且没有提供者时于内存中求值。
func (f *Filtered[T]) Update(ctx context.Context, selector, modifier *expr.Func, opts ...Option) (int64, error) {
	op := f.op
	o := collectOptions(op.engine.config, opts)
	conn := o.executor(op.ctx)

	p := op.resolve(ctx, opUpdate, conn, provider.Provider.CanUpdate)
	if p == nil {
		op.emitFallback(ctx, opUpdate, conn)
		if !op.engine.config.EnableUpdateFallback {
			return 0, errors.NoCapableProvider(opUpdate, describe(conn))
		}
		return f.updateEach(ctx, selector, modifier, conn)
	}

	combined, err := provider.CombineUpdate(selector, modifier)
	if err != nil {
		return 0, err
	}
	predicate, err := f.compile(p, f.pred)
	if err != nil {
		return 0, err
	}
	modification, err := f.compile(p, combined)
	if err != nil {
		return 0, err
	}
	query, args, err := p.UpdateQuery(predicate, modification)
	if err != nil {
		return 0, err
	}
	return f.exec(ctx, opUpdate, p, conn, o, query, args)
}

// compile 经 ORM 编译谓词并提取查询信息
func (f *Filtered[T]) compile(p provider.Provider, pred *expr.Func) (*provider.QueryInformation, error) {
	meta, err := f.op.meta()
	if err != nil {
		return nil, err
	}
	q, err := provider.Compile(f.op.ctx.Orm(), meta, f.op.typ, pred)
	if err != nil {
		return nil, err
	}
	return p.QueryInformation(q)
}

func (f *Filtered[T]) exec(ctx context.Context, operation string, p provider.Provider, conn core.IDatabase, o *callOptions, query string, args []any) (int64, error) {
	ctx, cancel := provider.Deadline(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	res, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	e := diagnostics.NewEvent(diagnostics.KindStatement, operation, p.Name()+" executed "+operation).WithSQL(query)
	e.Provider, e.Rows, e.Duration = p.Name(), n, time.Since(start)
	f.op.engine.sink.Emit(ctx, e)
	return n, nil
}
