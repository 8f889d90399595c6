package orm

import "ormbatch/data/orm/expr"

// Condition 表示基础查询条件，Expr 使用占位符 ?，Args 对应参数列表。
type Condition struct {
	Expr string
	Args []any
}

// OrderBy 表示排序字段。
type OrderBy struct {
	Column string
	Desc   bool
}

// QueryOptions 描述查询/更新的通用选项。
type QueryOptions struct {
	Where   []Condition
	Joins   []Join
	OrderBy []OrderBy
	GroupBy []string
	Limit   int
	Offset  int
	Select  []string

	// Predicate 表达式谓词，由适配器编译后与 Where 以 AND 组合
	Predicate *expr.Func
}

// QueryOption 用于配置 QueryOptions。
type QueryOption func(*QueryOptions)

// WithWhere 追加查询条件。
func WithWhere(expr string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		if expr == "" {
			return
		}
		opts.Where = append(opts.Where, Condition{Expr: expr, Args: args})
	}
}

// Join 表示查询关联。
type Join struct {
	Expr string
	Args []any
}

// WithJoin 追加 JOIN 片段。
func WithJoin(expr string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		if expr == "" {
			return
		}
		opts.Joins = append(opts.Joins, Join{Expr: expr, Args: args})
	}
}

// WithGroupBy 追加分组字段。
func WithGroupBy(columns ...string) QueryOption {
	return func(opts *QueryOptions) {
		if len(columns) == 0 {
			return
		}
		opts.GroupBy = append(opts.GroupBy, columns...)
	}
}

// WithOrderBy 追加排序。
func WithOrderBy(column string, desc bool) QueryOption {
	return func(opts *QueryOptions) {
		if column == "" {
			return
		}
		opts.OrderBy = append(opts.OrderBy, OrderBy{Column: column, Desc: desc})
	}
}

// WithLimit 设置查询条数上限。
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		if limit > 0 {
			opts.Limit = limit
		}
	}
}

// WithOffset 设置查询偏移。
func WithOffset(offset int) QueryOption {
	return func(opts *QueryOptions) {
		if offset > 0 {
			opts.Offset = offset
		}
	}
}

// WithSelect 指定返回列。
func WithSelect(columns ...string) QueryOption {
	return func(opts *QueryOptions) {
		if len(columns) == 0 {
			return
		}
		opts.Select = append(opts.Select, columns...)
	}
}

// WithPredicate 追加表达式谓词；多次调用以 AND 合并。
func WithPredicate(pred *expr.Func) QueryOption {
	return func(opts *QueryOptions) {
		if pred == nil {
			return
		}
		if opts.Predicate == nil {
			opts.Predicate = pred
			return
		}
		prev := opts.Predicate
		opts.Predicate = &expr.Func{
			Param: prev.Param,
			Body:  expr.And(prev.Body, expr.ReplaceParam(pred.Body, pred.Param, prev.Param)),
		}
	}
}

// CollectQueryOptions 聚合 QueryOption，方便适配器读取。
func CollectQueryOptions(options ...QueryOption) QueryOptions {
	var opts QueryOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return opts
}
