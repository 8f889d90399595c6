package basic

import (
	"fmt"
	"reflect"
	"strings"

	"ormbatch/data/db/dialect"
	"ormbatch/data/orm"
	"ormbatch/data/orm/expr"
)

var _ orm.IQueryCompiler = (*Orm)(nil)

// ExtentAlias 编译查询时主表使用的别名
const ExtentAlias = "Extent1"

// nativeQuery 实现 orm.INativeQuery
type nativeQuery struct {
	sql  string
	args []any
}

func (q *nativeQuery) ToTraceString() string { return q.sql }
func (q *nativeQuery) Args() []any           { return q.args }

// Compile 把谓词编译为 SELECT：
//
//	SELECT "Extent1"."c1" AS "c1", ... FROM "schema"."table" AS "Extent1" WHERE <pred> [AND (<disc> = '<value>')]
//
// 二元运算全部加括号；常量按方言内联为字面量，Var 绑定为 ? 参数。
func (o *Orm) Compile(meta *orm.ModelMeta, entityType reflect.Type, pred *expr.Func) (orm.INativeQuery, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if entityType == nil {
		entityType = meta.Type()
	}
	for entityType.Kind() == reflect.Pointer {
		entityType = entityType.Elem()
	}
	if !meta.Covers(entityType) {
		return nil, fmt.Errorf("basic.Compile: %s is not part of model %s", entityType, meta.Type())
	}

	fields, err := meta.FieldsOf(entityType)
	if err != nil {
		return nil, err
	}

	d := o.dialect
	alias := d.QuoteIdentifier(ExtentAlias)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	n := 0
	for _, f := range fields {
		if f.Table != "" {
			continue
		}
		if n > 0 {
			sb.WriteString(", ")
		}
		col := d.QuoteIdentifier(f.Column)
		sb.WriteString(alias + "." + col + " AS " + col)
		n++
	}
	if meta.Inheritance != nil {
		col := d.QuoteIdentifier(meta.Inheritance.Discriminator)
		sb.WriteString(", " + alias + "." + col + " AS " + col)
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteTable(meta.Schema, meta.TableName()))
	sb.WriteString(" AS ")
	sb.WriteString(alias)

	var conds []string
	var args []any
	if pred != nil {
		frag, a, err := o.renderPredicate(meta, entityType, pred, ExtentAlias)
		if err != nil {
			return nil, err
		}
		conds = append(conds, frag)
		args = a
	}
	if cond, ok := o.discriminatorFilter(meta, entityType, ExtentAlias); ok {
		conds = append(conds, cond)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	return &nativeQuery{sql: sb.String(), args: args}, nil
}

// discriminatorFilter 派生类型查询附加 (<disc> = '<value>')；基类不过滤
func (o *Orm) discriminatorFilter(meta *orm.ModelMeta, entityType reflect.Type, alias string) (string, bool) {
	if meta.Inheritance == nil || entityType == nil || entityType == meta.Type() {
		return "", false
	}
	value, ok := meta.Inheritance.ValueFor(entityType)
	if !ok {
		return "", false
	}
	lit, err := o.dialect.Literal(value)
	if err != nil {
		return "", false
	}
	return "(" + o.qualify(alias, meta.Inheritance.Discriminator) + " = " + lit + ")", true
}

func (o *Orm) qualify(alias, column string) string {
	if alias == "" {
		return o.dialect.QuoteIdentifier(column)
	}
	return o.dialect.QuoteIdentifier(alias) + "." + o.dialect.QuoteIdentifier(column)
}

// renderPredicate 把 lambda 体渲染为布尔 SQL 片段；alias 为空时列不加前缀
func (o *Orm) renderPredicate(meta *orm.ModelMeta, entityType reflect.Type, pred *expr.Func, alias string) (string, []any, error) {
	fields, err := meta.FieldsOf(entityType)
	if err != nil {
		return "", nil, err
	}
	r := &renderer{
		orm:        o,
		param:      pred.Param,
		alias:      alias,
		entityType: entityType,
		columns:    make(map[string]orm.FieldMeta, len(fields)),
	}
	for _, f := range fields {
		r.columns[f.Name] = f
	}
	frag, err := r.predicate(pred.Body)
	if err != nil {
		return "", nil, err
	}
	return frag, r.args, nil
}

type renderer struct {
	orm        *Orm
	param      *expr.Param
	alias      string
	entityType reflect.Type
	columns    map[string]orm.FieldMeta
	args       []any
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", orm.ErrUnsupportedExpression, fmt.Sprintf(format, args...))
}

// predicate 渲染布尔上下文；非布尔节点（布尔列、布尔常量）展开为 (x = TRUE)
func (r *renderer) predicate(e expr.Expr) (string, error) {
	switch n := e.(type) {
	case *expr.Binary:
		if n.Op.IsComparison() || n.Op.IsLogical() {
			return r.scalar(e)
		}
	case *expr.Unary:
		if n.Op == expr.OpNot {
			return r.scalar(e)
		}
	case *expr.Null:
		return r.scalar(e)
	}

	s, err := r.scalar(e)
	if err != nil {
		return "", err
	}
	t, err := r.orm.dialect.Literal(true)
	if err != nil {
		return "", err
	}
	return "(" + s + " = " + t + ")", nil
}

func (r *renderer) scalar(e expr.Expr) (string, error) {
	d := r.orm.dialect
	switch n := e.(type) {
	case *expr.Field:
		if n.Param != r.param {
			return "", unsupported("%s refers to an unbound parameter", n)
		}
		f, ok := r.columns[n.Path]
		if !ok {
			return "", unsupported("%s has no mapped column %q", r.entityType, n.Path)
		}
		if f.Table != "" {
			return "", unsupported("column %q lives in split table %s", f.Column, f.Table)
		}
		return r.orm.qualify(r.alias, f.Column), nil

	case *expr.Const:
		return d.Literal(n.Value)

	case *expr.Var:
		r.args = append(r.args, n.Value)
		return "?", nil

	case *expr.Unary:
		if n.Op == expr.OpNot {
			inner, err := r.predicate(n.Operand)
			if err != nil {
				return "", err
			}
			return "(NOT " + inner + ")", nil
		}
		inner, err := r.scalar(n.Operand)
		if err != nil {
			return "", err
		}
		return "(-" + inner + ")", nil

	case *expr.Null:
		inner, err := r.scalar(n.Operand)
		if err != nil {
			return "", err
		}
		if n.Negate {
			return "(" + inner + " IS NOT NULL)", nil
		}
		return "(" + inner + " IS NULL)", nil

	case *expr.Binary:
		return r.binary(n)

	case *expr.Call:
		if len(n.Args) != 1 {
			return "", unsupported("%s takes one argument", n.Func)
		}
		name := n.Func
		switch name {
		case expr.FuncLower, expr.FuncUpper, expr.FuncAbs, expr.FuncTrim:
		case expr.FuncLength:
			if d.Name() == dialect.NameSQLServer {
				name = "LEN"
			}
		default:
			return "", unsupported("function %s", n.Func)
		}
		arg, err := r.scalar(n.Args[0])
		if err != nil {
			return "", err
		}
		return name + "(" + arg + ")", nil

	case *expr.Invoke:
		return "", unsupported("method call %s", n.Name)
	}
	return "", unsupported("node %T", e)
}

func (r *renderer) binary(n *expr.Binary) (string, error) {
	// x = nil / x <> nil
	if n.Op == expr.OpEq || n.Op == expr.OpNe {
		if c, ok := n.Right.(*expr.Const); ok && c.Value == nil {
			return r.scalar(&expr.Null{Operand: n.Left, Negate: n.Op == expr.OpNe})
		}
		if c, ok := n.Left.(*expr.Const); ok && c.Value == nil {
			return r.scalar(&expr.Null{Operand: n.Right, Negate: n.Op == expr.OpNe})
		}
	}

	render := r.scalar
	if n.Op.IsLogical() {
		render = r.predicate
	}
	l, err := render(n.Left)
	if err != nil {
		return "", err
	}
	rt, err := render(n.Right)
	if err != nil {
		return "", err
	}

	op := n.Op.String()
	if n.Op == expr.OpAdd && expr.IsString(expr.TypeOf(n, r.entityType)) {
		op = r.orm.dialect.ConcatOperator()
	}
	return "(" + l + " " + op + " " + rt + ")", nil
}
