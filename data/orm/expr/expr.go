// Package expr 定义可被 ORM 编译为 SQL、也可在内存中求值的谓词/选择器表达式树。
//
// 用法：
//
//	// t => t.Title == "T2"
//	pred := expr.Lambda(func(t *expr.Param) expr.Expr {
//	    return expr.Eq(t.Field("Title"), "T2")
//	})
//
//	// t => t.Reads + 5
//	mod := expr.Lambda(func(t *expr.Param) expr.Expr {
//	    return expr.Add(t.Field("Reads"), 5)
//	})
//
// 普通 Go 值作为操作数时按常量内联（Const）；需要以绑定参数传入的值使用 Bind。
package expr

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Expr 表达式节点
type Expr interface {
	fmt.Stringer
	node()
}

// Op 运算符
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpNot
	OpNeg
)

var opText = map[Op]string{
	OpEq: "=", OpNe: "<>", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpAnd: "AND", OpOr: "OR", OpNot: "NOT", OpNeg: "-",
}

func (o Op) String() string {
	if s, ok := opText[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsComparison 比较运算符
func (o Op) IsComparison() bool { return o >= OpEq && o <= OpGe }

// IsArithmetic 算术运算符
func (o Op) IsArithmetic() bool { return o >= OpAdd && o <= OpMod }

// IsLogical 逻辑运算符
func (o Op) IsLogical() bool { return o == OpAnd || o == OpOr || o == OpNot }

var paramSeq atomic.Uint64

// Param lambda 的绑定变量
type Param struct {
	id   uint64
	Name string
}

// NewParam 创建新的绑定变量，每次调用得到不同的身份
func NewParam(name string) *Param {
	return &Param{id: paramSeq.Add(1), Name: name}
}

// Field 引用实体上的属性，path 为点分路径（内嵌/复杂类型）
func (p *Param) Field(path string) *Field {
	return &Field{Param: p, Path: path}
}

func (p *Param) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("p%d", p.id)
}

// Func 单参数 lambda：Param => Body
type Func struct {
	Param *Param
	Body  Expr
}

// Lambda 构造 lambda，build 接收新建的绑定变量
func Lambda(build func(p *Param) Expr) *Func {
	p := NewParam("t")
	return &Func{Param: p, Body: build(p)}
}

// Prop 属性选择器 t => t.<path>
func Prop(path string) *Func {
	p := NewParam("t")
	return &Func{Param: p, Body: p.Field(path)}
}

// SelectorPath 若 lambda 体是对自身参数的属性访问，返回其路径
func (f *Func) SelectorPath() (string, bool) {
	if f == nil {
		return "", false
	}
	fld, ok := f.Body.(*Field)
	if !ok || fld.Param != f.Param {
		return "", false
	}
	return fld.Path, true
}

func (f *Func) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Param.String() + " => " + f.Body.String()
}

// Field 属性访问
type Field struct {
	Param *Param
	Path  string
}

// Const 内联常量
type Const struct {
	Value any
}

// Var 绑定参数（捕获的变量），编译为 ? 占位符
type Var struct {
	Name  string
	Value any
}

// Binary 二元运算
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

// Unary 一元运算（NOT、取负）
type Unary struct {
	Op      Op
	Operand Expr
}

// Null 判空：Operand IS [NOT] NULL
type Null struct {
	Operand Expr
	Negate  bool
}

// Call 白名单内的 SQL 标量函数
type Call struct {
	Func string
	Args []Expr
}

// Invoke 任意 Go 函数调用，只能在内存中求值，无法翻译为 SQL
type Invoke struct {
	Name string
	Fn   func(args ...any) (any, error)
	Args []Expr
}

func (*Field) node()  {}
func (*Const) node()  {}
func (*Var) node()    {}
func (*Binary) node() {}
func (*Unary) node()  {}
func (*Null) node()   {}
func (*Call) node()   {}
func (*Invoke) node() {}

func (e *Field) String() string { return e.Param.String() + "." + e.Path }
func (e *Const) String() string { return fmt.Sprintf("%#v", e.Value) }
func (e *Var) String() string {
	if e.Name != "" {
		return "@" + e.Name
	}
	return "@var"
}
func (e *Binary) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}
func (e *Unary) String() string {
	if e.Op == OpNot {
		return "NOT " + e.Operand.String()
	}
	return "-" + e.Operand.String()
}
func (e *Null) String() string {
	if e.Negate {
		return e.Operand.String() + " IS NOT NULL"
	}
	return e.Operand.String() + " IS NULL"
}
func (e *Call) String() string   { return e.Func + "(" + joinExprs(e.Args) + ")" }
func (e *Invoke) String() string { return e.Name + "(" + joinExprs(e.Args) + ")" }

func joinExprs(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Of 把任意值转为表达式：Expr 原样返回，其余作为 Const
func Of(v any) Expr {
	switch x := v.(type) {
	case Expr:
		return x
	case *Func:
		return x.Body
	default:
		return &Const{Value: v}
	}
}

// Bind 以绑定参数形式引用一个值
func Bind(name string, v any) *Var {
	return &Var{Name: name, Value: v}
}

func bin(op Op, l, r any) *Binary {
	return &Binary{Op: op, Left: Of(l), Right: Of(r)}
}

func Eq(l, r any) *Binary  { return bin(OpEq, l, r) }
func Ne(l, r any) *Binary  { return bin(OpNe, l, r) }
func Lt(l, r any) *Binary  { return bin(OpLt, l, r) }
func Le(l, r any) *Binary  { return bin(OpLe, l, r) }
func Gt(l, r any) *Binary  { return bin(OpGt, l, r) }
func Ge(l, r any) *Binary  { return bin(OpGe, l, r) }
func Add(l, r any) *Binary { return bin(OpAdd, l, r) }
func Sub(l, r any) *Binary { return bin(OpSub, l, r) }
func Mul(l, r any) *Binary { return bin(OpMul, l, r) }
func Div(l, r any) *Binary { return bin(OpDiv, l, r) }
func Mod(l, r any) *Binary { return bin(OpMod, l, r) }

// And 左结合地连接多个条件
func And(first any, rest ...any) Expr {
	out := Of(first)
	for _, r := range rest {
		out = bin(OpAnd, out, r)
	}
	return out
}

// Or 左结合地连接多个条件
func Or(first any, rest ...any) Expr {
	out := Of(first)
	for _, r := range rest {
		out = bin(OpOr, out, r)
	}
	return out
}

func Not(e any) *Unary    { return &Unary{Op: OpNot, Operand: Of(e)} }
func Neg(e any) *Unary    { return &Unary{Op: OpNeg, Operand: Of(e)} }
func IsNull(e any) *Null  { return &Null{Operand: Of(e)} }
func NotNull(e any) *Null { return &Null{Operand: Of(e), Negate: true} }

// SQL 标量函数白名单
const (
	FuncLower  = "LOWER"
	FuncUpper  = "UPPER"
	FuncLength = "LENGTH"
	FuncAbs    = "ABS"
	FuncTrim   = "TRIM"
)

func Lower(e any) *Call  { return &Call{Func: FuncLower, Args: []Expr{Of(e)}} }
func Upper(e any) *Call  { return &Call{Func: FuncUpper, Args: []Expr{Of(e)}} }
func Length(e any) *Call { return &Call{Func: FuncLength, Args: []Expr{Of(e)}} }
func Abs(e any) *Call    { return &Call{Func: FuncAbs, Args: []Expr{Of(e)}} }
func Trim(e any) *Call   { return &Call{Func: FuncTrim, Args: []Expr{Of(e)}} }

// GoFunc 包装 Go 函数调用（只能在内存中求值）
func GoFunc(name string, fn func(args ...any) (any, error), args ...any) *Invoke {
	exprs := make([]Expr, len(args))
	for i, a := range args {
		exprs[i] = Of(a)
	}
	return &Invoke{Name: name, Fn: fn, Args: exprs}
}
