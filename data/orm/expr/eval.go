package expr

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// Eval 在内存中对实体求值 lambda。entity 可以是结构体或其指针。
func (f *Func) Eval(entity any) (any, error) {
	if f == nil {
		return nil, fmt.Errorf("expr: nil lambda")
	}
	return evalExpr(f.Body, f.Param, reflect.ValueOf(entity))
}

// Test 求值谓词并要求结果为 bool
func (f *Func) Test(entity any) (bool, error) {
	v, err := f.Eval(entity)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr: predicate %s yields %T, want bool", f, v)
	}
	return b, nil
}

// FieldValue 按点分路径读取实体属性，nil 指针路径返回 nil
func FieldValue(entity reflect.Value, path string) (any, error) {
	v := entity
	for _, name := range strings.Split(path, ".") {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil, nil
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("expr: cannot read %q on %s", name, v.Kind())
		}
		fv := v.FieldByName(name)
		if !fv.IsValid() {
			return nil, fmt.Errorf("expr: %s has no field %q", v.Type(), name)
		}
		v = fv
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if !v.CanInterface() {
		return nil, fmt.Errorf("expr: field %q is not exported", path)
	}
	return v.Interface(), nil
}

func evalExpr(e Expr, p *Param, entity reflect.Value) (any, error) {
	switch n := e.(type) {
	case *Field:
		if n.Param != p {
			return nil, fmt.Errorf("expr: %s refers to an unbound parameter", n)
		}
		return FieldValue(entity, n.Path)
	case *Const:
		return n.Value, nil
	case *Var:
		return n.Value, nil
	case *Unary:
		v, err := evalExpr(n.Operand, p, entity)
		if err != nil {
			return nil, err
		}
		return evalUnary(n.Op, v)
	case *Null:
		v, err := evalExpr(n.Operand, p, entity)
		if err != nil {
			return nil, err
		}
		isNil := v == nil
		if !isNil {
			rv := reflect.ValueOf(v)
			isNil = (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil()
		}
		return isNil != n.Negate, nil
	case *Binary:
		return evalBinary(n, p, entity)
	case *Call:
		args, err := evalArgs(n.Args, p, entity)
		if err != nil {
			return nil, err
		}
		return evalCall(n.Func, args)
	case *Invoke:
		if n.Fn == nil {
			return nil, fmt.Errorf("expr: %s has no function", n.Name)
		}
		args, err := evalArgs(n.Args, p, entity)
		if err != nil {
			return nil, err
		}
		return n.Fn(args...)
	}
	return nil, fmt.Errorf("expr: unsupported node %T", e)
}

func evalArgs(args []Expr, p *Param, entity reflect.Value) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := evalExpr(a, p, entity)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalBinary(n *Binary, p *Param, entity reflect.Value) (any, error) {
	l, err := evalExpr(n.Left, p, entity)
	if err != nil {
		return nil, err
	}

	// AND/OR 短路
	if n.Op == OpAnd || n.Op == OpOr {
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: %s operand is %T", n.Op, l)
		}
		if (n.Op == OpAnd && !lb) || (n.Op == OpOr && lb) {
			return lb, nil
		}
		r, err := evalExpr(n.Right, p, entity)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: %s operand is %T", n.Op, r)
		}
		return rb, nil
	}

	r, err := evalExpr(n.Right, p, entity)
	if err != nil {
		return nil, err
	}
	if n.Op.IsComparison() {
		return compare(n.Op, l, r)
	}
	return arith(n.Op, l, r)
}

func evalUnary(op Op, v any) (any, error) {
	switch op {
	case OpNot:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: NOT operand is %T", v)
		}
		return !b, nil
	case OpNeg:
		switch x := normalize(v).(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		}
		return nil, fmt.Errorf("expr: cannot negate %T", v)
	}
	return nil, fmt.Errorf("expr: unsupported unary %s", op)
}

// normalize 把数值统一为 int64/float64，其余原样返回
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

func compare(op Op, l, r any) (bool, error) {
	l, r = normalize(l), normalize(r)
	if l == nil || r == nil {
		switch op {
		case OpEq:
			return l == nil && r == nil, nil
		case OpNe:
			return (l == nil) != (r == nil), nil
		}
		return false, nil
	}

	var c int
	switch lv := l.(type) {
	case int64:
		switch rv := r.(type) {
		case int64:
			c = cmpOrdered(lv, rv)
		case float64:
			c = cmpOrdered(float64(lv), rv)
		default:
			return false, mismatch(op, l, r)
		}
	case float64:
		switch rv := r.(type) {
		case int64:
			c = cmpOrdered(lv, float64(rv))
		case float64:
			c = cmpOrdered(lv, rv)
		default:
			return false, mismatch(op, l, r)
		}
	case string:
		rv, ok := r.(string)
		if !ok {
			return false, mismatch(op, l, r)
		}
		c = strings.Compare(lv, rv)
	case time.Time:
		rv, ok := r.(time.Time)
		if !ok {
			return false, mismatch(op, l, r)
		}
		c = lv.Compare(rv)
	default:
		if op != OpEq && op != OpNe {
			return false, mismatch(op, l, r)
		}
		eq := reflect.DeepEqual(l, r)
		return eq == (op == OpEq), nil
	}

	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func mismatch(op Op, l, r any) error {
	return fmt.Errorf("expr: cannot apply %s to %T and %T", op, l, r)
}

func arith(op Op, l, r any) (any, error) {
	l, r = normalize(l), normalize(r)
	if l == nil || r == nil {
		return nil, nil
	}

	if ls, ok := l.(string); ok {
		if op != OpAdd {
			return nil, mismatch(op, l, r)
		}
		return ls + fmt.Sprint(r), nil
	}
	if rs, ok := r.(string); ok {
		if op != OpAdd {
			return nil, mismatch(op, l, r)
		}
		return fmt.Sprint(l) + rs, nil
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpDiv, OpMod:
			if ri == 0 {
				return nil, fmt.Errorf("expr: division by zero")
			}
			if op == OpDiv {
				return li / ri, nil
			}
			return li % ri, nil
		}
		return nil, mismatch(op, l, r)
	}

	lf, ok1 := toFloat(l)
	rf, ok2 := toFloat(r)
	if !ok1 || !ok2 {
		return nil, mismatch(op, l, r)
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		return lf / rf, nil
	case OpMod:
		return math.Mod(lf, rf), nil
	}
	return nil, mismatch(op, l, r)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func evalCall(name string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expr: %s takes 1 argument, got %d", name, len(args))
	}
	v := normalize(args[0])
	if v == nil {
		return nil, nil
	}
	switch name {
	case FuncLower, FuncUpper, FuncTrim, FuncLength:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expr: %s argument is %T", name, v)
		}
		switch name {
		case FuncLower:
			return strings.ToLower(s), nil
		case FuncUpper:
			return strings.ToUpper(s), nil
		case FuncTrim:
			return strings.TrimSpace(s), nil
		default:
			return int64(utf8.RuneCountInString(s)), nil
		}
	case FuncAbs:
		switch x := v.(type) {
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		}
		return nil, fmt.Errorf("expr: ABS argument is %T", v)
	}
	return nil, fmt.Errorf("expr: unknown function %s", name)
}
