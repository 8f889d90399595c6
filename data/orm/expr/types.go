package expr

import (
	"reflect"
	"strings"
)

var (
	stringType  = reflect.TypeOf("")
	boolType    = reflect.TypeOf(false)
	int64Type   = reflect.TypeOf(int64(0))
	float64Type = reflect.TypeOf(float64(0))
)

// FieldType 解析点分路径在实体类型上的静态类型（去掉指针）
func FieldType(entity reflect.Type, path string) (reflect.Type, bool) {
	t := entity
	for _, name := range strings.Split(path, ".") {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return nil, false
		}
		sf, ok := t.FieldByName(name)
		if !ok {
			return nil, false
		}
		t = sf.Type
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t, true
}

// TypeOf 推断表达式的静态类型；无法推断时返回 nil
func TypeOf(e Expr, entity reflect.Type) reflect.Type {
	switch n := e.(type) {
	case *Field:
		if entity == nil {
			return nil
		}
		t, _ := FieldType(entity, n.Path)
		return t
	case *Const:
		return valueType(n.Value)
	case *Var:
		return valueType(n.Value)
	case *Null:
		return boolType
	case *Unary:
		if n.Op == OpNot {
			return boolType
		}
		return TypeOf(n.Operand, entity)
	case *Binary:
		if n.Op.IsComparison() || n.Op.IsLogical() {
			return boolType
		}
		lt, rt := TypeOf(n.Left, entity), TypeOf(n.Right, entity)
		if IsString(lt) || IsString(rt) {
			return stringType
		}
		if isFloat(lt) || isFloat(rt) {
			return float64Type
		}
		if lt != nil {
			return lt
		}
		return rt
	case *Call:
		switch n.Func {
		case FuncLength:
			return int64Type
		case FuncAbs:
			if len(n.Args) == 1 {
				return TypeOf(n.Args[0], entity)
			}
		default:
			return stringType
		}
	}
	return nil
}

// IsString 类型底层是否为字符串
func IsString(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.String
}

func isFloat(t reflect.Type) bool {
	return t != nil && (t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64)
}

func valueType(v any) reflect.Type {
	if v == nil {
		return nil
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
