package mapping

import (
	"reflect"
	"strings"

	"ormbatch/errors"
)

// Accessor 读取实体（结构体值）上某一列的值。
// 路径上遇到 nil 指针时返回 nil。
type Accessor func(entity reflect.Value) any

type accessorKey struct {
	t    reflect.Type
	path string
}

// Constant 返回固定值的访问器（鉴别列）
func Constant(v any) Accessor {
	return func(reflect.Value) any { return v }
}

// compileAccessor 在构建期解析属性路径，运行期只做按索引取字段
func compileAccessor(t reflect.Type, path string) (Accessor, error) {
	t = indirect(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.UnsupportedMapping("cannot access %q on %v", path, t)
	}

	var chain []int
	cur := t
	for _, name := range strings.Split(path, ".") {
		cur = indirect(cur)
		if cur.Kind() != reflect.Struct {
			return nil, errors.UnsupportedMapping("%s: %q is not a struct on path %q", t, name, path)
		}
		sf, ok := cur.FieldByName(name)
		if !ok || !sf.IsExported() {
			return nil, errors.UnsupportedMapping("%s has no exported property %q", t, path)
		}
		chain = append(chain, sf.Index...)
		cur = sf.Type
	}

	if len(chain) == 1 {
		i := chain[0]
		return func(v reflect.Value) any {
			v = deref(v)
			if !v.IsValid() {
				return nil
			}
			return valueOf(v.Field(i))
		}, nil
	}

	return func(v reflect.Value) any {
		for _, i := range chain {
			v = deref(v)
			if !v.IsValid() {
				return nil
			}
			v = v.Field(i)
		}
		return valueOf(v)
	}, nil
}

func deref(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func valueOf(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		return v.Elem().Interface()
	}
	return v.Interface()
}
