package batch

import (
	"context"
	"reflect"
	"strings"

	"ormbatch/batch/provider"
	"ormbatch/errors"
)

// Modifier 单个已存在实体的部分列更新，由 AttachAndModify 创建
type Modifier[T any] struct {
	op    *Operation[T]
	item  *T
	paths []string
	err   error
}

// AttachAndModify 把 item 视为已存在的行（按主键定位），之后只更新 Set 过的列
//
//	err := ops.AttachAndModify(&blog).Set("Title", "T9").Set("Reads", 3).Save(ctx)
func (op *Operation[T]) AttachAndModify(item *T) *Modifier[T] {
	m := &Modifier[T]{op: op, item: item}
	if item == nil {
		m.err = errors.Configuration("AttachAndModify: nil entity")
	}
	return m
}

// Set 修改 item 上的属性并记下对应列；path 支持点分的复杂属性
func (m *Modifier[T]) Set(path string, value any) *Modifier[T] {
	if m.err != nil {
		return m
	}
	if err := assign(reflect.ValueOf(m.item).Elem(), path, value); err != nil {
		m.err = err
		return m
	}
	m.paths = append(m.paths, path)
	return m
}

// Save 经宿主 ORM 写入 Set 过的列；没有修改时不执行任何语句
func (m *Modifier[T]) Save(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	if len(m.paths) == 0 {
		return nil
	}
	op := m.op
	tm, err := op.table()
	if err != nil {
		return err
	}
	// 主键用来定位行
	for _, path := range m.paths {
		if c, ok := tm.ColumnByPath(path); ok && c.IsPrimaryKey {
			return errors.UnsupportedMapping("primary key column %s cannot be modified", c.DatabaseColumn)
		}
	}
	cols, err := op.mergeColumns(tm, UpdateColumns(m.paths...))
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

	v := reflect.ValueOf(m.item)
	set := make(map[string]any, len(values))
	for i, c := range values {
		set[c.DatabaseColumn] = accessors[i](v)
	}
	where, err := op.keyFilter(keys, v)
	if err != nil {
		return err
	}
	model, err := op.model(opUpdate, nil)
	if err != nil {
		return err
	}
	return model.UpdateValues(ctx, set, where...)
}

// assign 沿属性路径赋值，途中的 nil 指针按需分配
func assign(v reflect.Value, path string, value any) error {
	for _, name := range strings.Split(path, ".") {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return errors.UnsupportedMapping("cannot set %q: %s is not a struct", path, v.Type())
		}
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			return errors.UnsupportedMapping("%s has no settable property %q", v.Type(), path)
		}
		v = f
	}

	if value == nil {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(v.Type()):
		v.Set(rv)
	case v.Kind() == reflect.Pointer && rv.Type().AssignableTo(v.Type().Elem()):
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(rv)
		v.Set(p)
	case convertible(rv.Type(), v.Type()):
		v.Set(rv.Convert(v.Type()))
	default:
		return errors.UnsupportedMapping("cannot assign %T to %q (%s)", value, path, v.Type())
	}
	return nil
}

// convertible 只允许数值之间、字符串之间的转换（排除 int -> string 这类按码点转换）
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	return (from.Kind() == reflect.String) == (to.Kind() == reflect.String)
}
