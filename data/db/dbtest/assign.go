package dbtest

import (
	"database/sql"
	"fmt"
	"reflect"
)

// assign 以 database/sql 的方式把 src 写入 dest 指针
func assign(dest, src any) error {
	if s, ok := dest.(sql.Scanner); ok {
		return s.Scan(src)
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("dbtest: destination must be a non-nil pointer, got %T", dest)
	}
	target := dv.Elem()
	if src == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if target.Kind() == reflect.Interface {
		target.Set(sv)
		return nil
	}
	if sv.Type().AssignableTo(target.Type()) {
		target.Set(sv)
		return nil
	}
	if sv.Type().ConvertibleTo(target.Type()) {
		target.Set(sv.Convert(target.Type()))
		return nil
	}
	return fmt.Errorf("dbtest: cannot assign %T to %s", src, target.Type())
}
