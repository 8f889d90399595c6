package provider

import (
	stdErrors "errors"
	"reflect"

	"ormbatch/data/orm"
	"ormbatch/data/orm/expr"
	"ormbatch/errors"
)

// Compile 通过宿主 ORM 把谓词编译为原生查询。
// ORM 不支持编译时返回配置错误；谓词无法翻译时返回 UNSUPPORTED_MAPPING。
func Compile(o orm.IOrm, meta *orm.ModelMeta, entityType reflect.Type, pred *expr.Func) (orm.INativeQuery, error) {
	c, ok := o.(orm.IQueryCompiler)
	if !ok {
		return nil, errors.Configuration("orm %T cannot compile predicates", o)
	}
	q, err := c.Compile(meta, entityType, pred)
	if err != nil {
		if stdErrors.Is(err, orm.ErrUnsupportedExpression) {
			return nil, errors.UnsupportedMapping("%v", err)
		}
		return nil, err
	}
	return q, nil
}

// CombineUpdate 把选择器与修改器合并为 t => selector(t) == modifier(t)，
// 修改器的参数改写为选择器的参数。
func CombineUpdate(selector, modifier *expr.Func) (*expr.Func, error) {
	if selector == nil || modifier == nil {
		return nil, errors.UnsupportedMapping("update requires both a selector and a modifier")
	}
	if _, ok := selector.SelectorPath(); !ok {
		return nil, errors.UnsupportedMapping("update selector must name a property, got %s", selector.Body)
	}
	if !expr.Translatable(modifier.Body) {
		return nil, errors.UnsupportedMapping("modifier %s calls a Go function and cannot run as SQL", modifier.Body)
	}
	if c, ok := modifier.Body.(*expr.Const); ok && c.Value == nil {
		// 与 NULL 的比较会编译为 IS NULL，推不出赋值
		return nil, errors.UnsupportedMapping("null constant modifier; bind the value with expr.Bind instead")
	}

	body := expr.ReplaceParam(modifier.Body, modifier.Param, selector.Param)
	return &expr.Func{Param: selector.Param, Body: expr.Eq(selector.Body, body)}, nil
}
