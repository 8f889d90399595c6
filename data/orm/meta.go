package orm

import (
	"fmt"
	"reflect"
)

// FieldMeta 描述字段元信息。
type FieldMeta struct {
	// Name 结构体上的属性路径，复杂类型（值对象）以点分隔，例如 "Address.City"
	Name          string
	Column        string
	PrimaryKey    bool
	AutoIncrement bool
	// Computed 只读列（数据库计算/生成），不参与写入
	Computed     bool
	Nullable     bool
	Unique       bool
	DefaultValue string

	// Type 字段的 Go 类型；DBType 为标签显式声明的数据库类型（可为空）
	Type      reflect.Type
	DBType    string
	Size      int
	Precision int
	Scale     int

	// Table 非空表示该列存放在拆分出的另一张表（实体拆分）
	Table string

	// Index 相对实体类型的反射字段索引路径
	Index []int
	// DeclaringType 直接声明该字段的结构体类型（经内嵌提升的字段指向被内嵌者）
	DeclaringType reflect.Type

	Tags map[string]string
}

// DerivedMeta 单表继承中的一个具体类型及其鉴别值。
type DerivedMeta struct {
	Model any
	Value string
}

// InheritanceMeta 描述单表继承（TPH）：同一张表存放整个类型层次，
// 由 Discriminator 列区分具体类型。
type InheritanceMeta struct {
	Discriminator string
	// Types 层次中的全部具体类型（含基类自身，若它可实例化）
	Types []DerivedMeta
}

// ValueFor 返回具体类型的鉴别值
func (im *InheritanceMeta) ValueFor(t reflect.Type) (string, bool) {
	if im == nil {
		return "", false
	}
	t = indirectType(t)
	for _, d := range im.Types {
		if indirectType(reflect.TypeOf(d.Model)) == t {
			return d.Value, true
		}
	}
	return "", false
}

// ModelMeta 描述模型级别元信息。
// Tags 可用于存放原始 orm/gorm 等标签内容，由适配器解析。
type ModelMeta struct {
	Model       any
	Schema      string
	Table       string
	Fields      []FieldMeta
	Inheritance *InheritanceMeta
	Tags        map[string]string
}

// Tag 返回模型级别的标签内容。
func (m *ModelMeta) Tag(key string) string {
	if m == nil || m.Tags == nil {
		return ""
	}
	return m.Tags[key]
}

// Type 返回模型的结构体类型（去掉指针）。
func (m *ModelMeta) Type() reflect.Type {
	if m == nil || m.Model == nil {
		return nil
	}
	return indirectType(reflect.TypeOf(m.Model))
}

// TableName 返回表名：显式 Table 优先，否则调用模型的 TableName()。
func (m *ModelMeta) TableName() string {
	if m == nil {
		return ""
	}
	if m.Table != "" {
		return m.Table
	}
	if tn, ok := tryGetTableName(m.Model); ok {
		return tn
	}
	return ""
}

// FieldsOf 返回类型 t 的字段元信息。
// t 为模型类型且 Fields 显式给出时直接使用，否则按标签反射。
func (m *ModelMeta) FieldsOf(t reflect.Type) ([]FieldMeta, error) {
	t = indirectType(t)
	if len(m.Fields) > 0 && t == m.Type() {
		return m.Fields, nil
	}
	return ReflectFields(t)
}

// Covers 判断 t 是否属于该模型（模型本身或继承层次中的具体类型）。
func (m *ModelMeta) Covers(t reflect.Type) bool {
	t = indirectType(t)
	if t == m.Type() {
		return true
	}
	_, ok := m.Inheritance.ValueFor(t)
	return ok
}

// Validate 检查元信息最小完整性。
func (m *ModelMeta) Validate() error {
	if m == nil {
		return fmt.Errorf("orm: nil model meta")
	}
	if m.Type() == nil || m.Type().Kind() != reflect.Struct {
		return fmt.Errorf("orm: model must be a struct, got %T", m.Model)
	}
	if m.TableName() == "" {
		return fmt.Errorf("orm: model %s has no table name", m.Type())
	}
	if m.Inheritance != nil && m.Inheritance.Discriminator == "" {
		return fmt.Errorf("orm: model %s declares inheritance without discriminator", m.Type())
	}
	return nil
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// tryGetTableName 尝试从模型实例上调用 TableName()。
func tryGetTableName(model any) (string, bool) {
	if model == nil {
		return "", false
	}
	v := reflect.ValueOf(model)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		v = reflect.New(v.Type().Elem())
	}

	if m, ok := v.Interface().(interface{ TableName() string }); ok {
		return m.TableName(), true
	}

	t := indirectType(v.Type())
	if t.Kind() != reflect.Struct {
		return "", false
	}
	// 指针接收者实现
	if m, ok := reflect.New(t).Interface().(interface{ TableName() string }); ok {
		return m.TableName(), true
	}
	return "", false
}
