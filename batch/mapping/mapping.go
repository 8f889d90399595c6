// Package mapping 从 ORM 元信息中提取实体到表/列的映射，并按 ORM 上下文类型缓存。
//
// 一个实体类型通常对应一张表；实体拆分时对应多张，批量路径只使用主表（第一张）。
// 单表继承的整个类型层次共用一份 TableMapping，按具体类型过滤列。
package mapping

import (
	"reflect"
	"strings"
)

// ColumnMapping 描述一个数据库列。
type ColumnMapping struct {
	// ObjectPath 对象侧属性路径（点分），纯鉴别列为空
	ObjectPath string
	// DatabaseColumn 数据库列名
	DatabaseColumn string
	// StaticValue 仅鉴别列有值：当前具体类型的鉴别值
	StaticValue any
	DataType     string
	DataTypeFull string
	IsPrimaryKey bool
	IsComputed   bool
	// IsIdentity 数据库自增生成的键
	IsIdentity bool
	// OwningConcreteType 贡献者中最派生的那个类型
	OwningConcreteType reflect.Type
	// GoType 属性的 Go 类型（去掉指针），鉴别列为 string
	GoType reflect.Type

	contributors  []reflect.Type
	discriminator bool
}

// IsDiscriminator 是否为单表继承的鉴别列
func (c ColumnMapping) IsDiscriminator() bool { return c.discriminator }

// AppliesTo 该列是否属于具体类型 t（t 或其祖先声明了该列）
func (c ColumnMapping) AppliesTo(t reflect.Type) bool {
	if c.discriminator {
		return true
	}
	t = indirect(t)
	for _, ct := range c.contributors {
		if ct == t {
			return true
		}
	}
	return false
}

// DiscriminatorConfig 单表继承的鉴别配置
type DiscriminatorConfig struct {
	Column string
	Values map[reflect.Type]string
}

// ValueFor 返回具体类型的鉴别值
func (d *DiscriminatorConfig) ValueFor(t reflect.Type) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d.Values[indirect(t)]
	return v, ok
}

// TableMapping 一张表的映射
type TableMapping struct {
	Schema        string
	Table         string
	Columns       []ColumnMapping
	Discriminator *DiscriminatorConfig
}

// InsertColumns 返回具体类型 t 的插入列：排除计算列；keepIdentity 为 false 时排除自增键；
// 单表继承时包含带静态值的鉴别列。
func (tm *TableMapping) InsertColumns(t reflect.Type, keepIdentity bool) []ColumnMapping {
	var out []ColumnMapping
	for _, c := range tm.Columns {
		if !c.AppliesTo(t) || c.IsComputed {
			continue
		}
		if c.IsIdentity && !keepIdentity {
			continue
		}
		out = append(out, tm.bind(c, t))
	}
	return out
}

// UpdateColumns 返回具体类型 t 可出现在 SET 中的列：排除主键、计算列与鉴别列。
func (tm *TableMapping) UpdateColumns(t reflect.Type) []ColumnMapping {
	var out []ColumnMapping
	for _, c := range tm.Columns {
		if !c.AppliesTo(t) || c.IsPrimaryKey || c.IsComputed || c.discriminator {
			continue
		}
		out = append(out, c)
	}
	return out
}

// PrimaryKeys 返回主键列（按声明顺序）
func (tm *TableMapping) PrimaryKeys() []ColumnMapping {
	var out []ColumnMapping
	for _, c := range tm.Columns {
		if c.IsPrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// ColumnByPath 按对象属性路径查找列
func (tm *TableMapping) ColumnByPath(path string) (ColumnMapping, bool) {
	for _, c := range tm.Columns {
		if c.ObjectPath != "" && c.ObjectPath == path {
			return c, true
		}
	}
	return ColumnMapping{}, false
}

// ColumnByName 按列名（大小写不敏感）查找列
func (tm *TableMapping) ColumnByName(name string) (ColumnMapping, bool) {
	for _, c := range tm.Columns {
		if strings.EqualFold(c.DatabaseColumn, name) {
			return c, true
		}
	}
	return ColumnMapping{}, false
}

// bind 为鉴别列填入 t 的静态值
func (tm *TableMapping) bind(c ColumnMapping, t reflect.Type) ColumnMapping {
	if c.discriminator {
		if v, ok := tm.Discriminator.ValueFor(t); ok {
			c.StaticValue = v
		}
	}
	return c
}

// EntityTypeMapping 实体类型到表的映射
type EntityTypeMapping struct {
	Type   reflect.Type
	Tables []*TableMapping
}

// Primary 主表
func (m *EntityTypeMapping) Primary() *TableMapping {
	if m == nil || len(m.Tables) == 0 {
		return nil
	}
	return m.Tables[0]
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
