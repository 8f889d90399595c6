package orm

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

var (
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})

	fieldCache sync.Map // reflect.Type -> []FieldMeta
)

// ParseFieldTag 解析单个结构体字段的列映射。
//
// 优先级：gorm 标签（column/primaryKey/autoIncrement/->/type/size/precision/scale/
// default/unique/not null/table），然后 db 标签，最后 json 标签；都没有时列名取字段名的
// snake_case。名为 ID 的字段按约定视为主键。返回 skip=true 表示字段被标记为忽略（"-"）。
func ParseFieldTag(f reflect.StructField) (meta FieldMeta, skip bool) {
	pkTagged := false
	meta = FieldMeta{
		Name:     f.Name,
		Type:     f.Type,
		Nullable: isNullable(f.Type),
		Tags:     map[string]string{},
	}

	if gormTag, ok := f.Tag.Lookup("gorm"); ok {
		meta.Tags["gorm"] = gormTag
		if strings.TrimSpace(gormTag) == "-" {
			return meta, true
		}
		for _, part := range strings.Split(gormTag, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, val, _ := strings.Cut(part, ":")
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "column":
				meta.Column = strings.TrimSpace(val)
			case "primarykey", "primary_key":
				pkTagged = true
				meta.PrimaryKey = val == "" || strings.EqualFold(val, "true")
			case "autoincrement":
				meta.AutoIncrement = val == "" || strings.EqualFold(val, "true")
			case "->":
				// 只读：gorm 的 "->" 与 "->;<-:false" 都视为计算列
				meta.Computed = true
			case "<-":
				if strings.EqualFold(val, "false") {
					meta.Computed = true
				}
			case "type":
				meta.DBType = strings.TrimSpace(val)
			case "size":
				meta.Size, _ = strconv.Atoi(val)
			case "precision":
				meta.Precision, _ = strconv.Atoi(val)
			case "scale":
				meta.Scale, _ = strconv.Atoi(val)
			case "default":
				meta.DefaultValue = val
			case "unique":
				meta.Unique = true
			case "not null":
				meta.Nullable = false
			case "table":
				meta.Table = strings.TrimSpace(val)
			}
		}
	}

	if meta.Column == "" {
		if dbTag := f.Tag.Get("db"); dbTag != "" {
			if dbTag == "-" {
				return meta, true
			}
			meta.Column = strings.Split(dbTag, ",")[0]
		} else if jsonTag := f.Tag.Get("json"); jsonTag != "" && jsonTag != "-" {
			meta.Column = strings.Split(jsonTag, ",")[0]
		}
	}
	if meta.Column == "" {
		meta.Column = ToSnakeCase(f.Name)
	}

	if !pkTagged && strings.EqualFold(f.Name, "ID") {
		meta.PrimaryKey = true
	}
	return meta, false
}

// ReflectFields 按标签反射出结构体的全部列（结果按类型缓存）。
//
// 内嵌结构体展开到当前层级（被外层同名字段遮蔽的字段不出现）；
// 非内嵌的复杂类型属性以点分路径展开，列名加上 "<属性>_" 前缀，
// 也可以用 gorm 的 embeddedPrefix 指定前缀。
func ReflectFields(t reflect.Type) ([]FieldMeta, error) {
	t = indirectType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("orm: cannot map %v, want struct", t)
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]FieldMeta), nil
	}

	var fields []FieldMeta
	collectFields(t, "", "", nil, nil, &fields)
	if len(fields) == 0 {
		return nil, fmt.Errorf("orm: %s has no mappable fields", t)
	}

	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]FieldMeta), nil
}

func collectFields(cur reflect.Type, namePrefix, colPrefix string, indexPrefix []int, declaring reflect.Type, out *[]FieldMeta) {
	for _, f := range reflect.VisibleFields(cur) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		owner, ok := ownerOf(cur, f.Index)
		if !ok {
			// 经由指针内嵌提升的字段不映射
			continue
		}
		if declaring != nil {
			owner = declaring
		}

		meta, skip := ParseFieldTag(f)
		if skip {
			continue
		}
		index := append(append([]int(nil), indexPrefix...), f.Index...)

		if IsScalarType(f.Type) {
			meta.Name = namePrefix + f.Name
			meta.Column = colPrefix + meta.Column
			meta.Index = index
			meta.DeclaringType = owner
			if namePrefix != "" {
				// 复杂类型内的字段不参与主键约定
				meta.PrimaryKey = meta.PrimaryKey && !strings.EqualFold(f.Name, "ID")
			}
			*out = append(*out, meta)
			continue
		}

		if f.Type.Kind() == reflect.Struct {
			prefix := embeddedPrefix(f)
			collectFields(f.Type, namePrefix+f.Name+".", colPrefix+prefix, index, owner, out)
		}
	}
}

// ownerOf 沿索引路径找到直接声明字段的结构体类型，路径经过指针时返回 false
func ownerOf(t reflect.Type, index []int) (reflect.Type, bool) {
	cur := t
	for _, i := range index[:len(index)-1] {
		ft := cur.Field(i).Type
		if ft.Kind() != reflect.Struct {
			return nil, false
		}
		cur = ft
	}
	return cur, true
}

func embeddedPrefix(f reflect.StructField) string {
	for _, part := range strings.Split(f.Tag.Get("gorm"), ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), ":")
		if ok && strings.EqualFold(key, "embeddedPrefix") {
			return val
		}
	}
	return ToSnakeCase(f.Name) + "_"
}

// IsScalarType 判断类型能否作为单列读写
func IsScalarType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType || t.Implements(valuerType) || reflect.PointerTo(t).Implements(scannerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Array, reflect.Slice:
		// uuid.UUID、[]byte
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

func isNullable(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		return true
	}
	return strings.HasPrefix(t.Name(), "Null") && t.PkgPath() == "database/sql"
}

// ToSnakeCase 把 Go 标识符转为 snake_case，连续大写视为一个词（UserID -> user_id）。
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
