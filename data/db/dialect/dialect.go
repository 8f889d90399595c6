package dialect

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	core "ormbatch/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameSQLite    Name = "sqlite"
	NamePostgres  Name = "postgres"
	NameSQLServer Name = "sqlserver"
	NameUnknown   Name = ""
)

// Dialect 表示当前数据库的方言能力
//
// 抽象批量层实际用到的能力：
//   - 标识符引用与默认 schema
//   - 占位符改写（?、$n、@pN）
//   - 常量字面量、字符串拼接运算符
//   - Go 类型到列类型的映射（临时表建表）
//   - 唯一键冲突识别
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	case "sqlserver", "mssql":
		return Dialect{name: NameSQLServer}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// DefaultSchema 未显式指定 schema 时使用的默认值
func (d Dialect) DefaultSchema() string {
	switch d.name {
	case NameSQLServer:
		return "dbo"
	case NameSQLite:
		return "main"
	case NamePostgres:
		return "public"
	default:
		return ""
	}
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 约定：
//   - 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
//   - SQL Server 使用 [name]，Postgres/SQLite 使用双引号 "name"；
//   - Unknown 方言返回原始字符串，不做修改；
//   - 不负责校验标识符语法。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = d.quotePart(p)
	}
	return strings.Join(parts, ".")
}

func (d Dialect) quotePart(p string) string {
	switch d.name {
	case NameSQLServer:
		return "[" + p + "]"
	case NameSQLite, NamePostgres:
		return `"` + p + `"`
	default:
		return p
	}
}

// QuoteTable 生成 schema 限定的表名，schema 为空时使用默认 schema
func (d Dialect) QuoteTable(schema, table string) string {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	if schema == "" {
		return d.quotePart(table)
	}
	return d.quotePart(schema) + "." + d.quotePart(table)
}

// Quotes 返回方言的标识符起止引号字符
func (d Dialect) Quotes() (open, close string) {
	switch d.name {
	case NameSQLServer:
		return "[", "]"
	case NameSQLite, NamePostgres:
		return `"`, `"`
	default:
		return "", ""
	}
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// Postgres 改写为 $1、$2...，SQL Server 改写为 @p1、@p2...，其他方言保持原样。
// 单引号字符串、双引号与方括号标识符内的 ? 不会被改写。
func (d Dialect) Rebind(query string) string {
	if query == "" {
		return query
	}
	var prefix string
	switch d.name {
	case NamePostgres:
		prefix = "$"
	case NameSQLServer:
		prefix = "@p"
	default:
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	last := 0
	ScanPlaceholders(query, func(pos int) {
		sb.WriteString(query[last:pos])
		sb.WriteString(prefix)
		sb.WriteString(strconv.Itoa(argIndex))
		argIndex++
		last = pos + 1
	})
	sb.WriteString(query[last:])
	return sb.String()
}

// ScanPlaceholders 对字面量与引用标识符之外的每个 ? 回调其字节位置
func ScanPlaceholders(query string, fn func(pos int)) {
	var closer byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if closer != 0 {
			if ch == closer {
				// '' 与 "" 为转义，不结束引用
				if (closer == '\'' || closer == '"') && i+1 < len(query) && query[i+1] == closer {
					i++
					continue
				}
				closer = 0
			}
			continue
		}
		switch ch {
		case '\'':
			closer = '\''
		case '"':
			closer = '"'
		case '[':
			closer = ']'
		case '?':
			fn(i)
		}
	}
}

// CountPlaceholders 统计字面量之外的 ? 占位符数量
func CountPlaceholders(query string) int {
	n := 0
	ScanPlaceholders(query, func(int) { n++ })
	return n
}

// ConcatOperator 字符串拼接运算符
func (d Dialect) ConcatOperator() string {
	if d.name == NameSQLServer {
		return "+"
	}
	return "||"
}

// Literal 将常量渲染为 SQL 字面量。
// 浮点数按不依赖区域设置的格式输出；不支持的类型返回错误。
func (d Dialect) Literal(v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return "NULL", nil
	}
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return "", err
		}
		if _, again := inner.(driver.Valuer); !again {
			return d.Literal(inner)
		}
	}

	switch val := v.(type) {
	case string:
		s := "'" + strings.ReplaceAll(val, "'", "''") + "'"
		if d.name == NameSQLServer {
			s = "N" + s
		}
		return s, nil
	case bool:
		if d.name == NamePostgres {
			if val {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		if val {
			return "1", nil
		}
		return "0", nil
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02 15:04:05.999999") + "'", nil
	case float32:
		return formatFloat(float64(val), 32)
	case float64:
		return formatFloat(val, 64)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.String:
		return d.Literal(rv.String())
	case reflect.Bool:
		return d.Literal(rv.Bool())
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits())
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL", nil
		}
		return d.Literal(rv.Elem().Interface())
	}
	return "", fmt.Errorf("dialect: cannot render %T as literal", v)
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("dialect: non-finite float %v", f)
	}
	return strconv.FormatFloat(f, 'f', -1, bits), nil
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	bytesType      = reflect.TypeOf([]byte(nil))
	nullStringType = reflect.TypeOf(sql.NullString{})
	nullInt64Type  = reflect.TypeOf(sql.NullInt64{})
	nullInt32Type  = reflect.TypeOf(sql.NullInt32{})
	nullInt16Type  = reflect.TypeOf(sql.NullInt16{})
	nullBoolType   = reflect.TypeOf(sql.NullBool{})
	nullFloatType  = reflect.TypeOf(sql.NullFloat64{})
	nullTimeType   = reflect.TypeOf(sql.NullTime{})
)

// ColumnType 根据 Go 类型推导列类型。
//
// 返回 dataType（不含长度，如 nvarchar）与 dataTypeFull（含长度/精度，如 nvarchar(200)）。
// size 为 0 时字符串按不限长处理；precision 大于 0 时数值按 decimal 处理。
func (d Dialect) ColumnType(t reflect.Type, size, precision, scale int) (dataType, dataTypeFull string) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	kind := classify(t)
	if precision > 0 && (kind == kindFloat || kind == kindInt || kind == kindString) {
		kind = kindDecimal
	}

	switch d.name {
	case NameSQLServer:
		return sqlServerType(kind, size, precision, scale)
	case NamePostgres:
		return postgresType(kind, size, precision, scale)
	default:
		return sqliteType(kind)
	}
}

type typeKind int

const (
	kindUnknown typeKind = iota
	kindBool
	kindSmallInt
	kindInt32
	kindInt
	kindFloat32
	kindFloat
	kindDecimal
	kindString
	kindTime
	kindBytes
	kindUUID
)

func classify(t reflect.Type) typeKind {
	if t == nil {
		return kindUnknown
	}
	switch t {
	case timeType, nullTimeType:
		return kindTime
	case bytesType:
		return kindBytes
	case nullStringType:
		return kindString
	case nullInt64Type:
		return kindInt
	case nullInt32Type:
		return kindInt32
	case nullInt16Type:
		return kindSmallInt
	case nullBoolType:
		return kindBool
	case nullFloatType:
		return kindFloat
	}
	if t.Kind() == reflect.Array && t.Len() == 16 && t.Elem().Kind() == reflect.Uint8 {
		return kindUUID
	}
	switch t.Kind() {
	case reflect.Bool:
		return kindBool
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return kindSmallInt
	case reflect.Int32, reflect.Uint16:
		return kindInt32
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return kindInt
	case reflect.Float32:
		return kindFloat32
	case reflect.Float64:
		return kindFloat
	case reflect.String:
		return kindString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return kindBytes
		}
	}
	return kindUnknown
}

func sqlServerType(k typeKind, size, precision, scale int) (string, string) {
	switch k {
	case kindBool:
		return "bit", "bit"
	case kindSmallInt:
		return "smallint", "smallint"
	case kindInt32:
		return "int", "int"
	case kindInt:
		return "bigint", "bigint"
	case kindFloat32:
		return "real", "real"
	case kindFloat:
		return "float", "float"
	case kindDecimal:
		return "decimal", fmt.Sprintf("decimal(%d,%d)", precision, scale)
	case kindTime:
		return "datetime2", "datetime2"
	case kindBytes:
		return "varbinary", "varbinary(max)"
	case kindUUID:
		return "uniqueidentifier", "uniqueidentifier"
	default:
		if size > 0 && size <= 4000 {
			return "nvarchar", fmt.Sprintf("nvarchar(%d)", size)
		}
		return "nvarchar", "nvarchar(max)"
	}
}

func postgresType(k typeKind, size, precision, scale int) (string, string) {
	switch k {
	case kindBool:
		return "boolean", "boolean"
	case kindSmallInt:
		return "smallint", "smallint"
	case kindInt32:
		return "integer", "integer"
	case kindInt:
		return "bigint", "bigint"
	case kindFloat32:
		return "real", "real"
	case kindFloat:
		return "double precision", "double precision"
	case kindDecimal:
		return "numeric", fmt.Sprintf("numeric(%d,%d)", precision, scale)
	case kindTime:
		return "timestamp", "timestamp"
	case kindBytes:
		return "bytea", "bytea"
	case kindUUID:
		return "uuid", "uuid"
	default:
		if size > 0 {
			return "varchar", fmt.Sprintf("varchar(%d)", size)
		}
		return "text", "text"
	}
}

func sqliteType(k typeKind) (string, string) {
	switch k {
	case kindBool, kindSmallInt, kindInt32, kindInt:
		return "INTEGER", "INTEGER"
	case kindFloat32, kindFloat:
		return "REAL", "REAL"
	case kindDecimal:
		return "NUMERIC", "NUMERIC"
	case kindBytes, kindUUID:
		return "BLOB", "BLOB"
	case kindTime:
		return "DATETIME", "DATETIME"
	default:
		return "TEXT", "TEXT"
	}
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// 使用错误消息的关键字匹配：
//   - SQLite: "UNIQUE constraint failed"
//   - Postgres: "duplicate key value" (23505)
//   - SQL Server: "Violation of PRIMARY KEY constraint" / "Cannot insert duplicate key" (2627, 2601)
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	case NamePostgres:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	case NameSQLServer:
		return strings.Contains(msg, "violation of primary key") ||
			strings.Contains(msg, "violation of unique key") ||
			strings.Contains(msg, "cannot insert duplicate key")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
