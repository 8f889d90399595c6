package sql

import (
	"fmt"
	"strings"
)

// isSafeIdentifier 判断标识符是否为"安全的数据库标识符"。
//
// 允许形式：
//   - 单一标识符：foo, bar_1
//   - 带点的限定名：schema.table, table.column
//
// 规则（按段）：
//   - 每段不能为空；
//   - 首字符必须是字母或下划线 [A-Za-z_]；
//   - 后续字符必须是字母、数字或下划线 [A-Za-z0-9_]。
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !isSafePart(part) {
			return false
		}
	}
	return true
}

func isSafePart(part string) bool {
	if part == "" {
		return false
	}
	for i := 0; i < len(part); i++ {
		ch := part[i]
		letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
		if i == 0 && !letter {
			return false
		}
		if !letter && !(ch >= '0' && ch <= '9') {
			return false
		}
	}
	return true
}

// IsSafeIdentifier 导出给批量层，用于校验从生成 SQL 中提取的 schema/表/列名。
func IsSafeIdentifier(name string) bool {
	return isSafeIdentifier(name)
}

func unsafeIdentifier(kind, name string) error {
	return fmt.Errorf("unsafe %s name %q", kind, name)
}
