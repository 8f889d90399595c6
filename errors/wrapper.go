package errors

import "fmt"

// NoCapableProvider 构造"无可用提供者"错误，op 为操作名，conn 描述连接类型
func NoCapableProvider(op, conn string) error {
	return NewError(ErrCodeNoCapableProvider,
		fmt.Sprintf("没有支持 %s 操作的提供者 (连接: %s)", op, conn)).
		WithContext("operation", op).
		WithContext("connection", conn)
}

// UnsupportedMapping 构造不支持的映射形态错误
func UnsupportedMapping(format string, args ...any) error {
	return Errorf(ErrCodeUnsupportedMapping, format, args...)
}

// MalformedSQL 构造生成 SQL 解析失败错误，sql 作为详情保留以便排查
func MalformedSQL(reason, sql string) error {
	return NewError(ErrCodeMalformedSQL, reason).WithContext("sql", sql)
}

// Configuration 构造配置错误
func Configuration(format string, args ...any) error {
	return Errorf(ErrCodeConfiguration, format, args...)
}
