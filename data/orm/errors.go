package orm

import "errors"

var (
	// ErrNotFound 表示记录未找到。
	ErrNotFound = errors.New("orm: record not found")
	// ErrUnsupported 表示当前适配器不支持请求的能力。
	ErrUnsupported = errors.New("orm: capability unsupported")
	// ErrUnsupportedExpression 表示谓词/选择器无法翻译为 SQL（例如包含 Go 函数调用）。
	ErrUnsupportedExpression = errors.New("orm: expression cannot be translated to SQL")
)
