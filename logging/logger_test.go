package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFieldConstructors 测试字段构造函数
func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		key   string
		value any
	}{
		{"String字段", String("table", "Blogs"), "table", "Blogs"},
		{"Int字段", Int("rows", 3), "rows", 3},
		{"Int64字段", Int64("affected", 7), "affected", int64(7)},
		{"Uint64字段", Uint64("hash", 42), "hash", uint64(42)},
		{"Float64字段", Float64("percent", 12.5), "percent", 12.5},
		{"Bool字段", Bool("fallback", true), "fallback", true},
		{"Duration字段", Duration("elapsed", time.Second), "elapsed", time.Second},
		{"Component字段", Component("batch"), "component", "batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.field.Key)
			assert.Equal(t, tt.value, tt.field.Value)
		})
	}

	errField := Error(errors.New("boom"))
	assert.Equal(t, "error", errField.Key)
}

// TestFormatValue 测试字段值格式化
func TestFormatValue(t *testing.T) {
	assert.Equal(t, "abc", formatValue("abc"))
	assert.Equal(t, "boom", formatValue(errors.New("boom")))
	assert.Equal(t, "1.5s", formatValue(1500*time.Millisecond))
	assert.Equal(t, "42", formatValue(42))
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

// TestStdLogger_Output 测试各级别输出格式
func TestStdLogger_Output(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger("test").WithOutput(&buf)
	ctx := context.Background()

	logger.Debug(ctx, "debug message", String("key", "value"))
	logger.Info(ctx, "info message", Int("count", 123))
	logger.Warn(ctx, "warn message", Bool("critical", true))
	logger.Error(ctx, "error message", Error(errors.New("test error")))

	out := buf.String()
	for _, want := range []string{
		"[DEBUG] test debug message key=value",
		"[INFO] test info message count=123",
		"[WARN] test warn message critical=true",
		"[ERROR] test error message error=test error",
	} {
		assert.Contains(t, out, want)
	}
}

// TestStdLogger_LevelFilter 测试低于最低级别的日志被丢弃
func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger("").WithOutput(&buf).WithLevel(WarnLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden-debug")
	logger.Info(ctx, "hidden-info")
	logger.Warn(ctx, "shown-warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden-debug")
	assert.NotContains(t, out, "hidden-info")
	assert.Contains(t, out, "shown-warn")
	assert.Equal(t, WarnLevel, logger.Level())
}

// TestStdLogger_WithFields 测试WithFields继承级别与输出且不改变原Logger
func TestStdLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLogger("test").WithOutput(&buf).WithLevel(InfoLevel)

	child := base.WithFields(String("module", "batch"), String("op", "delete"))
	child.Debug(context.Background(), "dropped")
	child.Info(context.Background(), "kept", String("table", "Blogs"))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "module=batch op=delete table=Blogs")
	assert.Empty(t, base.fields)
	assert.Len(t, child.(*StdLogger).fields, 2)
}

// TestStdLogger_EmptyPrefix 测试空前缀不产生多余空格
func TestStdLogger_EmptyPrefix(t *testing.T) {
	var buf bytes.Buffer
	NewStdLogger("").WithOutput(&buf).Info(context.Background(), "msg")
	assert.True(t, strings.Contains(buf.String(), "[INFO] msg"))
}

// TestNoopLogger 测试NoopLogger
func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	ctx := context.Background()

	logger.Debug(ctx, "test")
	logger.Info(ctx, "test")
	logger.Warn(ctx, "test")
	logger.Error(ctx, "test")

	assert.Same(t, logger, logger.WithFields(String("key", "value")))
}

// TestGlobalLogger 测试全局Logger
func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	noop := NewNoopLogger()
	SetLogger(noop)
	assert.Same(t, noop, GetLogger())

	SetLogger(nil)
	_, ok := GetLogger().(*NoopLogger)
	assert.True(t, ok, "nil 应替换为 NoopLogger")
}

func BenchmarkStdLogger_Info(b *testing.B) {
	var buf bytes.Buffer
	logger := NewStdLogger("bench").WithOutput(&buf)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info(ctx, "benchmark", Int("i", i))
	}
}
