package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestWrapError 测试包装后的错误链
func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")

	wrapped := WrapError(originalErr, ErrCodeConfiguration, "读取配置")

	if !errors.Is(wrapped, originalErr) {
		t.Error("包装后的错误应能通过 errors.Is 找到原始错误")
	}
	if GetErrorCode(wrapped) != ErrCodeConfiguration {
		t.Errorf("错误码不符: %s", GetErrorCode(wrapped))
	}
	if GetErrorCode(originalErr) != ErrCodeInternal {
		t.Errorf("普通错误应归为 INTERNAL_ERROR: %s", GetErrorCode(originalErr))
	}
}

// TestNewError_DifferentErrorCodes 测试不同错误码
func TestNewError_DifferentErrorCodes(t *testing.T) {
	tests := []struct {
		name  string
		code  ErrorCode
		check func(error) bool
	}{
		{"无可用提供者", ErrCodeNoCapableProvider, IsNoCapableProvider},
		{"不支持的映射", ErrCodeUnsupportedMapping, IsUnsupportedMapping},
		{"SQL 解析失败", ErrCodeMalformedSQL, IsMalformedSQL},
		{"配置错误", ErrCodeConfiguration, IsConfiguration},
		{"验证错误", ErrCodeValidation, IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.code, tt.name)
			if !tt.check(err) {
				t.Errorf("错误码判断失败: %s", GetErrorCode(err))
			}
			if !strings.Contains(err.Error(), tt.name) {
				t.Errorf("错误消息应包含描述: %s", err.Error())
			}
		})
	}
}

// TestNoCapableProvider 测试无可用提供者错误携带上下文
func TestNoCapableProvider(t *testing.T) {
	err := NoCapableProvider("Delete", "*sql.DB")

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("应为 *AppError")
	}
	if appErr.Details()["operation"] != "Delete" {
		t.Errorf("operation 详情不符: %v", appErr.Details()["operation"])
	}
	if !errors.Is(err, ErrNoCapableProvider) {
		t.Error("应与预定义错误按错误码相等")
	}
}

// TestMalformedSQL 测试 SQL 解析失败错误保留原 SQL
func TestMalformedSQL(t *testing.T) {
	err := MalformedSQL("FROM 子句不匹配", "SELECT 1")

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("应为 *AppError")
	}
	if appErr.Details()["sql"] != "SELECT 1" {
		t.Errorf("sql 详情不符: %v", appErr.Details()["sql"])
	}
}

// TestWithContext_DoesNotMutate 测试 WithContext 不修改原错误
func TestWithContext_DoesNotMutate(t *testing.T) {
	base := NewError(ErrCodeInternal, "基础错误")
	derived := base.WithContext("k", "v")

	if _, ok := base.Details()["k"]; ok {
		t.Error("原错误的详情不应被修改")
	}
	if derived.Details()["k"] != "v" {
		t.Error("新错误应包含上下文")
	}
}
