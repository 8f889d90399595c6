package validation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ormbatch/errors"
)

// TestValidateRequired 测试必填验证
func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("sqlite", "driver"))
	assert.Error(t, ValidateRequired("   ", "driver"))
	assert.Error(t, ValidateRequired("", "driver"))
}

// TestValidateIntRange 测试整数范围验证
func TestValidateIntRange(t *testing.T) {
	assert.NoError(t, ValidateIntRange(1, "batch", 1, 10))
	assert.NoError(t, ValidateIntRange(10, "batch", 1, 10))
	assert.Error(t, ValidateIntRange(0, "batch", 1, 10))
	assert.Error(t, ValidateIntRange(11, "batch", 1, 10))
}

// TestValidatePositive 测试正数验证
func TestValidatePositive(t *testing.T) {
	assert.NoError(t, ValidatePositive(15000, "batch_size"))
	assert.Error(t, ValidatePositive(0, "batch_size"))
	assert.Error(t, ValidatePositive(-1, "batch_size"))
}

// TestValidatePercent 测试百分比验证
func TestValidatePercent(t *testing.T) {
	for _, v := range []float64{0, 12.5, 50, 100} {
		assert.NoError(t, ValidatePercent(v, "percent"), v)
	}
	for _, v := range []float64{-0.1, 100.01, math.NaN()} {
		assert.Error(t, ValidatePercent(v, "percent"), v)
	}
}

// TestValidateNonNegativeDuration 测试时长验证
func TestValidateNonNegativeDuration(t *testing.T) {
	assert.NoError(t, ValidateNonNegativeDuration(0, "timeout"))
	assert.NoError(t, ValidateNonNegativeDuration(10*time.Minute, "timeout"))
	assert.Error(t, ValidateNonNegativeDuration(-time.Second, "timeout"))
}

// TestValidateIdentifier 测试标识符验证
func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"Blogs", "_tmp", "dbo", "Reads2"} {
		assert.NoError(t, ValidateIdentifier(ok, "table"), ok)
	}
	for _, bad := range []string{"", "1abc", "a b", "x;DROP", `"q"`, "a.b"} {
		assert.Error(t, ValidateIdentifier(bad, "table"), bad)
	}
}

// TestValidateEnum 测试枚举验证
func TestValidateEnum(t *testing.T) {
	drivers := []string{"sqlite", "postgres", "sqlserver"}
	assert.NoError(t, ValidateEnum("postgres", "driver", drivers))
	assert.Error(t, ValidateEnum("mysql", "driver", drivers))
}

// TestFirst 测试返回第一个错误
func TestFirst(t *testing.T) {
	assert.NoError(t, First(nil, nil))

	err := First(nil, ValidatePositive(0, "a"), ValidatePositive(0, "b"))
	assert.Contains(t, err.Error(), "a必须为正数")
}

// TestValidationErrorCode 测试错误码
func TestValidationErrorCode(t *testing.T) {
	err := ValidateRequired("", "field")
	assert.True(t, errors.IsValidation(err))
}
