package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ormbatch/errors"
)

// 表名、列名、schema 名只允许字母数字下划线，首字符不能是数字
var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateIntRange 验证整数范围（闭区间）
func ValidateIntRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能小于%d（当前%d）", fieldName, min, value))
	}
	if value > max {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能大于%d（当前%d）", fieldName, max, value))
	}
	return nil
}

// ValidatePositive 验证正数
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s必须为正数（当前%d）", fieldName, value))
	}
	return nil
}

// ValidatePercent 验证百分比位于 [0, 100]
func ValidatePercent(value float64, fieldName string) error {
	if value < 0 || value > 100 || value != value {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s必须位于 0 到 100 之间（当前%v）", fieldName, value))
	}
	return nil
}

// ValidateNonNegativeDuration 验证时长不为负
func ValidateNonNegativeDuration(value time.Duration, fieldName string) error {
	if value < 0 {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为负（当前%s）", fieldName, value))
	}
	return nil
}

// ValidateIdentifier 验证 SQL 标识符（表、列、schema）
func ValidateIdentifier(value, fieldName string) error {
	if !identifierRegex.MatchString(value) {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不是合法的标识符: %q", fieldName, value))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}

// First 返回第一个非 nil 错误，便于串联多个校验
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
