package form

import (
	"strings"

	"katydid-common-form/pkg/form/rule"
)

// ErrorState 字段的校验状态
type ErrorState int

const (
	// NotValidated 从未校验，或已重置
	NotValidated ErrorState = iota
	// Valid 最近一次校验通过
	Valid
	// Invalid 最近一次校验未通过
	Invalid
)

// String 返回状态名
func (s ErrorState) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "not_validated"
	}
}

// FieldError 单个字段的校验结果
// Field 为规则引擎报告的字段名，错误存储按它归档
type FieldError struct {
	Field  string                  `json:"field"`
	Errors []*rule.ValidationError `json:"errors"`
	Rules  []rule.Rule             `json:"-"`
}

// NewFieldError 由引擎错误列表构建字段错误
// errs 为空时返回 nil；Field 取第一条错误报告的字段名，缺省为 name
func NewFieldError(name string, errs []*rule.ValidationError, rules []rule.Rule) *FieldError {
	if len(errs) == 0 {
		return nil
	}
	field := errs[0].Field
	if field == "" {
		field = name
	}
	return &FieldError{
		Field:  field,
		Errors: errs,
		Rules:  rules,
	}
}

// Error 实现 error 接口
func (e *FieldError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation passed: no errors"
	}

	var builder strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(err.String())
	}
	return builder.String()
}

// Messages 返回所有错误消息
func (e *FieldError) Messages() []string {
	if e == nil {
		return nil
	}
	messages := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		if err.Message != "" {
			messages = append(messages, err.Message)
		} else {
			messages = append(messages, err.String())
		}
	}
	return messages
}

// errorEntry 错误存储的条目
// 条目不存在表示 NotValidated，err 为 nil 表示 Valid
type errorEntry struct {
	err *FieldError
}

func (e *errorEntry) state() ErrorState {
	if e == nil {
		return NotValidated
	}
	if e.err == nil {
		return Valid
	}
	return Invalid
}
