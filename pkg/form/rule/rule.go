package rule

import (
	"context"
	"errors"
	"fmt"
)

// ErrRuleEngine 规则引擎内部故障
// 与“校验未通过”不同：校验未通过是数据，引擎故障才是 error
var ErrRuleEngine = errors.New("rule engine failure")

// CheckFunc 自定义规则检查函数
// 返回非 nil error 表示该规则未通过，error 文本作为错误消息；
// 若需要报告引擎故障（而非校验未通过），返回 Fault(err)
type CheckFunc func(ctx context.Context, value any) error

// Rule 单条校验规则描述
//
// Tag 使用 go-playground/validator 的标签语法（如 "required,min=3"），
// Func 为自定义检查，两者可同时设置，先执行 Tag 再执行 Func。
//
// 示例：
//
//	rules := []rule.Rule{
//	    {Tag: "required", Message: "用户名不能为空"},
//	    {Tag: "min=3,max=20"},
//	    {Name: "unique", Func: checkUnique},
//	}
type Rule struct {
	// Name 规则名，可选，用于错误定位；为空时使用 Tag
	Name string `json:"name,omitempty" mapstructure:"name"`
	// Tag 验证标签（validator 语法）
	Tag string `json:"tag,omitempty" mapstructure:"tag"`
	// Message 自定义错误消息，为空时使用默认消息
	Message string `json:"message,omitempty" mapstructure:"message"`
	// Func 自定义检查函数
	Func CheckFunc `json:"-" mapstructure:"-"`
}

// Label 返回规则的展示名
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Tag != "" {
		return r.Tag
	}
	return "custom"
}

// Fault 将 err 包装为引擎故障
func Fault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRuleEngine) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRuleEngine, err)
}

// ValidationError 单条规则的校验错误
// 国际化时，可以通过 Field + Tag 和 Param 查找对应的翻译
type ValidationError struct {
	// Field 引擎报告的字段名
	Field string `json:"field"`
	// Rule 产生该错误的规则名
	Rule string `json:"rule,omitempty"`
	// Tag 验证标签（如 required, email, min 等）
	Tag string `json:"tag,omitempty"`
	// Param 验证参数（如 min=3 中的 "3"）
	Param string `json:"param,omitempty"`
	// Value 字段的实际值
	Value any `json:"value,omitempty"`
	// Message 友好的错误消息
	Message string `json:"message"`
}

// NewValidationError 创建校验错误
func NewValidationError(field, tag, param string, value any) *ValidationError {
	return &ValidationError{
		Field: field,
		Tag:   tag,
		Param: param,
		Value: value,
	}
}

// WithMessage 设置错误消息
func (e *ValidationError) WithMessage(message string) *ValidationError {
	e.Message = message
	return e
}

// WithRule 设置规则名
func (e *ValidationError) WithRule(rule string) *ValidationError {
	e.Rule = rule
	return e
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	return e.String()
}

// String 返回友好的错误信息
func (e *ValidationError) String() string {
	if e.Message != "" {
		return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
	}
	if e.Param != "" {
		return fmt.Sprintf("field '%s' validation failed on tag '%s' with param '%s'", e.Field, e.Tag, e.Param)
	}
	return fmt.Sprintf("field '%s' validation failed on tag '%s'", e.Field, e.Tag)
}
