package form

import (
	"context"

	"katydid-common-form/pkg/form/rule"
)

// ValidateFunc 字段校验函数
// 返回 nil 表示校验通过；返回 error 表示引擎故障（不是校验未通过）
type ValidateFunc func(ctx context.Context, value any) (*FieldError, error)

// SignOut 注销句柄，由 SignInField 返回，可重复调用
type SignOut func()

// Change 字段变化通知
type Change struct {
	// Name 字段名
	Name string
	// Value 当前值
	Value any
	// Error 当前错误，nil 表示无错误
	Error *FieldError
	// State 错误状态
	State ErrorState
	// Touched 是否被修改过
	Touched bool
	// Version 存储的变更版本号
	Version uint64
}

// Field 字段描述
//
// Name 为空的字段是匿名字段：可以注册，但不参与任何批量操作。
// Validate 为空时使用存储的规则引擎按 Rules 校验。
type Field struct {
	// Name 字段名，存储内唯一
	Name string
	// Rules 有序的校验规则
	Rules []rule.Rule
	// ValidateFirst 遇到第一条未通过的规则即停止
	ValidateFirst bool
	// Touched 自上次重置以来是否收到过值变化
	Touched bool
	// OnStoreChange 字段值或错误变化时回调，供渲染层刷新
	OnStoreChange func(Change)
	// Validate 自定义校验函数
	Validate ValidateFunc
}

// fieldEntity 注册表中的字段条目
// 所有可变状态由 Store.mu 保护
type fieldEntity struct {
	desc Field
	// gen 校验代数，每发起一轮校验递增
	gen uint64
}

func newFieldEntity(desc *Field) *fieldEntity {
	e := &fieldEntity{desc: *desc}
	e.desc.Rules = append([]rule.Rule(nil), desc.Rules...)
	return e
}

// snapshot 返回字段描述副本
func (e *fieldEntity) snapshot() Field {
	f := e.desc
	f.Rules = append([]rule.Rule(nil), e.desc.Rules...)
	return f
}

// applicable 是否需要执行规则校验：具名且规则非空
func (f *Field) applicable() bool {
	return f.Name != "" && len(f.Rules) > 0
}
