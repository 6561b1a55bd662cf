package form

import (
	"time"

	"go.uber.org/zap"

	"katydid-common-form/pkg/form/event"
	"katydid-common-form/pkg/form/rule"
)

// Option 存储选项
type Option func(*Store)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEngine 设置规则引擎
func WithEngine(engine rule.Engine) Option {
	return func(s *Store) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithBus 设置事件总线，多个存储可共享同一总线
func WithBus(bus *event.Bus) Option {
	return func(s *Store) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithValidationTimeout 设置单个字段校验的超时时间，0 表示不限制
func WithValidationTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.validationTimeout = timeout
		}
	}
}

// setOptions SetFieldValue 的选项
type setOptions struct {
	response     bool
	skipValidate bool
}

// SetOption SetFieldValue 选项
type SetOption func(*setOptions)

// WithResponse 是否校验并触发 OnValueChange，默认 true
// 为 false 时只合并值，用于内部静默记账
func WithResponse(response bool) SetOption {
	return func(o *setOptions) {
		o.response = response
	}
}

// WithSkipValidate 跳过校验，直接清除错误并标记为已修改，默认 false
func WithSkipValidate(skip bool) SetOption {
	return func(o *setOptions) {
		o.skipValidate = skip
	}
}

// Callbacks 表单回调
type Callbacks struct {
	// OnFinish 提交且校验通过，参数为完整的值存储
	OnFinish func(values map[string]any)
	// OnFinishFailed 提交但校验未通过，参数为未通过的字段错误
	OnFinishFailed func(errs map[string]*FieldError)
	// OnValueChange 一批值变化且校验结束后回调一次
	OnValueChange func(changed, values map[string]any)
}
