package rule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Engine 规则引擎接口
// 对单个字段的值按顺序执行规则：
//   - validateFirst 为 true 时遇到第一条未通过的规则即停止
//   - 否则收集全部未通过的规则
//
// 返回空列表表示校验通过；返回 error 表示引擎故障
type Engine interface {
	Validate(ctx context.Context, field string, value any, rules []Rule, validateFirst bool) ([]*ValidationError, error)
}

// EngineFunc 函数适配器
type EngineFunc func(ctx context.Context, field string, value any, rules []Rule, validateFirst bool) ([]*ValidationError, error)

// Validate 实现 Engine 接口
func (f EngineFunc) Validate(ctx context.Context, field string, value any, rules []Rule, validateFirst bool) ([]*ValidationError, error) {
	return f(ctx, field, value, rules, validateFirst)
}

// PlaygroundEngine 基于 go-playground/validator 的规则引擎
type PlaygroundEngine struct {
	validate *validator.Validate
}

var (
	// defaultEngine 默认引擎实例，全局单例
	defaultEngine *PlaygroundEngine
	// once 确保默认引擎只初始化一次
	once sync.Once
)

// Default 获取默认引擎实例（单例）
func Default() *PlaygroundEngine {
	once.Do(func() {
		defaultEngine = New()
	})
	return defaultEngine
}

// New 创建新的引擎实例
// 适用场景：需要注册私有的自定义标签（如单元测试、隔离配置）
func New() *PlaygroundEngine {
	return &PlaygroundEngine{validate: validator.New()}
}

// RegisterValidation 注册自定义验证标签
func (e *PlaygroundEngine) RegisterValidation(tag string, fn validator.Func) error {
	if err := e.validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("%w: register tag %q: %w", ErrRuleEngine, tag, err)
	}
	return nil
}

// Underlying 获取底层的 go-playground/validator 实例
func (e *PlaygroundEngine) Underlying() *validator.Validate {
	return e.validate
}

// Validate 实现 Engine 接口
func (e *PlaygroundEngine) Validate(ctx context.Context, field string, value any, rules []Rule, validateFirst bool) ([]*ValidationError, error) {
	var result []*ValidationError

	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		errs, err := e.validateRule(ctx, field, value, r)
		if err != nil {
			return nil, err
		}
		if len(errs) == 0 {
			continue
		}

		result = append(result, errs...)
		if validateFirst {
			break
		}
	}

	return result, nil
}

// validateRule 执行单条规则
func (e *PlaygroundEngine) validateRule(ctx context.Context, field string, value any, r Rule) ([]*ValidationError, error) {
	if r.Tag != "" {
		errs, err := e.validateTag(ctx, field, value, r)
		if err != nil || len(errs) > 0 {
			return errs, err
		}
	}

	if r.Func == nil {
		return nil, nil
	}

	err := r.Func(ctx, value)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, ErrRuleEngine) {
		return nil, err
	}

	message := r.Message
	if message == "" {
		message = err.Error()
	}
	return []*ValidationError{
		NewValidationError(field, r.Label(), "", value).WithRule(r.Label()).WithMessage(message),
	}, nil
}

// validateTag 使用内置规则验证
// validator 对未定义的标签会 panic，这里统一转换为引擎故障
func (e *PlaygroundEngine) validateTag(ctx context.Context, field string, value any, r Rule) (errs []*ValidationError, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			errs = nil
			err = fmt.Errorf("%w: tag %q: %v", ErrRuleEngine, r.Tag, rec)
		}
	}()

	verr := e.validate.VarCtx(ctx, value, r.Tag)
	if verr == nil {
		return nil, nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(verr, &validationErrors) {
		return nil, fmt.Errorf("%w: %w", ErrRuleEngine, verr)
	}

	// 适配器：将底层验证器的错误转换为内部错误类型
	errs = make([]*ValidationError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		ve := NewValidationError(field, fe.Tag(), fe.Param(), fe.Value()).WithRule(r.Label())
		if r.Message != "" {
			ve.Message = r.Message
		}
		errs = append(errs, ve)
	}
	return errs, nil
}
