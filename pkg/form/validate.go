package form

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"katydid-common-form/pkg/form/event"
)

// validationResult 单个字段一轮校验的结果
type validationResult struct {
	// key 错误归档的字段名（引擎报告的字段名）
	key string
	err *FieldError
}

// ValidateField 校验单个字段并返回其错误
// 字段未注册时返回 nil, nil
func (s *Store) ValidateField(ctx context.Context, name string) (*FieldError, error) {
	s.mu.RLock()
	e, ok := s.index[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	res, err := s.validateEntity(ctx, e, false, event.TopicErrorChange)
	if err != nil {
		return nil, err
	}
	return res.err, nil
}

// ValidateFields 并发校验所选字段，不传字段名表示所有字段
//
// 错误按规则引擎报告的字段名归档，预期与查询的字段名一致；
// 返回的 map 同样按该字段名索引，值为 nil 表示校验通过。
func (s *Store) ValidateFields(ctx context.Context, names ...string) (map[string]*FieldError, error) {
	return s.validateEntities(ctx, s.resolveEntities(names), false, event.TopicErrorChange)
}

// validateEntities 扇出校验，全部结束后汇总
// 单个字段的引擎故障不会中断其它字段
func (s *Store) validateEntities(ctx context.Context, entities []*fieldEntity, touch bool, topic event.Topic) (map[string]*FieldError, error) {
	var (
		mu      sync.Mutex
		errs    error
		results = make(map[string]*FieldError, len(entities))
	)

	wg := conc.NewWaitGroup()
	for _, e := range entities {
		e := e
		wg.Go(func() {
			res, err := s.validateEntity(ctx, e, touch, topic)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return
			}
			if prev, ok := results[res.key]; ok && prev != nil && res.err == nil {
				return
			}
			results[res.key] = res.err
		})
	}
	wg.Wait()

	return results, errs
}

// validateEntity 执行一轮单字段校验并写入错误存储
//
// 每轮校验取得新的代数；结果返回时若代数已被更新的校验取代，
// 或字段已注销，结果只返回给调用方而不写入存储。
func (s *Store) validateEntity(ctx context.Context, e *fieldEntity, touch bool, topic event.Topic) (validationResult, error) {
	s.mu.Lock()
	name := e.desc.Name
	if s.index[name] != e {
		s.mu.Unlock()
		return validationResult{key: name}, nil
	}
	e.gen++
	gen := e.gen
	desc := e.snapshot()
	value := s.values[name]
	s.mu.Unlock()

	fe, err := s.runValidate(ctx, &desc, value)
	if err != nil {
		s.logger.Error("field validation failed", zap.String("field", name), zap.Error(err))
		return validationResult{key: name}, err
	}

	res := validationResult{key: name, err: fe}
	if fe != nil && fe.Field != "" {
		res.key = fe.Field
	}

	s.mu.Lock()
	if s.index[name] != e || e.gen != gen {
		s.mu.Unlock()
		s.logger.Debug("stale validation dropped",
			zap.String("field", name),
			zap.Uint64("generation", gen),
		)
		return res, nil
	}

	s.errors[res.key] = &errorEntry{err: fe}
	if touch {
		e.desc.Touched = true
	}
	version := s.bump()
	change := s.changeLocked(e, version)
	s.mu.Unlock()

	s.notify(e, topic, change)
	return res, nil
}

// runValidate 调用字段的校验函数
// 未设置 Validate 时按规则校验；无名或无规则的字段直接通过
func (s *Store) runValidate(ctx context.Context, desc *Field, value any) (*FieldError, error) {
	if s.validationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.validationTimeout)
		defer cancel()
	}

	if desc.Validate != nil {
		return desc.Validate(ctx, value)
	}

	if !desc.applicable() {
		return nil, nil
	}

	errs, err := s.engine.Validate(ctx, desc.Name, value, desc.Rules, desc.ValidateFirst)
	if err != nil {
		return nil, fmt.Errorf("validate field %q: %w", desc.Name, err)
	}
	return NewFieldError(desc.Name, errs, desc.Rules), nil
}

// Submit 提交表单
//
//   - skipValidate 为 true：直接以完整的值存储调用 OnFinish
//   - 否则校验所有字段：存在错误时以未通过的字段错误调用 OnFinishFailed，否则调用 OnFinish
//
// 校验结果以回调报告，不作为 error 返回；只有引擎故障会返回 error，此时两个回调都不会被调用。
func (s *Store) Submit(ctx context.Context, skipValidate bool) error {
	if skipValidate {
		s.finish(s.Values())
		return nil
	}

	results, err := s.ValidateFields(ctx)
	if err != nil {
		s.logger.Error("form submit aborted", zap.Error(err))
		return err
	}

	failed := make(map[string]*FieldError)
	for name, fe := range results {
		if fe != nil {
			failed[name] = fe
		}
	}

	if len(failed) > 0 {
		s.logger.Info("form submit failed", zap.Int("invalid_fields", len(failed)))

		s.mu.RLock()
		cb := s.callbacks.OnFinishFailed
		s.mu.RUnlock()
		if cb != nil {
			cb(failed)
		}
		s.publish(event.TopicSubmit, "", failed, s.Version())
		return nil
	}

	s.finish(s.Values())
	return nil
}

func (s *Store) finish(values map[string]any) {
	s.logger.Info("form submitted", zap.Int("values", len(values)))

	s.mu.RLock()
	cb := s.callbacks.OnFinish
	s.mu.RUnlock()
	if cb != nil {
		cb(values)
	}
	s.publish(event.TopicSubmit, "", values, s.Version())
}
