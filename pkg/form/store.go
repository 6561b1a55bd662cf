package form

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"katydid-common-form/pkg/form/event"
	"katydid-common-form/pkg/form/rule"
)

// Store 表单存储
// 由字段注册表、值存储、错误存储三部分组成，读写均由 mu 保护；
// 回调与事件在锁外执行，允许回调中再次调用 Store 的方法
type Store struct {
	mu sync.RWMutex

	// fields 具名字段，保持注册顺序
	fields []*fieldEntity
	// index 字段名到条目的索引
	index map[string]*fieldEntity
	// anonymous 匿名字段，不参与批量操作
	anonymous []*fieldEntity

	// values 值存储，不受注册表约束
	values map[string]any
	// errors 错误存储，条目不存在表示从未校验
	errors map[string]*errorEntry

	initialValues map[string]any
	initialized   bool

	callbacks Callbacks

	version atomic.Uint64

	engine            rule.Engine
	bus               *event.Bus
	logger            *zap.Logger
	validationTimeout time.Duration
}

// New 创建表单存储
func New(opts ...Option) *Store {
	s := &Store{
		index:  make(map[string]*fieldEntity),
		values: make(map[string]any),
		errors: make(map[string]*errorEntry),
		engine: rule.Default(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}

	return s
}

// ============================================================================
// 字段注册表
// ============================================================================

// SignInField 注册字段
//
// 同名字段已存在时不覆盖原描述，返回的句柄为空操作；
// 调用方需先注销再注册以更换规则。
// 注册时以 nil 占位值存储（已有值保留），并清除该字段遗留的错误，不触发校验和回调。
func (s *Store) SignInField(desc *Field) SignOut {
	if desc == nil {
		s.logger.Warn("sign in field", zap.Error(ErrNilField))
		return func() {}
	}

	entity := newFieldEntity(desc)
	name := desc.Name

	if name == "" {
		s.mu.Lock()
		s.anonymous = append(s.anonymous, entity)
		s.mu.Unlock()
		return s.signOutHandle(entity)
	}

	s.mu.Lock()
	if _, exists := s.index[name]; exists {
		s.mu.Unlock()
		s.logger.Debug("field already registered, ignored", zap.String("field", name))
		return func() {}
	}

	s.fields = append(s.fields, entity)
	s.index[name] = entity
	if _, ok := s.values[name]; !ok {
		s.values[name] = nil
	}
	delete(s.errors, name)
	version := s.bump()
	s.mu.Unlock()

	s.logger.Debug("field registered", zap.String("field", name), zap.Int("rules", len(desc.Rules)))
	s.publish(event.TopicRegister, name, nil, version)

	return s.signOutHandle(entity)
}

// signOutHandle 返回只注销 entity 本身的句柄
func (s *Store) signOutHandle(entity *fieldEntity) SignOut {
	var once sync.Once
	return func() {
		once.Do(func() {
			name := entity.desc.Name

			s.mu.Lock()
			if name == "" {
				for i, e := range s.anonymous {
					if e == entity {
						s.anonymous = append(s.anonymous[:i:i], s.anonymous[i+1:]...)
						break
					}
				}
				s.mu.Unlock()
				return
			}

			if s.index[name] != entity {
				s.mu.Unlock()
				return
			}
			s.removeLocked(name)
			version := s.bump()
			s.mu.Unlock()

			s.publish(event.TopicUnregister, name, nil, version)
		})
	}
}

// SignOutField 注销字段，同时删除其值和错误
// 静默操作：不校验，不触发 OnValueChange。不传字段名表示注销所有具名字段
//
// 注意：空字符串不是字段名。SignOutField("") 与不传参数等价，会注销所有具名字段；
// 注销匿名字段请使用 SignInField 返回的句柄。
func (s *Store) SignOutField(names ...string) {
	s.mu.Lock()
	resolved := s.resolveLocked(names)
	for _, name := range resolved {
		s.removeLocked(name)
	}
	var version uint64
	if len(resolved) > 0 {
		version = s.bump()
	}
	s.mu.Unlock()

	for _, name := range resolved {
		s.publish(event.TopicUnregister, name, nil, version)
	}
}

// removeLocked 删除字段条目、值和错误，调用方需持有写锁
func (s *Store) removeLocked(name string) {
	entity, ok := s.index[name]
	if !ok {
		return
	}

	for i, e := range s.fields {
		if e == entity {
			s.fields = append(s.fields[:i:i], s.fields[i+1:]...)
			break
		}
	}
	delete(s.index, name)
	delete(s.values, name)
	delete(s.errors, name)
}

// GetFieldEntities 返回字段描述快照，默认不含匿名字段
func (s *Store) GetFieldEntities(includeAnonymous bool) []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := len(s.fields)
	if includeAnonymous {
		size += len(s.anonymous)
	}

	result := make([]Field, 0, size)
	for _, e := range s.fields {
		result = append(result, e.snapshot())
	}
	if includeAnonymous {
		for _, e := range s.anonymous {
			result = append(result, e.snapshot())
		}
	}
	return result
}

// GetFieldEntitiesName 返回已注册字段名与 names 的交集，按注册顺序；
// 不传 names 时返回所有已注册字段名
func (s *Store) GetFieldEntitiesName(names ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(names)
}

// resolveLocked 将选择器解析为已注册的字段名，调用方需持有锁
func (s *Store) resolveLocked(names []string) []string {
	path := normalizeNamePath(names)

	if path == nil {
		result := make([]string, 0, len(s.fields))
		for _, e := range s.fields {
			result = append(result, e.desc.Name)
		}
		return result
	}

	wanted := make(map[string]struct{}, len(path))
	for _, name := range path {
		wanted[name] = struct{}{}
	}

	result := make([]string, 0, len(path))
	for _, e := range s.fields {
		if _, ok := wanted[e.desc.Name]; ok {
			result = append(result, e.desc.Name)
		}
	}
	return result
}

// resolveEntities 将选择器解析为字段条目
func (s *Store) resolveEntities(names []string) []*fieldEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := s.resolveLocked(names)
	entities := make([]*fieldEntity, 0, len(resolved))
	for _, name := range resolved {
		entities = append(entities, s.index[name])
	}
	return entities
}

// ============================================================================
// 值存储
// ============================================================================

// GetFieldValue 返回单个字段的值
func (s *Store) GetFieldValue(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name]
}

// GetFieldsValue 返回按字段名索引的值
// 只读取已注册的字段，已注销字段遗留的值不包含在内
func (s *Store) GetFieldsValue(names ...string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := s.resolveLocked(names)
	result := make(map[string]any, len(resolved))
	for _, name := range resolved {
		result[name] = s.values[name]
	}
	return result
}

// Values 返回完整的值存储副本，包括未注册字段的值
func (s *Store) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]any, len(s.values))
	maps.Copy(result, s.values)
	return result
}

// SetFieldValue 合并值并响应变化
//
// 默认行为：对每个命中已注册字段的键并发执行校验，写入错误并标记为已修改，
// 全部结束后触发一次 OnValueChange(changed, values)。
//
//   - WithSkipValidate(true)：不执行校验，直接清除错误并标记为已修改
//   - WithResponse(false)：只合并值，不校验，不通知，不触发回调
//
// 任一字段的引擎故障不会中断其它字段的校验，所有故障合并后返回。
func (s *Store) SetFieldValue(ctx context.Context, values map[string]any, opts ...SetOption) error {
	o := setOptions{response: true}
	for _, opt := range opts {
		opt(&o)
	}

	changed := make(map[string]any, len(values))
	maps.Copy(changed, values)

	s.mu.Lock()
	maps.Copy(s.values, changed)
	targets := make([]*fieldEntity, 0, len(changed))
	for _, e := range s.fields {
		if _, ok := changed[e.desc.Name]; ok {
			// 新值使进行中的校验作废
			e.gen++
			targets = append(targets, e)
		}
	}

	if !o.response {
		s.bump()
		s.mu.Unlock()
		return nil
	}

	if o.skipValidate {
		changes := make([]Change, 0, len(targets))
		version := s.bump()
		for _, e := range targets {
			delete(s.errors, e.desc.Name)
			e.desc.Touched = true
			changes = append(changes, s.changeLocked(e, version))
		}
		s.mu.Unlock()

		for i, e := range targets {
			s.notify(e, event.TopicValueChange, changes[i])
		}
		s.fireValueChange(changed)
		return nil
	}
	s.mu.Unlock()

	_, err := s.validateEntities(ctx, targets, true, event.TopicValueChange)
	s.fireValueChange(changed)
	return err
}

func (s *Store) fireValueChange(changed map[string]any) {
	s.mu.RLock()
	cb := s.callbacks.OnValueChange
	s.mu.RUnlock()

	if cb != nil {
		cb(changed, s.Values())
	}
}

// ============================================================================
// 错误存储
// ============================================================================

// GetFieldError 返回单个字段的错误，nil 表示无错误或未校验
func (s *Store) GetFieldError(name string) *FieldError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry := s.errors[name]; entry != nil {
		return entry.err
	}
	return nil
}

// GetFieldsError 返回按字段名索引的错误
func (s *Store) GetFieldsError(names ...string) map[string]*FieldError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := s.resolveLocked(names)
	result := make(map[string]*FieldError, len(resolved))
	for _, name := range resolved {
		var fe *FieldError
		if entry := s.errors[name]; entry != nil {
			fe = entry.err
		}
		result[name] = fe
	}
	return result
}

// FieldErrorState 返回字段的校验状态
func (s *Store) FieldErrorState(name string) ErrorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[name].state()
}

// SetFieldError 浅合并错误，不触发校验；nil 值表示校验通过
func (s *Store) SetFieldError(errs map[string]*FieldError) {
	if len(errs) == 0 {
		return
	}

	s.mu.Lock()
	version := s.bump()
	var (
		entities []*fieldEntity
		changes  []Change
	)
	for name, fe := range errs {
		s.errors[name] = &errorEntry{err: fe}
		if e, ok := s.index[name]; ok {
			entities = append(entities, e)
			changes = append(changes, s.changeLocked(e, version))
		}
	}
	s.mu.Unlock()

	for i, e := range entities {
		s.notify(e, event.TopicErrorChange, changes[i])
	}
}

// ============================================================================
// 修改状态与重置
// ============================================================================

// SetFieldTouched 设置字段的修改状态，字段不存在时为空操作
func (s *Store) SetFieldTouched(name string, touched bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[name]
	if !ok {
		return
	}
	e.desc.Touched = touched
	s.bump()
}

// IsFieldTouched 所选字段是否全部被修改过（逻辑与）
// 选择器解析为空时返回 false
func (s *Store) IsFieldTouched(names ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := s.resolveLocked(names)
	if len(resolved) == 0 {
		return false
	}
	for _, name := range resolved {
		if !s.index[name].desc.Touched {
			return false
		}
	}
	return true
}

// ResetField 静默重置字段：值置为 nil，清除错误和修改状态
// 不校验，不触发 OnValueChange；字段自身的 OnStoreChange 仍会收到通知。
// 进行中的校验结果被丢弃，不会写回已清除的错误。
//
// 与 SignOutField 相同，ResetField("") 等价于重置所有具名字段。
func (s *Store) ResetField(names ...string) {
	s.mu.Lock()
	resolved := s.resolveLocked(names)
	if len(resolved) == 0 {
		s.mu.Unlock()
		return
	}

	version := s.bump()
	entities := make([]*fieldEntity, 0, len(resolved))
	changes := make([]Change, 0, len(resolved))
	for _, name := range resolved {
		e := s.index[name]
		e.gen++
		s.values[name] = nil
		delete(s.errors, name)
		e.desc.Touched = false
		entities = append(entities, e)
		changes = append(changes, s.changeLocked(e, version))
	}
	s.mu.Unlock()

	for i, e := range entities {
		s.notify(e, event.TopicReset, changes[i])
	}
}

// ============================================================================
// 初始值与回调
// ============================================================================

// GetInitialValue 返回初始值基线的副本
func (s *Store) GetInitialValue() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.initialValues)
}

// Initialized 是否已应用过初始值
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetInitialValue 应用初始值
//
// initialized 为 true 时为空操作。否则记录基线，取基线与当前已注册字段的交集，
// 经由正常的 SetFieldValue 路径写入：会触发校验和 OnValueChange。
// 之后才注册的字段不会自动获得初始值。
func (s *Store) SetInitialValue(ctx context.Context, values map[string]any, initialized bool) error {
	if initialized {
		return nil
	}

	s.mu.Lock()
	s.initialValues = maps.Clone(values)
	s.initialized = true
	subset := make(map[string]any, len(values))
	for name, v := range values {
		if _, ok := s.index[name]; ok {
			subset[name] = v
		}
	}
	s.mu.Unlock()

	if len(subset) == 0 {
		return nil
	}
	return s.SetFieldValue(ctx, subset)
}

// SetCallback 整体替换回调
func (s *Store) SetCallback(callbacks Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = callbacks
}

// ============================================================================
// 通知
// ============================================================================

// Version 返回变更版本号，每次存储状态变化递增，渲染层可轮询比较
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Bus 返回事件总线
func (s *Store) Bus() *event.Bus {
	return s.bus
}

// Subscribe 订阅存储事件
func (s *Store) Subscribe(topic event.Topic, handler event.Handler) event.Unsubscribe {
	return s.bus.Subscribe(topic, handler)
}

func (s *Store) bump() uint64 {
	return s.version.Add(1)
}

// changeLocked 构建字段变化通知，调用方需持有锁
func (s *Store) changeLocked(e *fieldEntity, version uint64) Change {
	name := e.desc.Name
	entry := s.errors[name]

	c := Change{
		Name:    name,
		Value:   s.values[name],
		State:   entry.state(),
		Touched: e.desc.Touched,
		Version: version,
	}
	if entry != nil {
		c.Error = entry.err
	}
	return c
}

// notify 通知字段自身的 OnStoreChange 并发布事件
func (s *Store) notify(e *fieldEntity, topic event.Topic, change Change) {
	if cb := e.desc.OnStoreChange; cb != nil {
		cb(change)
	}
	s.publish(topic, change.Name, change, change.Version)
}

func (s *Store) publish(topic event.Topic, field string, payload any, version uint64) {
	e := event.New(topic, field, payload)
	e.Version = version
	s.bus.Publish(e)
}
