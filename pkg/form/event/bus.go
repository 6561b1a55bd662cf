// Package event 提供表单存储的显式发布订阅组件
//
// 每个订阅绑定到一个类型化的主题，Subscribe 返回取消订阅句柄；
// 总线实例由使用方持有，不存在包级单例。
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic 事件主题
type Topic string

const (
	// TopicAll 订阅所有主题
	TopicAll Topic = "*"
	// TopicRegister 字段注册
	TopicRegister Topic = "field.register"
	// TopicUnregister 字段注销
	TopicUnregister Topic = "field.unregister"
	// TopicValueChange 字段值变化
	TopicValueChange Topic = "field.value"
	// TopicErrorChange 字段错误变化
	TopicErrorChange Topic = "field.error"
	// TopicReset 字段重置
	TopicReset Topic = "field.reset"
	// TopicSubmit 表单提交完成
	TopicSubmit Topic = "form.submit"
)

// Event 事件
type Event struct {
	Topic     Topic
	Field     string
	Payload   any
	Version   uint64
	Timestamp int64
}

// New 创建事件
func New(topic Topic, field string, payload any) Event {
	return Event{
		Topic:     topic,
		Field:     field,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}
}

// Handler 事件处理函数
type Handler func(Event)

// Unsubscribe 取消订阅句柄，可重复调用
type Unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 同步事件总线
// 职责：按主题分发事件，处理函数在 Publish 的调用方协程中执行
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*subscription
	nextID uint64
	logger *zap.Logger
}

// NewBus 创建事件总线，logger 为 nil 时不记录处理函数的 panic
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Topic][]*subscription),
		logger: logger,
	}
}

// Subscribe 订阅主题
func (b *Bus) Subscribe(topic Topic, handler Handler) Unsubscribe {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, sub.id) })
	}
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish 发布事件
// 单个处理函数 panic 不影响其它订阅者
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic])+len(b.subs[TopicAll]))
	for _, s := range b.subs[e.Topic] {
		handlers = append(handlers, s.handler)
	}
	if e.Topic != TopicAll {
		for _, s := range b.subs[TopicAll] {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(e.Topic)),
				zap.String("field", e.Field),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}

// Len 返回主题的订阅数
func (b *Bus) Len(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Clear 清空所有订阅
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Topic][]*subscription)
}
