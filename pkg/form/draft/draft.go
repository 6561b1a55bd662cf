// Package draft 提供表单草稿的保存与恢复
//
// 草稿是某一时刻表单值与修改状态的快照，可持久化到 SQL（gorm）或 Redis，
// 恢复时静默写回存储：不校验，不触发 OnValueChange。
//
// 注意：值以 JSON 持久化，数字恢复后为 float64。
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"katydid-common-form/pkg/form"
	"katydid-common-form/pkg/idgen"
)

var (
	// ErrDraftNotFound 草稿不存在
	ErrDraftNotFound = errors.New("draft: not found")
	// ErrEmptyFormKey 表单键为空
	ErrEmptyFormKey = errors.New("draft: form key is empty")
)

// Draft 表单草稿
type Draft struct {
	ID        int64          `json:"id"`
	FormKey   string         `json:"form_key"`
	Values    map[string]any `json:"values"`
	Touched   []string       `json:"touched,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Repository 草稿仓储
type Repository interface {
	// Save 保存草稿，同一 FormKey 覆盖旧草稿
	Save(ctx context.Context, d *Draft) error
	// Load 读取草稿，不存在时返回 ErrDraftNotFound
	Load(ctx context.Context, formKey string) (*Draft, error)
	// Delete 删除草稿，不存在时不报错
	Delete(ctx context.Context, formKey string) error
}

// Snapshot 生成草稿：已注册字段的值与修改状态
// gen 为 nil 时使用默认 ID 生成器
func Snapshot(formKey string, store *form.Store, gen idgen.Generator) (*Draft, error) {
	if formKey == "" {
		return nil, ErrEmptyFormKey
	}
	if gen == nil {
		gen = idgen.Default()
	}

	id, err := gen.NextID()
	if err != nil {
		return nil, fmt.Errorf("draft: generate id: %w", err)
	}

	var touched []string
	for _, f := range store.GetFieldEntities(false) {
		if f.Touched {
			touched = append(touched, f.Name)
		}
	}

	return &Draft{
		ID:        id,
		FormKey:   formKey,
		Values:    store.GetFieldsValue(),
		Touched:   touched,
		UpdatedAt: time.Now(),
	}, nil
}

// Restore 将草稿静默写回存储，并恢复已注册字段的修改状态
func Restore(ctx context.Context, store *form.Store, d *Draft) error {
	if d == nil {
		return nil
	}

	if err := store.SetFieldValue(ctx, d.Values, form.WithResponse(false)); err != nil {
		return err
	}

	touched := make(map[string]struct{}, len(d.Touched))
	for _, name := range d.Touched {
		touched[name] = struct{}{}
	}
	for _, name := range store.GetFieldEntitiesName() {
		_, ok := touched[name]
		store.SetFieldTouched(name, ok)
	}
	return nil
}

// encode 序列化草稿
func encode(d *Draft) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("draft: encode %s: %w", d.FormKey, err)
	}
	return data, nil
}

// decode 反序列化草稿
func decode(data []byte) (*Draft, error) {
	d := &Draft{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("draft: decode: %w", err)
	}
	if d.Values == nil {
		d.Values = make(map[string]any)
	}
	return d, nil
}
