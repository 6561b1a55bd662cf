package draft

import (
	"context"
	"errors"

	"go.uber.org/multierr"
)

// TeeRepository 组合多个仓储：写入全部，读取按顺序取第一个命中的
// 典型用法是 Redis 在前作为缓存，SQL 在后作为持久层
type TeeRepository struct {
	repos []Repository
}

// NewTeeRepository 创建组合仓储
func NewTeeRepository(repos ...Repository) *TeeRepository {
	return &TeeRepository{repos: repos}
}

// Save 写入所有仓储，单个失败不影响其它，失败合并返回
func (t *TeeRepository) Save(ctx context.Context, d *Draft) error {
	var err error
	for _, repo := range t.repos {
		err = multierr.Append(err, repo.Save(ctx, d))
	}
	return err
}

// Load 按顺序读取，全部未命中时返回 ErrDraftNotFound
func (t *TeeRepository) Load(ctx context.Context, formKey string) (*Draft, error) {
	var errs error
	for _, repo := range t.repos {
		d, err := repo.Load(ctx, formKey)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrDraftNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrDraftNotFound
}

// Delete 从所有仓储删除
func (t *TeeRepository) Delete(ctx context.Context, formKey string) error {
	var err error
	for _, repo := range t.repos {
		err = multierr.Append(err, repo.Delete(ctx, formKey))
	}
	return err
}
