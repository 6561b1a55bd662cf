package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 支持的数据库驱动
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DBConfig 数据库配置
type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Dialector 根据驱动名选择 gorm 方言
func Dialector(cfg DBConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "sqlite3":
		return sqlite.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres, "postgresql":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("draft: unsupported driver %q", cfg.Driver)
	}
}

// Open 打开数据库
func Open(cfg DBConfig, opts ...gorm.Option) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, fmt.Errorf("draft: open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// draftRecord 草稿表记录
type draftRecord struct {
	ID        int64      `gorm:"primaryKey;autoIncrement:false"`
	FormKey   string     `gorm:"size:128;uniqueIndex"`
	Values    Values     `gorm:"column:field_values;type:text"`
	Touched   FieldNames `gorm:"type:text"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false"`
}

// TableName 表名
func (draftRecord) TableName() string {
	return "form_drafts"
}

// GormRepository 基于 gorm 的草稿仓储
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 创建仓储并迁移草稿表
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&draftRecord{}); err != nil {
		return nil, fmt.Errorf("draft: migrate: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Save 实现 Repository 接口，按 form_key 覆盖
func (r *GormRepository) Save(ctx context.Context, d *Draft) error {
	if d == nil || d.FormKey == "" {
		return ErrEmptyFormKey
	}

	record := &draftRecord{
		ID:        d.ID,
		FormKey:   d.FormKey,
		Values:    d.Values,
		Touched:   d.Touched,
		UpdatedAt: d.UpdatedAt,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "form_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"field_values", "touched", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("draft: save %s: %w", d.FormKey, err)
	}
	return nil
}

// Load 实现 Repository 接口
func (r *GormRepository) Load(ctx context.Context, formKey string) (*Draft, error) {
	var record draftRecord
	err := r.db.WithContext(ctx).Where("form_key = ?", formKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, formKey)
	}
	if err != nil {
		return nil, fmt.Errorf("draft: load %s: %w", formKey, err)
	}

	values := map[string]any(record.Values)
	if values == nil {
		values = make(map[string]any)
	}
	return &Draft{
		ID:        record.ID,
		FormKey:   record.FormKey,
		Values:    values,
		Touched:   record.Touched,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

// Delete 实现 Repository 接口
func (r *GormRepository) Delete(ctx context.Context, formKey string) error {
	err := r.db.WithContext(ctx).Where("form_key = ?", formKey).Delete(&draftRecord{}).Error
	if err != nil {
		return fmt.Errorf("draft: delete %s: %w", formKey, err)
	}
	return nil
}
