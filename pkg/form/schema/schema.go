// Package schema 通过 viper 加载表单定义
//
// 支持 viper 能读取的任意格式（yaml/json/toml...），环境变量前缀 FORM_ 可覆盖标量配置。
// 注意：viper 对键名大小写不敏感，字段名与初始值的键会被统一转为小写。
//
// 示例（yaml）：
//
//	name: signup
//	options:
//	  validation_timeout: 2s
//	  logger:
//	    level: debug
//	    output: file
//	    file:
//	      filename: /var/log/form/signup.log
//	fields:
//	  - name: username
//	    validate_first: true
//	    rules:
//	      - tag: required
//	        message: 用户名不能为空
//	      - tag: min=3,max=20
//	initial_values:
//	  username: guest
package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"katydid-common-form/pkg/form"
	"katydid-common-form/pkg/form/rule"
	"katydid-common-form/pkg/logger"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "FORM"

// loggerKey 日志配置所在的节点
const loggerKey = "options.logger"

var (
	// ErrDuplicateField 字段重复定义
	ErrDuplicateField = errors.New("schema: duplicate field")
	// ErrEmptyFieldName 字段名为空
	ErrEmptyFieldName = errors.New("schema: field name is empty")
)

// FieldSchema 字段定义
type FieldSchema struct {
	Name          string      `mapstructure:"name"`
	ValidateFirst bool        `mapstructure:"validate_first"`
	Rules         []rule.Rule `mapstructure:"rules"`
}

// Options 存储选项
type Options struct {
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
	// Logger 日志配置，未配置时存储不输出日志
	Logger *logger.Config `mapstructure:"-"`
}

// Schema 表单定义
type Schema struct {
	Name          string         `mapstructure:"name"`
	Options       Options        `mapstructure:"options"`
	Fields        []FieldSchema  `mapstructure:"fields"`
	InitialValues map[string]any `mapstructure:"initial_values"`
}

// Load 从文件加载，格式由扩展名决定
func Load(path string) (*Schema, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return FromViper(v)
}

// LoadReader 从 reader 加载，format 如 "yaml"、"json"
func LoadReader(r io.Reader, format string) (*Schema, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("schema: read %s config: %w", format, err)
	}
	return FromViper(v)
}

// FromViper 从已加载的 viper 实例解析表单定义
func FromViper(v *viper.Viper) (*Schema, error) {
	s := &Schema{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	if v.IsSet(loggerKey) {
		cfg, err := logger.FromViper(v, loggerKey)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		s.Options.Logger = &cfg
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Validate 检查定义是否合法：字段名非空且不重复
func (s *Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: fields[%d]", ErrEmptyFieldName, i)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// StoreOptions 转换为存储选项，配置了日志时按配置创建日志器
func (s *Schema) StoreOptions() ([]form.Option, error) {
	var opts []form.Option
	if s.Options.ValidationTimeout > 0 {
		opts = append(opts, form.WithValidationTimeout(s.Options.ValidationTimeout))
	}
	if s.Options.Logger != nil {
		log, err := logger.New(*s.Options.Logger)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		if s.Name != "" {
			log = log.With(zap.String("form", s.Name))
		}
		opts = append(opts, form.WithLogger(log))
	}
	return opts, nil
}

// FormFields 构建字段描述
func (s *Schema) FormFields() []*form.Field {
	fields := make([]*form.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		fields = append(fields, &form.Field{
			Name:          f.Name,
			Rules:         append([]rule.Rule(nil), f.Rules...),
			ValidateFirst: f.ValidateFirst,
		})
	}
	return fields
}

// Apply 向 store 注册所有字段并应用初始值
// 返回的注销句柄与字段一一对应
func (s *Schema) Apply(ctx context.Context, store *form.Store) ([]form.SignOut, error) {
	fields := s.FormFields()
	signOuts := make([]form.SignOut, 0, len(fields))
	for _, f := range fields {
		signOuts = append(signOuts, store.SignInField(f))
	}

	if len(s.InitialValues) > 0 {
		if err := store.SetInitialValue(ctx, s.InitialValues, store.Initialized()); err != nil {
			return signOuts, err
		}
	}
	return signOuts, nil
}

// NewStore 创建存储并应用定义
func (s *Schema) NewStore(ctx context.Context, opts ...form.Option) (*form.Store, error) {
	storeOpts, err := s.StoreOptions()
	if err != nil {
		return nil, err
	}
	store := form.New(append(storeOpts, opts...)...)
	if _, err := s.Apply(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}
