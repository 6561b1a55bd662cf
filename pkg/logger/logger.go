// Package logger 基于 zap 构建结构化日志器，文件输出通过 lumberjack 滚动
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// FileConfig 文件输出配置（lumberjack）
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // 单个文件最大尺寸（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧文件数
	MaxAge     int    `mapstructure:"max_age"`     // 保留天数
	Compress   bool   `mapstructure:"compress"`
}

// Config 日志配置
type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

// DefaultConfig 默认配置：info 级别，json 格式，输出到标准输出
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: OutputStdout,
		File: FileConfig{
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// FromViper 从 viper 的 key 节点读取配置，缺省项使用默认值
func FromViper(v *viper.Viper, key string) (Config, error) {
	cfg := DefaultConfig()
	if v == nil || !v.IsSet(key) {
		return cfg, nil
	}
	if err := v.UnmarshalKey(key, &cfg); err != nil {
		return cfg, fmt.Errorf("logger: decode config %q: %w", key, err)
	}
	return cfg, nil
}

// New 根据配置创建日志器
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case FormatConsole:
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("logger: unknown format %q", cfg.Format)
	}

	var sink zapcore.WriteSyncer
	switch strings.ToLower(cfg.Output) {
	case "", OutputStdout:
		sink = zapcore.Lock(os.Stdout)
	case OutputStderr:
		sink = zapcore.Lock(os.Stderr)
	case OutputFile:
		if cfg.File.Filename == "" {
			return nil, fmt.Errorf("logger: file output requires a filename")
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		})
	default:
		return nil, fmt.Errorf("logger: unknown output %q", cfg.Output)
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller()), nil
}
