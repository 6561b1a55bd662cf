// Package formhttp 将表单存储挂到 gin 路由上
//
// 每个请求创建一个新的存储：请求体中的值静默写入后提交，
// 校验通过返回 200 与完整的值，未通过返回 422 与字段错误。
package formhttp

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"katydid-common-form/pkg/form"
	"katydid-common-form/pkg/form/schema"
)

// StoreFactory 为每个请求创建存储
type StoreFactory func(ctx context.Context) (*form.Store, error)

// FromSchema 以表单定义创建存储
func FromSchema(s *schema.Schema, opts ...form.Option) StoreFactory {
	return func(ctx context.Context) (*form.Store, error) {
		return s.NewStore(ctx, opts...)
	}
}

// Option 处理器选项
type Option func(*handler)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type handler struct {
	factory StoreFactory
	logger  *zap.Logger
}

// Handler 返回提交表单的 gin 处理函数
//
// 存储上已设置的回调会被替换，提交结果只通过响应返回。
func Handler(factory StoreFactory, opts ...Option) gin.HandlerFunc {
	h := &handler{factory: factory, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h.handle
}

// Register 在 path 上注册 POST 提交接口
func Register(r gin.IRoutes, path string, factory StoreFactory, opts ...Option) {
	r.POST(path, Handler(factory, opts...))
}

func (h *handler) handle(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	store, err := h.factory(ctx)
	if err != nil {
		h.abort(c, "create form store failed", err)
		return
	}

	var (
		values map[string]any
		failed map[string]*form.FieldError
	)
	store.SetCallback(form.Callbacks{
		OnFinish:       func(v map[string]any) { values = v },
		OnFinishFailed: func(errs map[string]*form.FieldError) { failed = errs },
	})

	if err := store.SetFieldValue(ctx, body, form.WithResponse(false)); err != nil {
		h.abort(c, "set form values failed", err)
		return
	}
	if err := store.Submit(ctx, false); err != nil {
		h.abort(c, "submit form failed", err)
		return
	}

	if failed != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// abort 引擎故障不向客户端暴露细节
func (h *handler) abort(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
}
