package form

import "errors"

// ErrNilField 注册的字段描述为 nil
var ErrNilField = errors.New("form: field descriptor is nil")
