// Package form 提供响应式的表单存储
//
// Store 维护一组具名字段：字段注册表、值存储、错误存储，
// 并在值变化和提交时编排（可能是部分字段的）并发校验。
//
// 调用形态：
//   - GetFieldValue / GetFieldError / ValidateField 接收单个字段名，返回单个结果
//   - GetFieldsValue / GetFieldsError / ValidateFields 接收字段名列表，返回按名索引的结果；
//     不传字段名表示所有已注册（具名）字段
//
// 并发模型：
//   - 所有读写方法均为并发安全
//   - SetFieldValue / ValidateFields / Submit 会阻塞到本批次全部字段校验结束
//   - 同一字段的新值、重置或新一轮校验都会使进行中的校验作废（按代数丢弃），旧结果不会覆盖新状态
//
// 使用示例：
//
//	store := form.New()
//	signOut := store.SignInField(&form.Field{
//	    Name:  "username",
//	    Rules: []rule.Rule{{Tag: "required,min=3"}},
//	})
//	defer signOut()
//
//	store.SetCallback(form.Callbacks{
//	    OnFinish:       func(values map[string]any) { ... },
//	    OnFinishFailed: func(errs map[string]*form.FieldError) { ... },
//	})
//	_ = store.SetFieldValue(ctx, map[string]any{"username": "bob"})
//	_ = store.Submit(ctx, false)
package form
