package form

// normalizeNamePath 将选择器参数规整为名称路径
//   - 未传入名称：返回 nil，调用方解释为“所有字段”
//   - 单个名称：返回单元素列表
//   - 名称列表：返回列表副本
//
// 空字符串视为匿名字段，被丢弃；若丢弃后为空则同样返回 nil
func normalizeNamePath(names []string) []string {
	if len(names) == 0 {
		return nil
	}

	path := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			path = append(path, name)
		}
	}
	if len(path) == 0 {
		return nil
	}
	return path
}
