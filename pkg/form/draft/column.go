package draft

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Values 草稿值列，以 JSON 文本存储
type Values map[string]any

// Value 实现 driver.Valuer 接口
func (v Values) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]any(v))
	if err != nil {
		return nil, fmt.Errorf("draft: marshal values: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口
func (v *Values) Scan(value any) error {
	data, err := columnBytes(value)
	if err != nil {
		return err
	}

	result := make(Values)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("draft: unmarshal values: %w", err)
		}
	}
	*v = result
	return nil
}

// FieldNames 字段名列表列，以 JSON 数组存储
type FieldNames []string

// Value 实现 driver.Valuer 接口
func (n FieldNames) Value() (driver.Value, error) {
	if len(n) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(n))
	if err != nil {
		return nil, fmt.Errorf("draft: marshal field names: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口
func (n *FieldNames) Scan(value any) error {
	data, err := columnBytes(value)
	if err != nil {
		return err
	}

	var result []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("draft: unmarshal field names: %w", err)
		}
	}
	if len(result) == 0 {
		result = nil
	}
	*n = result
	return nil
}

func columnBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("draft: unsupported column type %T, expected []byte or string", value)
	}
}
