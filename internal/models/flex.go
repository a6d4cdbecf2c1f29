// internal/models/flex.go
package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// 模型输出中的字段类型不可信，以下类型在解码时容忍类型偏差，
// 由合并逻辑再决定取值或丢弃

// FlexString 接受字符串、数字、布尔值；null、对象、数组解码为空串
type FlexString string

// UnmarshalJSON 实现 json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
	case 't', 'f':
		*s = FlexString(data)
	case 'n', '{', '[':
		*s = ""
	default:
		*s = FlexString(data)
	}
	return nil
}

// String 返回去除首尾空白后的值
func (s FlexString) String() string {
	return strings.TrimSpace(string(s))
}

// Or 空值时返回默认值
func (s FlexString) Or(def string) string {
	if s == "" {
		return def
	}
	return string(s)
}

// JSONSchema 在生成的 schema 中表现为字符串
func (FlexString) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string"}
}

// FlexInt 接受数字或数字字符串
//
// 缺失、0、null、空串、false 视为"使用默认值"；
// 非数字字符串、小数、对象、数组视为不可用
type FlexInt struct {
	value   int
	set     bool
	invalid bool
}

// IntValue 构造一个已赋值的 FlexInt
func IntValue(n int) FlexInt {
	return FlexInt{value: n, set: true}
}

// UnmarshalJSON 实现 json.Unmarshaler
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	*n = FlexInt{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case 'n', 'f':
		return nil
	case 't':
		*n = IntValue(1)
		return nil
	case '{', '[':
		n.invalid = true
		return nil
	case '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			n.invalid = true
			return nil
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		n.parse(raw)
		return nil
	default:
		n.parse(string(data))
		return nil
	}
}

func (n *FlexInt) parse(raw string) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		n.invalid = true
		return
	}
	*n = IntValue(int(f))
}

// MarshalJSON 实现 json.Marshaler
func (n FlexInt) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(n.value)), nil
}

// Resolve 返回解析后的值；未提供或为 0 时返回默认值，不可用时 ok 为 false
func (n FlexInt) Resolve(def int) (int, bool) {
	if n.invalid {
		return 0, false
	}
	if !n.set || n.value == 0 {
		return def, true
	}
	return n.value, true
}

// JSONSchema 在生成的 schema 中表现为整数
func (FlexInt) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}

// RawList 保留列表字段的原始 JSON，合并时再归一化
//
// 只要键出现（包括 null）Present 即为 true
type RawList struct {
	raw     json.RawMessage
	present bool
}

// ListOf 由任意值构造 RawList，主要用于测试与离线工具
func ListOf(v any) RawList {
	data, err := json.Marshal(v)
	if err != nil {
		return RawList{present: true}
	}
	return RawList{raw: data, present: true}
}

// UnmarshalJSON 实现 json.Unmarshaler
func (l *RawList) UnmarshalJSON(data []byte) error {
	l.raw = append(json.RawMessage(nil), data...)
	l.present = true
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (l RawList) MarshalJSON() ([]byte, error) {
	if !l.present || len(l.raw) == 0 {
		return []byte("null"), nil
	}
	return l.raw, nil
}

// Present 键是否出现
func (l RawList) Present() bool {
	return l.present
}

// elements 返回数组元素；非数组返回 nil
func (l RawList) elements() []json.RawMessage {
	if len(l.raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(l.raw, &items); err != nil {
		return nil
	}
	return items
}

// DialogueLines 归一化台词：两端去空白，两个字段都为空的条目丢弃，非数组返回空列表
func (l RawList) DialogueLines() []DialogueLine {
	lines := []DialogueLine{}
	for _, item := range l.elements() {
		var entry struct {
			Character FlexString `json:"character"`
			Line      FlexString `json:"line"`
		}
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		line := DialogueLine{Character: entry.Character.String(), Line: entry.Line.String()}
		if line.Character == "" && line.Line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// IDSet 归一化 ID 列表：去空白，丢弃空值，按首次出现去重
func (l RawList) IDSet() []string {
	ids := []string{}
	seen := make(map[string]struct{})
	for _, item := range l.elements() {
		var v FlexString
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		id := v.String()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// JSONSchema 在生成的 schema 中表现为数组
func (RawList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array"}
}
