// internal/models/schema.go
package models

import (
	"github.com/invopop/jsonschema"
)

// ReplySchema 模型回复 {chat, updates} 的 JSON Schema
//
// 所有字段可选，解析端对缺失字段使用默认值
func ReplySchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		DoNotReference:            false,
	}

	schema := r.Reflect(&ReplyEnvelope{})
	schema.Title = "Storyboarder Reply"
	schema.Description = "Reply shape the assistant returns each turn: a chat message plus incremental storyboard updates."
	schema.Required = nil
	if schema.Definitions != nil {
		for _, def := range schema.Definitions {
			def.Required = nil
		}
	}
	return schema
}
