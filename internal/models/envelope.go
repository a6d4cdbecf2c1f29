// internal/models/envelope.go
package models

import (
	"encoding/json"
	"errors"
)

// ErrEnvelopeNotObject updates 字段不是 JSON 对象
var ErrEnvelopeNotObject = errors.New("updates is not a JSON object")

// ReplyEnvelope 模型回复的结构化形状
type ReplyEnvelope struct {
	Chat    string         `json:"chat" jsonschema:"description=Conversational reply shown to the user"`
	Updates UpdateEnvelope `json:"updates"`
}

// UpdateEnvelope 一次回复中提取出的增量更新
//
// 每个列表逐条解码，单条解码失败只丢弃该条
type UpdateEnvelope struct {
	ScenesAdd        []SceneDraft     `json:"scenes_add,omitempty"`
	ScenesUpdate     []ScenePatch     `json:"scenes_update,omitempty"`
	ScenesRemove     []FlexString     `json:"scenes_remove,omitempty"`
	CharactersAdd    []CharacterDraft `json:"characters_add,omitempty"`
	CharactersUpdate []CharacterPatch `json:"characters_update,omitempty"`
	LocationsAdd     []LocationDraft  `json:"locations_add,omitempty"`
	LocationsUpdate  []LocationPatch  `json:"locations_update,omitempty"`
}

// SceneDraft 新增场景请求
type SceneDraft struct {
	Act               FlexInt    `json:"act"`
	Sequence          FlexInt    `json:"sequence"`
	Title             FlexString `json:"title"`
	Location          FlexString `json:"location"`
	Time              FlexString `json:"time"`
	VisualDescription FlexString `json:"visualDescription"`
	Action            FlexString `json:"action"`
	Dialogue          RawList    `json:"dialogue"`
	Mood              FlexString `json:"mood"`
	StoryFunction     FlexString `json:"storyFunction"`
	CharacterIDs      RawList    `json:"characterIds"`
	LocationIDs       RawList    `json:"locationIds"`
}

// ScenePatch 场景更新请求
type ScenePatch struct {
	SceneID FlexString   `json:"sceneId"`
	Changes SceneChanges `json:"changes"`
}

// SceneChanges 场景变更集，nil 指针表示未提供该字段
type SceneChanges struct {
	Title             *FlexString `json:"title,omitempty"`
	Location          *FlexString `json:"location,omitempty"`
	Time              *FlexString `json:"time,omitempty"`
	VisualDescription *FlexString `json:"visualDescription,omitempty"`
	Action            *FlexString `json:"action,omitempty"`
	Mood              *FlexString `json:"mood,omitempty"`
	StoryFunction     *FlexString `json:"storyFunction,omitempty"`
	ImageURL          *FlexString `json:"imageUrl,omitempty"`
	Dialogue          RawList     `json:"dialogue"`
	CharacterIDs      RawList     `json:"characterIds"`
	LocationIDs       RawList     `json:"locationIds"`
}

// CharacterDraft 新增角色请求
type CharacterDraft struct {
	Name                    FlexString `json:"name"`
	Description             FlexString `json:"description"`
	VisualPromptDescription FlexString `json:"visualPromptDescription"`
	Role                    FlexString `json:"role"`
}

// CharacterPatch 角色更新请求
type CharacterPatch struct {
	ID      FlexString       `json:"id"`
	Changes CharacterChanges `json:"changes"`
}

// CharacterChanges 角色变更集
type CharacterChanges struct {
	Name                    *FlexString `json:"name,omitempty"`
	Description             *FlexString `json:"description,omitempty"`
	VisualPromptDescription *FlexString `json:"visualPromptDescription,omitempty"`
	Role                    *FlexString `json:"role,omitempty"`
	FirstAppearance         *FlexString `json:"firstAppearance,omitempty"`
	Color                   *FlexString `json:"color,omitempty"`
}

// LocationDraft 新增地点请求
type LocationDraft struct {
	Name                    FlexString `json:"name"`
	Description             FlexString `json:"description"`
	VisualPromptDescription FlexString `json:"visualPromptDescription"`
	Mood                    FlexString `json:"mood"`
}

// LocationPatch 地点更新请求
type LocationPatch struct {
	ID      FlexString      `json:"id"`
	Changes LocationChanges `json:"changes"`
}

// LocationChanges 地点变更集
type LocationChanges struct {
	Name                    *FlexString `json:"name,omitempty"`
	Description             *FlexString `json:"description,omitempty"`
	VisualPromptDescription *FlexString `json:"visualPromptDescription,omitempty"`
	Mood                    *FlexString `json:"mood,omitempty"`
}

// UnmarshalJSON 逐键、逐条解码；非对象输入返回错误，非数组的键视为空列表
func (e *UpdateEnvelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return ErrEnvelopeNotObject
	}
	*e = UpdateEnvelope{
		ScenesAdd:        decodeItems[SceneDraft](fields["scenes_add"]),
		ScenesUpdate:     decodeItems[ScenePatch](fields["scenes_update"]),
		ScenesRemove:     decodeItems[FlexString](fields["scenes_remove"]),
		CharactersAdd:    decodeItems[CharacterDraft](fields["characters_add"]),
		CharactersUpdate: decodeItems[CharacterPatch](fields["characters_update"]),
		LocationsAdd:     decodeItems[LocationDraft](fields["locations_add"]),
		LocationsUpdate:  decodeItems[LocationPatch](fields["locations_update"]),
	}
	return nil
}

func decodeItems[T any](raw json.RawMessage) []T {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// IsEmpty 是否不包含任何更新
func (e UpdateEnvelope) IsEmpty() bool {
	return len(e.ScenesAdd) == 0 &&
		len(e.ScenesUpdate) == 0 &&
		len(e.ScenesRemove) == 0 &&
		len(e.CharactersAdd) == 0 &&
		len(e.CharactersUpdate) == 0 &&
		len(e.LocationsAdd) == 0 &&
		len(e.LocationsUpdate) == 0
}
