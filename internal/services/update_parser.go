// internal/services/update_parser.go
package services

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sumanurawat/storyboarder/internal/models"
)

const (
	// NoResponseMessage 模型返回空内容时展示给用户的文本
	NoResponseMessage = "No response received. Try again."
	// DefaultChatText 结构化回复缺少 chat 字段时的回退文本
	DefaultChatText = "Updated storyboard."
)

// ParsedReply 解析后的模型回复
type ParsedReply struct {
	ChatText   string
	Envelope   models.UpdateEnvelope
	Structured bool // 是否成功按 {chat, updates} 解码
}

var (
	leadingFencePattern  = regexp.MustCompile("(?i)^```[a-z0-9_+-]*\\s*")
	trailingFencePattern = regexp.MustCompile("\\s*```\\s*$")

	// 不可见噪声字符，解码前移除
	replyNoiseReplacer = strings.NewReplacer(
		"\ufeff", "",
		"\u200b", "",
		"\u2060", "",
	)
)

// ParseReply 将模型原始输出解析为聊天文本与更新信封，任何输入都不会报错
func ParseReply(raw string) ParsedReply {
	original := strings.TrimSpace(raw)
	if original == "" {
		return ParsedReply{ChatText: NoResponseMessage}
	}

	cleaned := strings.TrimSpace(replyNoiseReplacer.Replace(original))
	cleaned = leadingFencePattern.ReplaceAllString(cleaned, "")
	cleaned = trailingFencePattern.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	var reply struct {
		Chat    json.RawMessage `json:"chat"`
		Updates json.RawMessage `json:"updates"`
	}
	if !strings.HasPrefix(cleaned, "{") {
		return ParsedReply{ChatText: raw}
	}
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return ParsedReply{ChatText: raw}
	}

	parsed := ParsedReply{ChatText: DefaultChatText, Structured: true}

	var chat string
	if len(reply.Chat) > 0 && json.Unmarshal(reply.Chat, &chat) == nil {
		if chat = strings.TrimSpace(chat); chat != "" {
			parsed.ChatText = chat
		}
	}

	updates := bytes.TrimSpace(reply.Updates)
	if len(updates) > 0 && updates[0] == '{' {
		var env models.UpdateEnvelope
		if err := json.Unmarshal(updates, &env); err == nil {
			parsed.Envelope = env
		}
	}
	return parsed
}
