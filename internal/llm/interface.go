// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrMissingAPIKey   = errors.New("llm provider api key not set")
)

// Message 对话历史中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// 请求参数标准化
type CompletionRequest struct {
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	Prompt       string    `json:"prompt,omitempty"` // Messages 为空时作为单条用户消息
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float32   `json:"temperature,omitempty"`
	Format       string    `json:"response_format,omitempty"` // 非空时要求模型输出指定格式，如 "json_object"
}

// ConversationMessages 返回发送给模型的消息，系统提示在最前
func (r CompletionRequest) ConversationMessages() []Message {
	out := make([]Message, 0, len(r.Messages)+2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: r.SystemPrompt})
	}
	if len(r.Messages) > 0 {
		return append(out, r.Messages...)
	}
	if r.Prompt != "" {
		out = append(out, Message{Role: "user", Content: r.Prompt})
	}
	return out
}

// 响应结构标准化
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// 流式响应
//
// Done 为 true 表示流结束；Err 非空表示流因错误结束
type StreamResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Done         bool   `json:"done"`
	Err          error  `json:"-"`
}

// ModelInfo 模型目录条目
type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ContextLength    int    `json:"contextLength"`
	PricingInput     string `json:"pricingInput,omitempty"`
	PricingOutput    string `json:"pricingOutput,omitempty"`
	SupportsJSONMode bool   `json:"supportsJsonMode"`
	SupportsTools    bool   `json:"supportsTools"`
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取推荐的模型列表
	GetSupportedModels() []string

	// 文本生成
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 流式响应生成
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamResponse, error)

	// 获取可用模型目录
	FetchAvailableModels(ctx context.Context) ([]ModelInfo, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

// Registry 提供者注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// DefaultRegistry 全局注册表，由各提供者包的 init 填充
var DefaultRegistry = &Registry{
	providers: make(map[string]ProviderFactory),
}

// Register 注册一个新的LLM提供者
func (r *Registry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = factory
}

// GetProvider 获取指定名称的提供者实例
func (r *Registry) GetProvider(name string, config map[string]string) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.providers[name]
	r.mu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetAvailableProviders 返回所有已注册的提供者名称
func (r *Registry) GetAvailableProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register 在默认注册表中注册提供者
func Register(name string, factory ProviderFactory) {
	DefaultRegistry.Register(name, factory)
}

// GetProvider 从默认注册表创建提供者
func GetProvider(name string, config map[string]string) (Provider, error) {
	return DefaultRegistry.GetProvider(name, config)
}

// ListProviders 返回默认注册表中的提供者名称
func ListProviders() []string {
	return DefaultRegistry.GetAvailableProviders()
}
