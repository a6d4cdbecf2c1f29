// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/sumanurawat/storyboarder/internal/llm"
)

// ProviderName 注册名
const ProviderName = "openrouter"

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultModel       = "anthropic/claude-sonnet-4"
	defaultAppName     = "Storyboarder"
	defaultHTTPReferer = "https://storyboarder.desktop"

	// 模型目录只保留上下文足够长的模型
	minContextLength = 8000
)

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"anthropic/claude-sonnet-4",
				"openai/gpt-4o",
				"google/gemini-2.5-pro",
				"meta-llama/llama-3.3-70b-instruct",
			},
			baseURL: defaultBaseURL,
		}
	})
}

// Provider OpenRouter 的 OpenAI 兼容接口
type Provider struct {
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
	httpReferer       string // 请求来源
	appName           string // 应用名称
}

// Initialize 读取 api_key、default_model、base_url、app_name、http_referer
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return llm.ErrMissingAPIKey
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	p.defaultModel = defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}

	p.appName = defaultAppName
	if appName, exists := config["app_name"]; exists && appName != "" {
		p.appName = appName
	}
	p.httpReferer = defaultHTTPReferer
	if httpReferer, exists := config["http_referer"]; exists && httpReferer != "" {
		p.httpReferer = httpReferer
	}
	return nil
}

// GetName 提供者名称
func (p *Provider) GetName() string {
	return "OpenRouter"
}

// GetSupportedModels 推荐模型
func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("HTTP-Referer", p.httpReferer)
	req.Header.Set("X-Title", p.appName)
}

// FetchAvailableModels 获取模型目录，过滤短上下文模型并按名称排序
func (p *Provider) FetchAvailableModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if p.apiKey == "" {
		return nil, llm.ErrMissingAPIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to load models: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var response struct {
		Data []struct {
			ID            string  `json:"id"`
			Name          string  `json:"name"`
			ContextLength float64 `json:"context_length"`
			Pricing       struct {
				Prompt     string `json:"prompt"`
				Completion string `json:"completion"`
			} `json:"pricing"`
			SupportedParameters []string `json:"supported_parameters"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode model catalog: %w", err)
	}

	models := make([]llm.ModelInfo, 0, len(response.Data))
	for _, m := range response.Data {
		if m.ContextLength < minContextLength {
			continue
		}
		info := llm.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			ContextLength: int(m.ContextLength),
			PricingInput:  m.Pricing.Prompt,
			PricingOutput: m.Pricing.Completion,
		}
		if info.Name == "" {
			info.Name = m.ID
		}
		for _, param := range m.SupportedParameters {
			switch param {
			case "response_format":
				info.SupportsJSONMode = true
			case "tools":
				info.SupportsTools = true
			}
		}
		models = append(models, info)
	}
	sort.SliceStable(models, func(i, j int) bool {
		return strings.ToLower(models[i].Name) < strings.ToLower(models[j].Name)
	})
	return models, nil
}

func (p *Provider) buildBody(req llm.CompletionRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": req.ConversationMessages(),
	}
	if stream {
		requestBody["stream"] = true
	}
	if req.Temperature > 0 {
		requestBody["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.Format != "" {
		requestBody["response_format"] = map[string]string{"type": req.Format}
	}
	return json.Marshal(requestBody)
}

func (p *Provider) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, apiError(httpResp)
	}
	return httpResp, nil
}

// apiError 从错误响应中提取可读的错误描述
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return fmt.Errorf("%s (status %d)", payload.Error.Message, resp.StatusCode)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s (status %d)", text, resp.StatusCode)
}

// CompleteText 非流式生成
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}
	httpResp, err := p.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return &llm.CompletionResponse{ModelName: response.Model, ProviderName: p.GetName()}, nil
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}

// streamChunk SSE data 行的结构
type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion 实现流式响应
//
// 通道按顺序产出文本片段，最后一条 Done 为 true；出错时最后一条带 Err。
// ctx 取消后 goroutine 退出并关闭通道
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	httpResp, err := p.post(ctx, body, true)
	if err != nil {
		return nil, err
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(httpResp.Body)
		var modelName string

		for {
			line, err := reader.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				if errors.Is(err, io.EOF) {
					// 服务端未发送 [DONE] 就关闭连接，视为正常结束
					send(llm.StreamResponse{FinishReason: "stop", ModelName: modelName, Done: true})
					return
				}
				if ctx.Err() != nil {
					return
				}
				send(llm.StreamResponse{Done: true, FinishReason: "error", Err: fmt.Errorf("read stream: %w", err)})
				return
			}

			line = strings.TrimSpace(line)

			// 空行或注释
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			if line == "[DONE]" {
				send(llm.StreamResponse{FinishReason: "stop", ModelName: modelName, Done: true})
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				msg := chunk.Error.Message
				if msg == "" {
					msg = "stream error"
				}
				send(llm.StreamResponse{Done: true, FinishReason: "error", Err: errors.New(msg)})
				return
			}
			if chunk.Model != "" && modelName == "" {
				modelName = chunk.Model
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !send(llm.StreamResponse{Text: content, ModelName: modelName}) {
					return
				}
			}
			if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
				send(llm.StreamResponse{FinishReason: *fr, ModelName: modelName, Done: true})
				return
			}
		}
	}()

	return respChan, nil
}
