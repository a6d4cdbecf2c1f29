// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/llm"
	"github.com/sumanurawat/storyboarder/internal/models"
)

// ErrLLMNotReady 未配置可用的提供者
var ErrLLMNotReady = errors.New("llm service not ready")

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	baseURL            string
	isReady            bool
	readyState         string
	activeDefaultModel string
	log                *logrus.Entry
}

// NewLLMService 创建未就绪的服务，需调用 UpdateCredentials 设置密钥
func NewLLMService(providerName, baseURL string, log *logrus.Entry) *LLMService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LLMService{
		providerName:       providerName,
		baseURL:            baseURL,
		readyState:         "API key not configured",
		activeDefaultModel: models.DefaultModel,
		log:                log.WithField("component", "llm"),
	}
}

// UpdateCredentials 根据 API 密钥与模型重建提供者；密钥为空时服务变为未就绪
func (s *LLMService) UpdateCredentials(apiKey, model string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		s.providerMutex.Lock()
		s.provider = nil
		s.isReady = false
		s.readyState = "API key not configured"
		if model != "" {
			s.activeDefaultModel = model
		}
		s.providerMutex.Unlock()
		return nil
	}

	cfg := map[string]string{
		"api_key":       apiKey,
		"default_model": model,
	}
	if s.baseURL != "" {
		cfg["base_url"] = s.baseURL
	}
	return s.UpdateProvider(s.providerName, cfg)
}

// UpdateProvider 切换提供者
func (s *LLMService) UpdateProvider(providerName string, config map[string]string) error {
	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}
	s.SetProvider(providerName, provider, config["default_model"])
	return nil
}

// SetProvider 直接设置已初始化的提供者
func (s *LLMService) SetProvider(providerName string, provider llm.Provider, defaultModel string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	if defaultModel != "" {
		s.activeDefaultModel = defaultModel
	}
	s.isReady = provider != nil
	s.readyState = "Ready"
	if provider == nil {
		s.readyState = "API key not configured"
	}
	s.log.WithFields(logrus.Fields{"provider": providerName, "model": s.activeDefaultModel}).Info("llm provider configured")
}

// IsReady 是否已配置可用提供者
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// HasCredential 是否持有可用凭据
func (s *LLMService) HasCredential() bool {
	return s.IsReady()
}

// GetReadyState 就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 当前默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.activeDefaultModel
}

func (s *LLMService) resolveModel(requestedModel string) string {
	if m := strings.TrimSpace(requestedModel); m != "" {
		return m
	}
	if s.activeDefaultModel != "" {
		return s.activeDefaultModel
	}
	return models.DefaultModel
}

func (s *LLMService) activeProvider() (llm.Provider, string, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil || !s.isReady {
		return nil, "", fmt.Errorf("%w: %s", ErrLLMNotReady, s.readyState)
	}
	return s.provider, s.activeDefaultModel, nil
}

// Stream 流式生成
func (s *LLMService) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	provider, _, err := s.activeProvider()
	if err != nil {
		return nil, err
	}
	s.providerMutex.RLock()
	req.Model = s.resolveModel(req.Model)
	s.providerMutex.RUnlock()
	return provider.StreamCompletion(ctx, req)
}

// Complete 非流式生成，要求模型输出 JSON 对象
func (s *LLMService) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider, _, err := s.activeProvider()
	if err != nil {
		return nil, err
	}
	s.providerMutex.RLock()
	req.Model = s.resolveModel(req.Model)
	s.providerMutex.RUnlock()
	if req.Format == "" {
		req.Format = "json_object"
	}
	return provider.CompleteText(ctx, req)
}

// ListModels 返回模型目录
func (s *LLMService) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	provider, _, err := s.activeProvider()
	if err != nil {
		return nil, err
	}
	return provider.FetchAvailableModels(ctx)
}
