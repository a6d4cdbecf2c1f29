// internal/services/settings_service.go
package services

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/llm"
	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/storage"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// CredentialTarget 接收凭据变更并提供模型目录
type CredentialTarget interface {
	UpdateCredentials(apiKey, model string) error
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// SettingsPatch PUT /api/settings 的请求体，nil 字段不修改
type SettingsPatch struct {
	APIKey *string `json:"apiKey,omitempty"`
	Model  *string `json:"model,omitempty"`
}

// SettingsService 管理 API 密钥与模型选择
type SettingsService struct {
	mutex       sync.Mutex
	repo        *storage.Repository
	target      CredentialTarget
	secret      string
	fallbackKey string
	current     models.Settings
	log         *logrus.Entry
}

// NewSettingsService 创建设置服务
//
// secret 非空时 API 密钥加密存储；fallbackKey 在设置中没有密钥时使用，不会写入存储
func NewSettingsService(repo *storage.Repository, target CredentialTarget, secret, fallbackKey string, log *logrus.Entry) *SettingsService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SettingsService{
		repo:        repo,
		target:      target,
		secret:      secret,
		fallbackKey: strings.TrimSpace(fallbackKey),
		current:     models.DefaultSettings(),
		log:         log.WithField("component", "settings"),
	}
}

// Load 从存储读取设置并推送凭据
func (s *SettingsService) Load(ctx context.Context) (models.Settings, error) {
	stored, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return models.Settings{}, apperrors.NewPersistenceError("failed to load settings", err)
	}
	key, err := utils.OpenSecret(stored.APIKey, s.secret)
	if err != nil {
		s.log.WithError(err).Warn("stored api key could not be decrypted, ignoring it")
		key = ""
	}
	stored.APIKey = strings.TrimSpace(key)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.current = stored
	return s.current, s.push()
}

// Get 当前设置
func (s *SettingsService) Get() models.Settings {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

// EffectiveAPIKey 设置中的密钥，缺失时使用环境变量提供的密钥
func (s *SettingsService) EffectiveAPIKey() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.effectiveKey()
}

// SetAPIKey 保存 API 密钥；空白表示清除
func (s *SettingsService) SetAPIKey(ctx context.Context, apiKey string) (models.Settings, error) {
	clean := strings.TrimSpace(apiKey)
	return s.Update(ctx, SettingsPatch{APIKey: &clean})
}

// SetModel 保存模型；空白恢复默认模型
func (s *SettingsService) SetModel(ctx context.Context, model string) (models.Settings, error) {
	return s.Update(ctx, SettingsPatch{Model: &model})
}

// Update 应用部分修改、持久化并推送凭据
func (s *SettingsService) Update(ctx context.Context, patch SettingsPatch) (models.Settings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next := s.current
	if patch.APIKey != nil {
		next.APIKey = strings.TrimSpace(*patch.APIKey)
	}
	if patch.Model != nil {
		next.Model = strings.TrimSpace(*patch.Model)
		if next.Model == "" {
			next.Model = models.DefaultModel
		}
	}

	if err := s.save(ctx, next); err != nil {
		return s.current, err
	}
	s.current = next
	return s.current, s.push()
}

// RefreshModels 读取模型目录；当前模型不在目录中时切换到第一个模型
func (s *SettingsService) RefreshModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if s.EffectiveAPIKey() == "" {
		return []llm.ModelInfo{}, nil
	}
	catalog, err := s.target.ListModels(ctx)
	if err != nil {
		return nil, apperrors.NewBackendError("failed to load OpenRouter models", err)
	}
	if len(catalog) == 0 {
		return catalog, nil
	}

	selected := s.Get().Model
	for _, m := range catalog {
		if m.ID == selected {
			return catalog, nil
		}
	}
	s.log.WithFields(logrus.Fields{"from": selected, "to": catalog[0].ID}).Info("selected model not in catalog, switching")
	if _, err := s.SetModel(ctx, catalog[0].ID); err != nil {
		return catalog, err
	}
	return catalog, nil
}

func (s *SettingsService) save(ctx context.Context, settings models.Settings) error {
	sealed, err := utils.SealSecret(settings.APIKey, s.secret)
	if err != nil {
		return apperrors.NewProcessingError("failed to encrypt api key", err)
	}
	settings.APIKey = sealed
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return apperrors.NewPersistenceError("failed to save settings", err)
	}
	return nil
}

func (s *SettingsService) effectiveKey() string {
	if s.current.APIKey != "" {
		return s.current.APIKey
	}
	return s.fallbackKey
}

// push 调用方需持有 mutex
func (s *SettingsService) push() error {
	if s.target == nil {
		return nil
	}
	if err := s.target.UpdateCredentials(s.effectiveKey(), s.current.Model); err != nil {
		return apperrors.NewBackendError("failed to configure llm provider", err)
	}
	return nil
}
