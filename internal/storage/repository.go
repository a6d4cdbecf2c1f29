// internal/storage/repository.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/models"
)

const (
	// ProjectsNamespace 项目文档所在命名空间
	ProjectsNamespace = "projects"
	// SettingsNamespace 设置所在命名空间
	SettingsNamespace = "settings"
	// SettingsKey 设置的固定键
	SettingsKey = "app"
)

// Repository 在 Backend 之上提供项目与设置的读写
type Repository struct {
	backend Backend
	log     *logrus.Entry
	now     func() time.Time
}

// NewRepository 创建仓库
func NewRepository(backend Backend, log *logrus.Entry) *Repository {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Repository{
		backend: backend,
		log:     log.WithField("component", "repository"),
		now:     time.Now,
	}
}

// Backend 返回底层存储
func (r *Repository) Backend() Backend {
	return r.backend
}

// SaveDocument 保存项目文档
func (r *Repository) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := r.backend.Put(ctx, ProjectsNamespace, doc.ID, data); err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// LoadDocument 读取项目文档并补全缺失字段；不存在时返回 ErrNotFound
func (r *Repository) LoadDocument(ctx context.Context, id string) (*models.Document, error) {
	data, err := r.backend.Get(ctx, ProjectsNamespace, id)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return models.NormalizeDocument(&doc, r.now()), nil
}

// ListDocuments 返回项目摘要，按更新时间倒序；无法解析的数据块被跳过
func (r *Repository) ListDocuments(ctx context.Context) ([]models.DocumentSummary, error) {
	blobs, err := r.backend.List(ctx, ProjectsNamespace)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	summaries := make([]models.DocumentSummary, 0, len(blobs))
	for _, blob := range blobs {
		var s models.DocumentSummary
		if err := json.Unmarshal(blob, &s); err != nil || s.ID == "" {
			r.log.WithError(err).Warn("skipping unreadable project blob")
			continue
		}
		if s.Name == "" {
			s.Name = models.DefaultDocumentName
		}
		summaries = append(summaries, s)
	}

	SortSummaries(summaries)
	return summaries, nil
}

// SortSummaries 按更新时间倒序，时间相同时按 ID 排序
func SortSummaries(summaries []models.DocumentSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
}

// DeleteDocument 删除项目
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	if err := r.backend.Delete(ctx, ProjectsNamespace, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// LoadSettings 读取设置；不存在或损坏时返回默认值
func (r *Repository) LoadSettings(ctx context.Context) (models.Settings, error) {
	settings := models.DefaultSettings()
	data, err := r.backend.Get(ctx, SettingsNamespace, SettingsKey)
	if errors.Is(err, ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		r.log.WithError(err).Warn("settings blob is corrupt, using defaults")
		return models.DefaultSettings(), nil
	}
	if settings.Model == "" {
		settings.Model = models.DefaultModel
	}
	return settings, nil
}

// SaveSettings 保存设置
func (r *Repository) SaveSettings(ctx context.Context, settings models.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := r.backend.Put(ctx, SettingsNamespace, SettingsKey, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
