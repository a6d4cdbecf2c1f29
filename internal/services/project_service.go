// internal/services/project_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/storage"
)

// ProjectService 管理项目列表与每个项目的轮次控制器
type ProjectService struct {
	mutex       sync.Mutex
	repo        *storage.Repository
	backend     CompletionBackend
	controllers map[string]*TurnController
	activeID    string
	turnOpts    TurnOptions
	log         *logrus.Entry
	now         func() time.Time
}

// NewProjectService 创建项目服务；turnOpts 用于每个新建的控制器
func NewProjectService(repo *storage.Repository, backend CompletionBackend, turnOpts TurnOptions) *ProjectService {
	log := turnOpts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	now := turnOpts.Now
	if now == nil {
		now = time.Now
	}
	return &ProjectService{
		repo:        repo,
		backend:     backend,
		controllers: make(map[string]*TurnController),
		turnOpts:    turnOpts,
		log:         log.WithField("component", "projects"),
		now:         now,
	}
}

// Init 打开最近更新的项目，没有项目时创建起始项目
func (s *ProjectService) Init(ctx context.Context) (*TurnController, error) {
	summaries, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list projects", err)
	}
	if len(summaries) == 0 {
		return s.Create(ctx, "")
	}
	return s.Open(ctx, summaries[0].ID)
}

// List 项目摘要，按更新时间倒序
func (s *ProjectService) List(ctx context.Context) ([]models.DocumentSummary, error) {
	summaries, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list projects", err)
	}
	return summaries, nil
}

// Create 新建项目并设为当前项目；空白名称使用默认名
func (s *ProjectService) Create(ctx context.Context, name string) (*TurnController, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		clean = models.StarterDocumentName
	}
	doc := models.NewDocument(clean, s.now())
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		return nil, apperrors.NewPersistenceError("failed to save project", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	c := s.newController(doc)
	s.controllers[doc.ID] = c
	s.recordLoaded()
	s.activeID = doc.ID
	s.log.WithFields(logrus.Fields{"project_id": doc.ID, "name": doc.Name}).Info("project created")
	return c, nil
}

// Open 返回项目的控制器并设为当前项目，首次打开时从存储加载
func (s *ProjectService) Open(ctx context.Context, id string) (*TurnController, error) {
	c, err := s.controller(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	s.activeID = id
	s.mutex.Unlock()
	return c, nil
}

// Get 返回项目的控制器，不改变当前项目
func (s *ProjectService) Get(ctx context.Context, id string) (*TurnController, error) {
	return s.controller(ctx, id)
}

// Rename 重命名项目
func (s *ProjectService) Rename(ctx context.Context, id, name string) error {
	c, err := s.controller(ctx, id)
	if err != nil {
		return err
	}
	return c.Rename(ctx, name)
}

// Delete 删除项目；删除当前项目后切换到最近的项目，没有剩余项目时创建起始项目
func (s *ProjectService) Delete(ctx context.Context, id string) (*TurnController, error) {
	if err := storage.ValidateKey(id); err != nil {
		return nil, apperrors.NewValidationError("invalid project id", err)
	}

	s.mutex.Lock()
	if c, loaded := s.controllers[id]; loaded {
		// 持有旧控制器的调用方此后无法再写回该项目
		if err := c.Retire(); err != nil {
			s.mutex.Unlock()
			return nil, err
		}
	}
	delete(s.controllers, id)
	s.recordLoaded()
	wasActive := s.activeID == id
	if wasActive {
		s.activeID = ""
	}
	s.mutex.Unlock()

	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return nil, apperrors.NewPersistenceError("failed to delete project", err)
	}
	s.log.WithField("project_id", id).Info("project deleted")

	if !wasActive {
		return s.Active(), nil
	}
	return s.Init(ctx)
}

// Active 当前项目的控制器，尚未打开任何项目时为 nil
func (s *ProjectService) Active() *TurnController {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.controllers[s.activeID]
}

// Close 关闭所有控制器
func (s *ProjectService) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, c := range s.controllers {
		c.Close()
		delete(s.controllers, id)
	}
	s.recordLoaded()
}

func (s *ProjectService) controller(ctx context.Context, id string) (*TurnController, error) {
	if err := storage.ValidateKey(id); err != nil {
		return nil, apperrors.NewValidationError("invalid project id", err)
	}

	s.mutex.Lock()
	c, ok := s.controllers[id]
	s.mutex.Unlock()
	if ok {
		return c, nil
	}

	doc, err := s.repo.LoadDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("project not found", err)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load project", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	// 并发加载时保留先注册的控制器
	if existing, ok := s.controllers[id]; ok {
		return existing, nil
	}
	c = s.newController(doc)
	s.controllers[id] = c
	s.recordLoaded()
	return c, nil
}

// recordLoaded 更新已加载项目数，调用方持有 s.mutex
func (s *ProjectService) recordLoaded() {
	if s.turnOpts.Metrics != nil {
		s.turnOpts.Metrics.SetGauge("projects_loaded", int64(len(s.controllers)))
	}
}

func (s *ProjectService) newController(doc *models.Document) *TurnController {
	return NewTurnController(doc, s.repo, s.backend, s.turnOpts)
}
