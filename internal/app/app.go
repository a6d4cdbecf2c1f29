// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/api"
	"github.com/sumanurawat/storyboarder/internal/config"
	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/llm/providers/openrouter"
	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
	"github.com/sumanurawat/storyboarder/internal/storage"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// shutdownTimeout 优雅关闭的最长等待时间
const shutdownTimeout = 30 * time.Second

// App 持有全部服务，按依赖顺序创建
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Backend  storage.Backend
	Repo     *storage.Repository
	Metrics  *utils.MetricsCollector
	LLM      *services.LLMService
	Settings *services.SettingsService
	Projects *services.ProjectService
	Handler  *api.Handler
	Router   *gin.Engine

	logCloser io.Closer
	log       *logrus.Entry
}

// New 创建应用：日志、存储、LLM、设置、项目、HTTP 路由
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, closer, err := utils.NewLogger(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := NewWithLogger(ctx, cfg, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	a.logCloser = closer
	return a, nil
}

// NewWithLogger 使用给定日志器创建应用
func NewWithLogger(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: utils.NewMetricsCollector(),
		log:     utils.Component(logger, "app"),
	}

	if cfg.StoreBackend == storage.KindFile {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	backend, err := storage.Open(ctx, storage.Options{
		Kind:        cfg.StoreBackend,
		DataDir:     cfg.DataDir,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	a.Backend = backend
	a.Repo = storage.NewRepository(backend, utils.Component(logger, "storage"))
	a.log.WithField("backend", cfg.StoreBackend).Info("store opened")

	a.LLM = services.NewLLMService(openrouter.ProviderName, cfg.OpenRouterBaseURL, utils.Component(logger, "llm"))

	a.Settings = services.NewSettingsService(a.Repo, a.LLM, cfg.SettingsSecret, cfg.OpenRouterAPIKey, utils.Component(logger, "settings"))
	settings, err := a.Settings.Load(ctx)
	if apperrors.IsPersistenceError(err) {
		a.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err != nil {
		// 凭据无效不阻止启动，用户可在设置中修正
		a.log.WithError(err).Warn("llm provider not configured")
	}
	if cfg.DefaultModel != "" && settings.Model == models.DefaultModel && cfg.DefaultModel != settings.Model {
		if _, err := a.Settings.SetModel(ctx, cfg.DefaultModel); err != nil {
			a.log.WithError(err).Warn("failed to apply DEFAULT_MODEL")
		}
	}

	a.Projects = services.NewProjectService(a.Repo, a.LLM, services.TurnOptions{
		Timeout: cfg.TurnTimeout,
		Metrics: a.Metrics,
		Log:     utils.Component(logger, "turn"),
	})
	active, err := a.Projects.Init(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init projects: %w", err)
	}
	a.log.WithField("project_id", active.ProjectID()).Info("active project loaded")

	apiMetrics := utils.NewAPIMetrics(a.Metrics, utils.Component(logger, "metrics"))
	a.Handler = api.NewHandler(a.Projects, a.Settings, a.LLM, apiMetrics, utils.Component(logger, "api"))
	a.Router = api.NewRouter(a.Handler, cfg.DebugMode)
	return a, nil
}

// Run 启动 HTTP 服务器，ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Addr(),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Handler.Metrics.StartMetricsCollection(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// WebSocket 连接不受 Shutdown 管理，先行关闭
	a.Handler.WebSocket.Manager().Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

// Close 取消进行中的轮次并释放存储与日志文件
func (a *App) Close() error {
	if a.Projects != nil {
		a.Projects.Close()
	}
	var errs []error
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
