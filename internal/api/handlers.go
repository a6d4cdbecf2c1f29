// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Projects  *services.ProjectService  // 项目与轮次
	Settings  *services.SettingsService // API 密钥与模型
	LLM       *services.LLMService      // 生成后端状态
	Metrics   *utils.APIMetrics         // 请求指标
	WebSocket *WebSocketHandler         // WebSocket 处理器
	Limiter   *RateLimiter              // 限流
	Response  *ResponseHelper           // 响应助手
	log       *logrus.Entry
	started   time.Time
}

// NewHandler 创建处理器
func NewHandler(
	projects *services.ProjectService,
	settings *services.SettingsService,
	llmService *services.LLMService,
	metrics *utils.APIMetrics,
	log *logrus.Entry) *Handler {

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "api")
	return &Handler{
		Projects:  projects,
		Settings:  settings,
		LLM:       llmService,
		Metrics:   metrics,
		WebSocket: NewWebSocketHandler(projects, metrics, log),
		Limiter:   NewRateLimiter(),
		Response:  NewResponseHelper(),
		log:       log,
		started:   time.Now(),
	}
}

// CreateProjectRequest 创建项目
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// UpdateProjectRequest 重命名项目
type UpdateProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// SendMessageRequest 发送一条用户消息
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// TurnView 轮次状态
type TurnView struct {
	ProjectID     string              `json:"projectId"`
	Status        services.TurnStatus `json:"status"`
	StreamingText string              `json:"streamingText"`
	InFlight      bool                `json:"inFlight"`
}

// ProjectListView 项目列表及当前活动项目
type ProjectListView struct {
	Projects []models.DocumentSummary `json:"projects"`
	ActiveID string                   `json:"activeId,omitempty"`
}

// SettingsView 对外展示的设置，不包含密钥本身
type SettingsView struct {
	HasAPIKey  bool   `json:"hasApiKey"`
	Model      string `json:"model"`
	Ready      bool   `json:"ready"`
	ReadyState string `json:"readyState"`
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":     "ok",
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"llm_ready":  h.LLM.IsReady(),
		"llm_state":  h.LLM.GetReadyState(),
		"provider":   h.LLM.GetProviderName(),
		"ws_clients": h.WebSocket.manager.Count(),
	})
}

// ListProjects 获取项目列表
func (h *Handler) ListProjects(c *gin.Context) {
	summaries, err := h.Projects.List(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	view := ProjectListView{Projects: summaries}
	if active := h.Projects.Active(); active != nil {
		view.ActiveID = active.ProjectID()
	}
	h.Response.Success(c, view)
}

// CreateProject 创建项目并设为活动项目
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Response.BadRequest(c, "Invalid request body", err.Error())
			return
		}
	}

	controller, err := h.Projects.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, controller.Document(), "Project created")
}

// GetProject 获取项目文档；?open=true 时同时设为活动项目
func (h *Handler) GetProject(c *gin.Context) {
	id := c.Param("id")

	var (
		controller *services.TurnController
		err        error
	)
	if open, _ := strconv.ParseBool(c.Query("open")); open {
		controller, err = h.Projects.Open(c.Request.Context(), id)
	} else {
		controller, err = h.Projects.Get(c.Request.Context(), id)
	}
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, controller.Document())
}

// UpdateProject 重命名项目
func (h *Handler) UpdateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.Response.BadRequest(c, "Project name must not be blank")
		return
	}

	id := c.Param("id")
	if err := h.Projects.Rename(c.Request.Context(), id, req.Name); err != nil {
		h.Response.FromError(c, err)
		return
	}
	controller, err := h.Projects.Get(c.Request.Context(), id)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, controller.Document(), "Project renamed")
}

// DeleteProject 删除项目
func (h *Handler) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	active, err := h.Projects.Delete(c.Request.Context(), id)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	data := gin.H{"deleted": id}
	if active != nil {
		data["activeId"] = active.ProjectID()
	}
	h.Response.Success(c, data, "Project deleted")
}

// SendMessage 提交用户消息并执行一轮对话
//
// 默认等待轮次结束后返回文档；?async=true 时立即返回 202，进度通过 WebSocket 推送
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.Response.BadRequest(c, "Message content must not be blank")
		return
	}

	controller, err := h.Projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	// 客户端断开不取消轮次，取消走 /cancel
	ctx := context.WithoutCancel(c.Request.Context())

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		// 返回 202 之前轮次已被占用，并发请求得到 409
		done, err := controller.Start(ctx, req.Content)
		if err != nil {
			h.Response.FromError(c, err)
			return
		}
		projectID := controller.ProjectID()
		go func() {
			if err := <-done; err != nil {
				h.log.WithError(err).WithField("project_id", projectID).Warn("async turn failed")
			}
		}()
		h.Response.Accepted(c, h.turnView(controller), "Turn started")
		return
	}

	if err := controller.Submit(ctx, req.Content); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, controller.Document())
}

// CancelTurn 取消进行中的轮次
func (h *Handler) CancelTurn(c *gin.Context) {
	controller, err := h.Projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	cancelled := controller.Cancel()
	message := "No turn in progress"
	if cancelled {
		message = "Turn cancelled"
	}
	h.Response.Success(c, gin.H{"cancelled": cancelled}, message)
}

// GetTurn 获取轮次状态
func (h *Handler) GetTurn(c *gin.Context) {
	controller, err := h.Projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.turnView(controller))
}

// GetSettings 获取设置
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.settingsView())
}

// UpdateSettings 修改 API 密钥或模型
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch services.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.Response.BadRequest(c, "Invalid request body", err.Error())
		return
	}
	if _, err := h.Settings.Update(c.Request.Context(), patch); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.settingsView(), "Settings updated")
}

// GetLLMModels 获取模型目录；当前模型不在目录中时切换到第一个
func (h *Handler) GetLLMModels(c *gin.Context) {
	catalog, err := h.Settings.RefreshModels(c.Request.Context())
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordError("model_catalog", "llm")
		}
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"models":   catalog,
		"selected": h.Settings.Get().Model,
	})
}

// GetSchema 回复信封的 JSON Schema
func (h *Handler) GetSchema(c *gin.Context) {
	c.JSON(http.StatusOK, models.ReplySchema())
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	if h.Metrics == nil {
		h.Response.Success(c, utils.MetricsSnapshot{})
		return
	}
	h.Response.Success(c, h.Metrics.Collector().Snapshot())
}

func (h *Handler) turnView(controller *services.TurnController) TurnView {
	return TurnView{
		ProjectID:     controller.ProjectID(),
		Status:        controller.Status(),
		StreamingText: controller.StreamingText(),
		InFlight:      controller.InFlight(),
	}
}

func (h *Handler) settingsView() SettingsView {
	return SettingsView{
		HasAPIKey:  h.Settings.EffectiveAPIKey() != "",
		Model:      h.Settings.Get().Model,
		Ready:      h.LLM.IsReady(),
		ReadyState: h.LLM.GetReadyState(),
	}
}
