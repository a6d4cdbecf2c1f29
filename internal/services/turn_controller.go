// internal/services/turn_controller.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/sumanurawat/storyboarder/internal/errors"
	"github.com/sumanurawat/storyboarder/internal/llm"
	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// TurnStatus 对话轮次状态
type TurnStatus string

const (
	TurnIdle       TurnStatus = "idle"
	TurnSending    TurnStatus = "sending"
	TurnStreaming  TurnStatus = "streaming"
	TurnFinalizing TurnStatus = "finalizing"
	TurnFailed     TurnStatus = "failed"
)

const (
	// DefaultTurnTimeout 单轮流式响应的最长时间
	DefaultTurnTimeout = 3 * time.Minute

	MissingCredentialMessage = "Add your OpenRouter API key in Settings to start AI storyboarding."
	backendErrorPrefix       = "OpenRouter error: "
	backendErrorFallback     = "Unable to process request."
)

var (
	// ErrTurnInFlight 当前项目已有进行中的轮次
	ErrTurnInFlight = apperrors.NewConflictError("a turn is already in progress for this project", nil)
	// ErrProjectClosed 控制器已关闭，项目被删除或服务正在退出
	ErrProjectClosed = apperrors.NewNotFoundError("project is closed", nil)
)

// CompletionBackend 轮次所需的流式生成能力
type CompletionBackend interface {
	HasCredential() bool
	Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error)
}

// DocumentStore 轮次所需的持久化能力
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
}

// TurnOptions 可选依赖
type TurnOptions struct {
	Timeout    time.Duration
	Reconciler *Reconciler
	Metrics    *utils.MetricsCollector
	Log        *logrus.Entry
	Now        func() time.Time
}

// TurnController 管理单个项目文档的对话轮次，同一时刻最多一轮
type TurnController struct {
	mutex     sync.RWMutex
	doc       *models.Document
	status    TurnStatus
	streaming string
	inFlight  bool
	closed    bool
	cancel    context.CancelFunc

	store      DocumentStore
	backend    CompletionBackend
	reconciler *Reconciler
	hub        *turnHub
	metrics    *utils.MetricsCollector
	log        *logrus.Entry
	timeout    time.Duration
	now        func() time.Time
}

// NewTurnController 创建轮次控制器，持有 doc 的所有权
func NewTurnController(doc *models.Document, store DocumentStore, backend CompletionBackend, opts TurnOptions) *TurnController {
	c := &TurnController{
		doc:        doc,
		status:     TurnIdle,
		store:      store,
		backend:    backend,
		reconciler: opts.Reconciler,
		hub:        newTurnHub(),
		metrics:    opts.Metrics,
		log:        opts.Log,
		timeout:    opts.Timeout,
		now:        opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.reconciler == nil {
		c.reconciler = NewReconciler()
		c.reconciler.Now = c.now
	}
	if c.metrics == nil {
		c.metrics = utils.NewMetricsCollector()
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.log.WithFields(logrus.Fields{"component": "turn", "project_id": doc.ID})
	if c.timeout <= 0 {
		c.timeout = DefaultTurnTimeout
	}
	return c
}

// ProjectID 文档 ID
func (c *TurnController) ProjectID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.doc.ID
}

// Document 当前文档的深拷贝
func (c *TurnController) Document() *models.Document {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.doc.Clone()
}

// Status 当前轮次状态
func (c *TurnController) Status() TurnStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status
}

// StreamingText 当前累积的流式文本
func (c *TurnController) StreamingText() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.streaming
}

// InFlight 是否有进行中的轮次
func (c *TurnController) InFlight() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.inFlight
}

// Subscribe 订阅状态推送
func (c *TurnController) Subscribe() <-chan TurnUpdate {
	return c.hub.subscribe()
}

// Unsubscribe 取消订阅并关闭通道
func (c *TurnController) Unsubscribe(ch <-chan TurnUpdate) {
	c.hub.unsubscribe(ch)
}

// Close 关闭所有订阅并取消进行中的轮次；之后的 Submit 和 Rename 返回 ErrProjectClosed
func (c *TurnController) Close() {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	c.Cancel()
	c.hub.closeAll()
}

// Retire 在没有进行中轮次时关闭控制器，用于删除项目
func (c *TurnController) Retire() error {
	c.mutex.Lock()
	if c.inFlight {
		c.mutex.Unlock()
		return ErrTurnInFlight
	}
	c.closed = true
	c.mutex.Unlock()
	c.hub.closeAll()
	return nil
}

// Cancel 取消进行中的轮次；没有轮次时返回 false
func (c *TurnController) Cancel() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Rename 重命名文档；空白名称忽略，轮次进行中时拒绝
func (c *TurnController) Rename(ctx context.Context, name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return nil
	}
	if _, err := c.begin(ctx); err != nil {
		return err
	}
	defer c.finish(TurnIdle)

	c.mutate(func(d *models.Document) {
		d.Name = clean
		d.UpdatedAt = c.now()
	})
	return c.persist(ctx)
}

// Submit 执行一轮对话
//
// 只有持久化失败会作为错误返回；生成端的错误写入一条助手消息
func (c *TurnController) Submit(ctx context.Context, userText string) error {
	text := strings.TrimSpace(userText)
	if text == "" {
		return nil
	}
	turnCtx, err := c.claim(ctx)
	if err != nil {
		return err
	}
	return c.run(ctx, turnCtx, text)
}

// Start 同步占用轮次后在后台执行，返回的通道在轮次结束时给出 Submit 的结果
func (c *TurnController) Start(ctx context.Context, userText string) (<-chan error, error) {
	done := make(chan error, 1)
	text := strings.TrimSpace(userText)
	if text == "" {
		close(done)
		return done, nil
	}
	turnCtx, err := c.claim(ctx)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(done)
		done <- c.run(ctx, turnCtx, text)
	}()
	return done, nil
}

func (c *TurnController) claim(ctx context.Context) (context.Context, error) {
	turnCtx, err := c.begin(ctx)
	if errors.Is(err, ErrTurnInFlight) {
		c.metrics.IncrementCounter("turns_rejected")
	}
	return turnCtx, err
}

func (c *TurnController) run(ctx, turnCtx context.Context, text string) error {
	started := c.now()
	c.metrics.IncrementCounter("turns_started")
	c.metrics.IncGauge("turns_active")
	defer c.metrics.DecGauge("turns_active")

	c.mutate(func(d *models.Document) {
		d.AppendMessage(models.RoleUser, text, started)
		d.UpdatedAt = started
	})

	if !c.backend.HasCredential() {
		c.metrics.IncrementCounter("turns_missing_credential")
		c.mutate(func(d *models.Document) {
			d.AppendMessage(models.RoleAssistant, MissingCredentialMessage, c.now())
		})
		defer c.finish(TurnIdle)
		return c.persist(ctx)
	}

	c.setStatus(TurnSending)
	if err := c.persist(ctx); err != nil {
		c.finish(TurnIdle)
		return err
	}

	streamCtx, cancel := context.WithTimeout(turnCtx, c.timeout)
	defer cancel()

	reply, err := c.stream(streamCtx)
	if err != nil {
		return c.fail(ctx, err, started)
	}
	return c.complete(ctx, reply, started)
}

// stream 消费生成通道，累积文本并推送
func (c *TurnController) stream(ctx context.Context) (string, error) {
	snapshot := c.Document()
	req := llm.CompletionRequest{
		SystemPrompt: ComposeSystemPrompt(snapshot.Storyboard, snapshot.Entities),
		Messages:     make([]llm.Message, 0, len(snapshot.Messages)),
	}
	for _, m := range snapshot.Messages {
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	ch, err := c.backend.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	c.setStatus(TurnStreaming)

	var acc strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				return acc.String(), nil
			}
			if r.Err != nil {
				return "", r.Err
			}
			if r.Text != "" {
				acc.WriteString(r.Text)
				c.setStreaming(acc.String())
			}
			if r.Done {
				return acc.String(), nil
			}
		}
	}
}

func (c *TurnController) complete(ctx context.Context, reply string, started time.Time) error {
	c.setStatus(TurnFinalizing)
	parsed := ParseReply(reply)

	var report ReconcileReport
	c.mutex.Lock()
	c.doc.AppendMessage(models.RoleAssistant, parsed.ChatText, c.now())
	c.doc, report = c.reconciler.Apply(c.doc, parsed.Envelope)
	c.mutex.Unlock()

	c.log.WithFields(report.Fields()).WithField("structured", parsed.Structured).Info("turn completed")
	c.metrics.IncrementCounter("turns_completed")
	c.metrics.RecordDuration("turn_duration_ms", c.now().Sub(started))

	defer c.finish(TurnIdle)
	return c.persist(ctx)
}

func (c *TurnController) fail(ctx context.Context, cause error, started time.Time) error {
	c.setStatus(TurnFailed)
	desc := c.describe(cause)
	c.log.WithError(cause).Warn("turn failed")
	c.metrics.IncrementCounter("turns_failed")
	c.metrics.RecordDuration("turn_duration_ms", c.now().Sub(started))

	at := c.now()
	c.mutate(func(d *models.Document) {
		d.AppendMessage(models.RoleAssistant, backendErrorPrefix+desc, at)
		d.UpdatedAt = at
	})

	defer c.finish(TurnIdle)
	return c.persist(ctx)
}

func (c *TurnController) describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Request timed out after %s.", c.timeout)
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	}
	if desc := strings.TrimSpace(err.Error()); desc != "" {
		return desc
	}
	return backendErrorFallback
}

// persist 保存当前文档；调用方的 ctx 被取消时仍完成写入
func (c *TurnController) persist(ctx context.Context) error {
	snapshot := c.Document()
	if err := c.store.SaveDocument(context.WithoutCancel(ctx), snapshot); err != nil {
		c.metrics.IncrementCounter("persistence_failures")
		c.log.WithError(err).Error("failed to save project")
		return apperrors.NewPersistenceError("failed to save project", err)
	}
	return nil
}

// begin 占用轮次并创建可被 Cancel 取消的上下文
func (c *TurnController) begin(ctx context.Context) (context.Context, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil, ErrProjectClosed
	}
	if c.inFlight {
		return nil, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.inFlight = true
	c.cancel = cancel
	return turnCtx, nil
}

// finish 结束轮次并推送最终文档
func (c *TurnController) finish(status TurnStatus) {
	c.mutex.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.inFlight = false
	c.cancel = nil
	c.status = status
	c.streaming = ""
	update := TurnUpdate{ProjectID: c.doc.ID, Status: status, Document: c.doc.Clone()}
	c.mutex.Unlock()

	c.hub.publish(update)
}

func (c *TurnController) mutate(fn func(d *models.Document)) {
	c.mutex.Lock()
	fn(c.doc)
	c.mutex.Unlock()
}

func (c *TurnController) setStatus(status TurnStatus) {
	c.mutex.Lock()
	c.status = status
	update := TurnUpdate{ProjectID: c.doc.ID, Status: status, StreamingText: c.streaming}
	c.mutex.Unlock()

	c.hub.publish(update)
}

func (c *TurnController) setStreaming(text string) {
	c.mutex.Lock()
	c.streaming = text
	update := TurnUpdate{ProjectID: c.doc.ID, Status: c.status, StreamingText: text}
	c.mutex.Unlock()

	c.hub.publish(update)
}
