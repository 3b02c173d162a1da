package httptransport

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devinbox/backend/internal/auth"
	"devinbox/backend/internal/config"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/middleware"
	"devinbox/backend/internal/service"
	"devinbox/backend/internal/storage"
)

// Handler 聚合控制台资源的 HTTP 处理逻辑。
type Handler struct {
	projects   *service.ProjectService
	messages   *service.MessageService
	baseDomain string
	log        *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	ProjectService *service.ProjectService
	MessageService *service.MessageService
	AuthService    *auth.Service
	Monitoring     *middleware.MonitoringMiddleware // 可为 nil，禁用 HTTP 指标采集
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	if deps.Monitoring != nil {
		router.Use(deps.Monitoring.HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		projects:   deps.ProjectService,
		messages:   deps.MessageService,
		baseDomain: deps.Config.SMTP.BaseDomain,
		log:        log,
	}

	authHandler := NewAuthHandler(deps.AuthService, log)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService, log)

	// 健康检查（简单探活，详细检查挂在 /health/live 和 /health/ready）
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	// ========== 认证路由 ==========
	authRoutes := v1.Group("/auth")
	{
		authRoutes.GET("/setup", authHandler.SetupStatus)
		authRoutes.POST("/setup", authHandler.Setup)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/refresh", authHandler.Refresh)
		authRoutes.POST("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
		authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
		authRoutes.POST("/change-password", jwtAuth.RequireAuth(), authHandler.ChangePassword)
	}

	// ========== 项目路由 ==========
	projects := v1.Group("/projects")
	projects.Use(jwtAuth.RequireAuth())
	{
		projects.POST("", handler.createProject)
		projects.GET("", handler.listProjects)
		projects.GET("/:id", handler.getProject)
		projects.PATCH("/:id", handler.updateProject)
		projects.DELETE("/:id", handler.deleteProject)

		// ========== 邮件路由 ==========
		projects.GET("/:id/emails", handler.listEmails)
		projects.GET("/:id/emails/:emailId", handler.getEmail)
		projects.PATCH("/:id/emails/:emailId/read", handler.setEmailRead)
		projects.DELETE("/:id/emails/:emailId", handler.deleteEmail)
		projects.GET("/:id/emails/:emailId/attachments/:attachmentId", handler.downloadAttachment)
	}

	return router
}

// ========== 响应结构 ==========

type projectResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	InboxAddress string    `json:"inboxAddress"`
	EmailCount   int64     `json:"emailCount"`
	UnreadCount  int64     `json:"unreadCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (h *Handler) toProjectResponse(p *domain.Project) projectResponse {
	total, unread, err := h.messages.Counts(p.ID)
	if err != nil {
		// 计数失败不阻塞项目信息返回
		h.log.Warn("failed to count project emails",
			zap.String("project_id", p.ID),
			zap.Error(err),
		)
	}
	return projectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Slug:         p.Slug,
		Description:  p.Description,
		InboxAddress: p.InboxAddress(h.baseDomain),
		EmailCount:   total,
		UnreadCount:  unread,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type attachmentInfo struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type messageResponse struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     *string           `json:"subject"`
	BodyText    *string           `json:"text,omitempty"`
	BodyHTML    *string           `json:"html,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RawSize     int64             `json:"rawSize"`
	IsRead      bool              `json:"isRead"`
	ReceivedAt  time.Time         `json:"receivedAt"`
	Attachments []attachmentInfo  `json:"attachments"`
}

// toMessageResponse 转换完整邮件详情。
func toMessageResponse(m *domain.Message) messageResponse {
	attachments := make([]attachmentInfo, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, attachmentInfo{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return messageResponse{
		ID:          m.ID,
		From:        m.From,
		To:          m.Recipients,
		Subject:     m.Subject,
		BodyText:    m.BodyText,
		BodyHTML:    m.BodyHTML,
		Headers:     m.Headers,
		RawSize:     m.RawSize,
		IsRead:      m.IsRead,
		ReceivedAt:  m.ReceivedAt,
		Attachments: attachments,
	}
}

// messageSummary 是列表项，省略正文和头部以减小响应体积。
type messageSummary struct {
	ID              string    `json:"id"`
	From            string    `json:"from"`
	To              []string  `json:"to"`
	Subject         *string   `json:"subject"`
	RawSize         int64     `json:"rawSize"`
	IsRead          bool      `json:"isRead"`
	AttachmentCount int       `json:"attachmentCount"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

func toMessageSummary(m *domain.Message) messageSummary {
	return messageSummary{
		ID:              m.ID,
		From:            m.From,
		To:              m.Recipients,
		Subject:         m.Subject,
		RawSize:         m.RawSize,
		IsRead:          m.IsRead,
		AttachmentCount: len(m.Attachments),
		ReceivedAt:      m.ReceivedAt,
	}
}

// ========== 项目处理器 ==========

// createProject 创建项目
// @Summary 创建项目
// @Tags 项目
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body domain.CreateProjectRequest true "项目名称和别名"
// @Success 201 {object} projectResponse
// @Failure 409 {object} Response "别名已被占用"
// @Router /v1/projects [post]
func (h *Handler) createProject(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req domain.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	project, err := h.projects.Create(account.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSlugTaken):
			Conflict(c, GetErrorMessage(err))
		case errors.Is(err, domain.ErrInvalidSlug),
			errors.Is(err, domain.ErrSlugTooLong),
			errors.Is(err, domain.ErrProjectNameEmpty),
			errors.Is(err, domain.ErrProjectNameLong):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to create project", zap.Error(err))
			InternalError(c, MsgProjectCreateFailed)
		}
		return
	}

	h.log.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("slug", project.Slug),
		zap.String("account_id", account.ID),
	)

	Created(c, h.toProjectResponse(project))
}

// listProjects 列出当前账号的所有项目
// @Summary 项目列表
// @Tags 项目
// @Produce json
// @Security BearerAuth
// @Success 200 {array} projectResponse
// @Router /v1/projects [get]
func (h *Handler) listProjects(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	projects, err := h.projects.List(account.ID)
	if err != nil {
		h.log.Error("failed to list projects", zap.Error(err))
		InternalError(c, MsgProjectListFailed)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for i := range projects {
		resp = append(resp, h.toProjectResponse(&projects[i]))
	}
	Success(c, resp)
}

// getProject 获取单个项目
// @Summary 项目详情
// @Tags 项目
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Success 200 {object} projectResponse
// @Failure 404 {object} Response
// @Router /v1/projects/{id} [get]
func (h *Handler) getProject(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	project, err := h.projects.Get(account.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			NotFound(c, MsgProjectNotFound)
			return
		}
		h.log.Error("failed to get project", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, h.toProjectResponse(project))
}

// updateProject 更新项目名称
// @Summary 更新项目
// @Tags 项目
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param request body domain.UpdateProjectRequest true "新的项目名称或描述"
// @Success 200 {object} projectResponse
// @Failure 404 {object} Response
// @Router /v1/projects/{id} [patch]
func (h *Handler) updateProject(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req domain.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	project, err := h.projects.Update(account.ID, c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrProjectNotFound):
			NotFound(c, MsgProjectNotFound)
		case errors.Is(err, domain.ErrProjectNameEmpty),
			errors.Is(err, domain.ErrProjectNameLong):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to update project", zap.Error(err))
			InternalError(c, MsgProjectUpdateFailed)
		}
		return
	}
	Success(c, h.toProjectResponse(project))
}

// deleteProject 删除项目及其全部邮件和附件
// @Summary 删除项目
// @Description 级联删除项目下所有邮件记录和附件文件，操作不可恢复
// @Tags 项目
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Success 204 {object} Response
// @Failure 404 {object} Response
// @Router /v1/projects/{id} [delete]
func (h *Handler) deleteProject(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	projectID := c.Param("id")
	if err := h.projects.Delete(account.ID, projectID); err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			NotFound(c, MsgProjectNotFound)
			return
		}
		h.log.Error("failed to delete project",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		InternalError(c, MsgProjectDeleteFailed)
		return
	}

	h.log.Info("project deleted",
		zap.String("project_id", projectID),
		zap.String("account_id", account.ID),
	)
	NoContent(c)
}

// ========== 邮件处理器 ==========

// resolveProject 确认项目属于当前账号，否则按不存在处理。
func (h *Handler) resolveProject(c *gin.Context) (*domain.Project, bool) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return nil, false
	}

	project, err := h.projects.Get(account.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			NotFound(c, MsgProjectNotFound)
			return nil, false
		}
		h.log.Error("failed to resolve project", zap.Error(err))
		InternalError(c, MsgInternalError)
		return nil, false
	}
	return project, true
}

// listEmails 分页列出项目邮件
// @Summary 邮件列表
// @Description 按接收时间倒序分页返回，limit 最大 100
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param limit query int false "每页条数，默认 50"
// @Param offset query int false "偏移量，默认 0"
// @Success 200 {object} Response
// @Router /v1/projects/{id}/emails [get]
func (h *Handler) listEmails(c *gin.Context) {
	project, ok := h.resolveProject(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	result, err := h.messages.List(project.ID, limit, offset)
	if err != nil {
		h.log.Error("failed to list emails",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
		InternalError(c, MsgMessageListFailed)
		return
	}

	summaries := make([]messageSummary, 0, len(result.Messages))
	for i := range result.Messages {
		summaries = append(summaries, toMessageSummary(&result.Messages[i]))
	}

	Success(c, gin.H{
		"emails": summaries,
		"total":  result.Total,
		"limit":  result.Limit,
		"offset": result.Offset,
	})
}

// getEmail 获取邮件详情
// @Summary 邮件详情
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param emailId path string true "邮件 ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} Response
// @Router /v1/projects/{id}/emails/{emailId} [get]
func (h *Handler) getEmail(c *gin.Context) {
	project, ok := h.resolveProject(c)
	if !ok {
		return
	}

	message, err := h.messages.Get(project.ID, c.Param("emailId"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, MsgMessageNotFound)
			return
		}
		h.log.Error("failed to get message", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, toMessageResponse(message))
}

// setEmailRead 设置邮件已读标记
// @Summary 设置已读状态
// @Description 幂等操作，重复设置同一值返回成功
// @Tags 邮件
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param emailId path string true "邮件 ID"
// @Param request body object true "isRead 目标状态"
// @Success 204 {object} Response
// @Failure 404 {object} Response
// @Router /v1/projects/{id}/emails/{emailId}/read [patch]
func (h *Handler) setEmailRead(c *gin.Context) {
	project, ok := h.resolveProject(c)
	if !ok {
		return
	}

	var req struct {
		IsRead bool `json:"isRead"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.messages.SetRead(project.ID, c.Param("emailId"), req.IsRead); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, MsgMessageNotFound)
			return
		}
		h.log.Error("failed to update read flag", zap.Error(err))
		InternalError(c, MsgMessageMarkReadFailed)
		return
	}
	NoContent(c)
}

// deleteEmail 删除邮件及其附件文件
// @Summary 删除邮件
// @Tags 邮件
// @Produce json
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param emailId path string true "邮件 ID"
// @Success 204 {object} Response
// @Failure 404 {object} Response
// @Router /v1/projects/{id}/emails/{emailId} [delete]
func (h *Handler) deleteEmail(c *gin.Context) {
	project, ok := h.resolveProject(c)
	if !ok {
		return
	}

	messageID := c.Param("emailId")
	if err := h.messages.Delete(project.ID, messageID); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, MsgMessageNotFound)
			return
		}
		h.log.Error("failed to delete message",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		InternalError(c, MsgMessageDeleteFailed)
		return
	}
	NoContent(c)
}

// downloadAttachment 下载附件原始内容
// @Summary 下载附件
// @Description 以二进制流返回附件内容，带原始文件名的 Content-Disposition
// @Tags 邮件
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "项目 ID"
// @Param emailId path string true "邮件 ID"
// @Param attachmentId path string true "附件 ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /v1/projects/{id}/emails/{emailId}/attachments/{attachmentId} [get]
func (h *Handler) downloadAttachment(c *gin.Context) {
	project, ok := h.resolveProject(c)
	if !ok {
		return
	}

	attachment, reader, err := h.messages.OpenAttachment(
		project.ID, c.Param("emailId"), c.Param("attachmentId"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, MsgMessageNotFound)
		case errors.Is(err, storage.ErrAttachmentNotFound):
			NotFound(c, MsgAttachmentNotFound)
		default:
			h.log.Error("failed to open attachment", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}
	defer reader.Close()

	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Filename))
	c.DataFromReader(200, attachment.Size, contentType, reader, nil)
}
