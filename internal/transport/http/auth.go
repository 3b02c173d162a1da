package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devinbox/backend/internal/auth"
	jwtpkg "devinbox/backend/internal/auth/jwt"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/middleware"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type authResponse struct {
	Account      accountResponse `json:"account"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresIn    int64           `json:"expiresIn"`
}

type accountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func toAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{
		ID:          account.ID,
		Email:       account.Email,
		Name:        account.Name,
		Role:        string(account.Role),
		IsActive:    account.IsActive,
		CreatedAt:   account.CreatedAt,
		LastLoginAt: account.LastLoginAt,
	}
}

// SetupStatus 查询是否需要初始化
// @Summary 查询初始化状态
// @Description 系统尚无任何账号时返回 needsSetup=true，前端据此跳转安装页
// @Tags 认证
// @Produce json
// @Success 200 {object} Response
// @Router /v1/auth/setup [get]
func (h *AuthHandler) SetupStatus(c *gin.Context) {
	needed, err := h.authService.NeedsSetup()
	if err != nil {
		h.log.Error("failed to check setup status", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, gin.H{"needsSetup": needed})
}

// Setup 创建初始管理员账号
// @Summary 系统初始化
// @Description 创建第一个账号（管理员）并直接返回登录令牌，只能执行一次
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body domain.SetupRequest true "初始账号信息"
// @Success 201 {object} authResponse
// @Failure 400 {object} Response
// @Failure 409 {object} Response "已完成初始化"
// @Router /v1/auth/setup [post]
func (h *AuthHandler) Setup(c *gin.Context) {
	var req domain.SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	account, tokens, err := h.authService.Setup(req)
	if err != nil {
		switch err {
		case auth.ErrSetupComplete:
			Conflict(c, GetErrorMessage(err))
		case domain.ErrInvalidEmail, domain.ErrEmailTooLong,
			domain.ErrPasswordTooShort, domain.ErrPasswordTooLong:
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("setup failed", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	h.log.Info("setup completed", zap.String("account_id", account.ID))

	Created(c, authResponse{
		Account:      toAccountResponse(account),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// Login 处理登录请求
// @Summary 登录
// @Description 使用邮箱和密码进行身份验证，成功后返回认证令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body domain.LoginRequest true "登录凭证"
// @Success 200 {object} authResponse
// @Failure 401 {object} Response "邮箱或密码错误"
// @Failure 403 {object} Response "账号已被禁用"
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	account, tokens, err := h.authService.Login(req)
	if err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			Unauthorized(c, MsgInvalidCredentials)
		case auth.ErrAccountInactive:
			Forbidden(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to login", zap.Error(err))
			InternalError(c, "登录失败，请稍后重试")
		}
		return
	}

	h.log.Info("account logged in",
		zap.String("account_id", account.ID),
		zap.String("email", account.Email),
	)

	Success(c, authResponse{
		Account:      toAccountResponse(account),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// Refresh 刷新访问令牌
// @Summary 刷新访问令牌
// @Description 使用刷新令牌获取新的访问令牌，避免重新登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body domain.RefreshTokenRequest true "包含刷新令牌的请求"
// @Success 200 {object} Response
// @Failure 401 {object} Response "刷新令牌无效或已过期"
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req domain.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	accessToken, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		switch err {
		case jwtpkg.ErrInvalidToken:
			Unauthorized(c, "刷新令牌无效")
		case jwtpkg.ErrExpiredToken:
			Unauthorized(c, MsgTokenExpired)
		case auth.ErrTokenRevoked:
			Unauthorized(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to refresh token", zap.Error(err))
			InternalError(c, "刷新令牌失败")
		}
		return
	}

	Success(c, gin.H{
		"accessToken": accessToken,
	})
}

// Logout 退出登录
// @Summary 退出登录
// @Description 将当前访问令牌加入黑名单，令牌立刻失效
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 204 {object} Response
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenVal, exists := c.Get("token")
	if !exists {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	if err := h.authService.Logout(tokenVal.(string)); err != nil {
		h.log.Error("failed to revoke token", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	NoContent(c)
}

// Me 获取当前账号信息
// @Summary 获取当前账号信息
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} accountResponse
// @Failure 401 {object} Response
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	Success(c, toAccountResponse(account))
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Description 验证旧密码后更换新密码，已签发的令牌不受影响
// @Tags 认证
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body domain.ChangePasswordRequest true "新旧密码"
// @Success 204 {object} Response
// @Failure 401 {object} Response "旧密码错误"
// @Router /v1/auth/change-password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	account, ok := middleware.AccountFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req domain.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	err := h.authService.ChangePassword(account.ID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			Unauthorized(c, "旧密码错误")
		case domain.ErrPasswordTooShort, domain.ErrPasswordTooLong:
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to change password", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	NoContent(c)
}
