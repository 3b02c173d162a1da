package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devinbox/backend/internal/auth"
	"devinbox/backend/internal/domain"
)

// JWTAuth JWT认证中间件，令牌验证之外还检查黑名单与账号状态
type JWTAuth struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(authService *auth.Service, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		authService: authService,
		log:         log,
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ja.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		account, claims, err := ja.authService.Authenticate(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			status := http.StatusUnauthorized
			msg := "invalid or expired token"
			if err == auth.ErrAccountInactive {
				status = http.StatusForbidden
				msg = "account disabled"
			}
			c.JSON(status, gin.H{"error": msg})
			c.Abort()
			return
		}

		// 将账号信息存储到上下文
		c.Set("accountID", account.ID)
		c.Set("account", account)
		c.Set("email", claims.Email)
		c.Set("role", string(account.Role))
		c.Set("token", token)

		c.Next()
	}
}

// RequireAdmin 要求管理员角色，必须叠在 RequireAuth 之后
func (ja *JWTAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountVal, exists := c.Get("account")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		account, ok := accountVal.(*domain.Account)
		if !ok || !account.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractToken 从请求中提取JWT token
func (ja *JWTAuth) extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}

// AccountFromContext 取出 RequireAuth 放进上下文的账号
func AccountFromContext(c *gin.Context) (*domain.Account, bool) {
	accountVal, exists := c.Get("account")
	if !exists {
		return nil, false
	}
	account, ok := accountVal.(*domain.Account)
	return account, ok
}
