package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrInvalidSlug      = errors.New("invalid slug format")
	ErrSlugTooLong      = errors.New("slug too long (max 63 chars)")
	ErrProjectNameEmpty = errors.New("project name is required")
	ErrProjectNameLong  = errors.New("project name too long (max 100 chars)")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 128 chars)")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength = 254

	// DNS 标签长度限制，slug 会成为收件域名的一个标签
	MaxSlugLength = 63

	MaxProjectNameLength = 100

	// 密码长度限制
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// slug 必须是合法的 DNS 标签：小写字母数字，可用连字符分隔，
// 不能以连字符开头或结尾，也不能出现连续连字符。
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidateSlug 验证项目 slug。
func ValidateSlug(slug string) error {
	if slug == "" {
		return ErrInvalidSlug
	}
	if len(slug) > MaxSlugLength {
		return ErrSlugTooLong
	}
	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

// ValidateProjectName 验证项目名称。
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrProjectNameEmpty
	}
	if len(name) > MaxProjectNameLength {
		return ErrProjectNameLong
	}
	return nil
}

// ValidateEmail 验证登录邮箱地址。
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword 验证密码长度。
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// CreateProjectRequest 创建项目的请求结构
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// Validate 校验创建项目请求。
func (r *CreateProjectRequest) Validate() error {
	if err := ValidateProjectName(r.Name); err != nil {
		return err
	}
	return ValidateSlug(r.Slug)
}

// UpdateProjectRequest 更新项目的请求结构，nil 字段不改动
type UpdateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// 认证相关的请求结构
type SetupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}
