package storage

import (
	"errors"
	"time"

	"devinbox/backend/internal/domain"
)

var (
	// ErrAccountNotFound 账号未找到错误
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists 账号已存在错误
	ErrAccountExists = errors.New("account already exists")
	// ErrProjectNotFound 项目未找到错误
	ErrProjectNotFound = errors.New("project not found")
	// ErrSlugTaken slug 已被占用错误
	ErrSlugTaken = errors.New("slug already taken")
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound 附件未找到错误
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// AccountRepository 定义账号数据存取操作。
type AccountRepository interface {
	CreateAccount(account *domain.Account) error
	GetAccountByID(id string) (*domain.Account, error)
	GetAccountByEmail(email string) (*domain.Account, error)
	UpdateAccount(account *domain.Account) error
	UpdateLastLogin(accountID string) error
	CountAccounts() (int64, error)
}

// ProjectRepository 定义项目数据存取操作。
type ProjectRepository interface {
	CreateProject(project *domain.Project) error
	GetProject(id string) (*domain.Project, error)
	GetProjectBySlug(slug string) (*domain.Project, error)
	ListProjectsByAccountID(accountID string) ([]domain.Project, error)
	UpdateProject(project *domain.Project) error
	// DeleteProject 级联删除项目下的邮件与附件元数据，
	// 返回被删附件的存储路径，调用方负责清理落盘文件。
	DeleteProject(id string) ([]string, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// CreateMessageWithAttachments 在单个事务中写入邮件与其全部附件元数据，
	// 任一写入失败则整体回滚，不留下部分记录。
	CreateMessageWithAttachments(message *domain.Message) error
	// ListMessages 按接收时间倒序分页返回项目邮件（不含正文，附带附件元数据），以及总数。
	ListMessages(projectID string, limit, offset int) ([]domain.Message, int64, error)
	// GetMessage 返回项目范围内的单封邮件，附带附件元数据。
	GetMessage(projectID, messageID string) (*domain.Message, error)
	// SetMessageRead 设置已读标记，重复设置同一值不算错误。
	SetMessageRead(projectID, messageID string, read bool) error
	// DeleteMessage 删除邮件与附件元数据，返回被删附件的存储路径。
	DeleteMessage(projectID, messageID string) ([]string, error)
	// CountMessages 返回项目的邮件总数与未读数。
	CountMessages(projectID string) (total, unread int64, err error)
}

// AttachmentRepository 定义附件元数据存取操作。
type AttachmentRepository interface {
	// GetAttachment 按项目、邮件、附件三级定位附件，任何一级不匹配都视作未找到。
	GetAttachment(projectID, messageID, attachmentID string) (*domain.Attachment, error)
	// ListAttachmentPaths 返回库中所有附件的存储路径，供清扫任务比对落盘文件。
	ListAttachmentPaths() ([]string, error)
}

// JWTRepository 定义 JWT 黑名单操作。
type JWTRepository interface {
	AddToBlacklist(jti string, ttl time.Duration) error
	IsBlacklisted(jti string) (bool, error)
}

// RateLimitRepository 定义限流操作。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, error)
	GetRateLimit(key string) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	AccountRepository
	ProjectRepository
	MessageRepository
	AttachmentRepository

	// 工具方法
	Close() error
	Health() error
}
