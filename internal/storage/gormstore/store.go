package gormstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"devinbox/backend/internal/config"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// Store 基于 GORM 的数据库存储实现，支持 PostgreSQL 和 MySQL。
type Store struct {
	db *gorm.DB
}

// NewStore 根据配置创建数据库存储实例。
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	store, err := NewStoreWithDialector(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return store, nil
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // 静默模式
		TranslateError: true,                                  // 把驱动错误翻译成 gorm 哨兵错误
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Account{},
		&domain.Project{},
		&domain.Message{},
		&domain.Attachment{},
	)
}

// ========== Account Repository ==========

// CreateAccount 保存账号信息，邮箱唯一。
func (s *Store) CreateAccount(account *domain.Account) error {
	err := s.db.Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAccountExists
	}
	return err
}

// GetAccountByID 根据 ID 获取账号
func (s *Store) GetAccountByID(id string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByEmail 根据邮箱获取账号
func (s *Store) GetAccountByEmail(email string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.Where("LOWER(email) = LOWER(?)", email).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateAccount 更新账号信息
func (s *Store) UpdateAccount(account *domain.Account) error {
	result := s.db.Model(&domain.Account{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
		"name":          account.Name,
		"password_hash": account.PasswordHash,
		"role":          account.Role,
		"is_active":     account.IsActive,
		"updated_at":    time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// UpdateLastLogin 记录最近登录时间
func (s *Store) UpdateLastLogin(accountID string) error {
	result := s.db.Model(&domain.Account{}).Where("id = ?", accountID).Update("last_login_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

// CountAccounts 返回账号总数
func (s *Store) CountAccounts() (int64, error) {
	var count int64
	err := s.db.Model(&domain.Account{}).Count(&count).Error
	return count, err
}

// ========== Project Repository ==========

// CreateProject 保存项目信息，slug 全局唯一。
func (s *Store) CreateProject(project *domain.Project) error {
	err := s.db.Create(project).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrSlugTaken
	}
	return err
}

// GetProject 根据 ID 获取项目
func (s *Store) GetProject(id string) (*domain.Project, error) {
	var project domain.Project
	err := s.db.Where("id = ?", id).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

// GetProjectBySlug 根据 slug 获取项目
func (s *Store) GetProjectBySlug(slug string) (*domain.Project, error) {
	var project domain.Project
	err := s.db.Where("slug = ?", slug).First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}

// ListProjectsByAccountID 返回账号下的全部项目，按创建时间倒序
func (s *Store) ListProjectsByAccountID(accountID string) ([]domain.Project, error) {
	var projects []domain.Project
	err := s.db.Where("account_id = ?", accountID).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

// UpdateProject 更新项目信息
func (s *Store) UpdateProject(project *domain.Project) error {
	result := s.db.Model(&domain.Project{}).Where("id = ?", project.ID).Updates(map[string]interface{}{
		"name":       project.Name,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrProjectNotFound
	}
	return nil
}

// DeleteProject 级联删除项目及其邮件与附件元数据，返回被删附件的存储路径
func (s *Store) DeleteProject(id string) ([]string, error) {
	var paths []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var project domain.Project
		if err := tx.Where("id = ?", id).First(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrProjectNotFound
			}
			return err
		}

		// 收集项目下所有附件的存储路径
		if err := tx.Model(&domain.Attachment{}).
			Joins("JOIN messages ON messages.id = attachments.message_id").
			Where("messages.project_id = ?", id).
			Pluck("attachments.storage_path", &paths).Error; err != nil {
			return err
		}

		if err := tx.Where("message_id IN (?)",
			tx.Model(&domain.Message{}).Select("id").Where("project_id = ?", id),
		).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}

		if err := tx.Where("project_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", id).Delete(&domain.Project{}).Error
	})

	if err != nil {
		return nil, err
	}
	return paths, nil
}

// ========== Message Repository ==========

// CreateMessageWithAttachments 在单个事务中写入邮件与其全部附件元数据。
// 项目行在事务内加共享锁再查一次，并发的项目删除要么等这里提交，
// 要么已经删掉项目让这里整体失败，不会留下孤儿记录。
func (s *Store) CreateMessageWithAttachments(message *domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var project domain.Project
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", message.ProjectID).
			First(&project).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrProjectNotFound
		}
		if err != nil {
			return err
		}

		attachments := message.Attachments
		message.Attachments = nil
		defer func() { message.Attachments = attachments }()

		if err := tx.Create(message).Error; err != nil {
			return err
		}

		// Content 字段带 gorm:"-"，附件内容不会随元数据入库
		for _, att := range attachments {
			att.MessageID = message.ID
			if err := tx.Create(att).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// ListMessages 按接收时间倒序分页返回项目邮件（不含正文），以及总数
func (s *Store) ListMessages(projectID string, limit, offset int) ([]domain.Message, int64, error) {
	var total int64
	if err := s.db.Model(&domain.Message{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&domain.Message{}).
		Preload("Attachments").
		Omit("body_text", "body_html", "headers").
		Where("project_id = ?", projectID).
		Order("received_at DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []domain.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// GetMessage 返回项目范围内的单封邮件，附带附件元数据
func (s *Store) GetMessage(projectID, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.Where("project_id = ? AND id = ?", projectID, messageID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}

	if err := s.db.Where("message_id = ?", messageID).Find(&message.Attachments).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// SetMessageRead 设置已读标记，重复设置同一值不算错误
func (s *Store) SetMessageRead(projectID, messageID string, read bool) error {
	result := s.db.Model(&domain.Message{}).
		Where("project_id = ? AND id = ?", projectID, messageID).
		Update("is_read", read)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 值未变化时 MySQL 也报告 0 行受影响，需要区分邮件不存在
		var count int64
		if err := s.db.Model(&domain.Message{}).
			Where("project_id = ? AND id = ?", projectID, messageID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrMessageNotFound
		}
	}
	return nil
}

// DeleteMessage 删除邮件与附件元数据，返回被删附件的存储路径
func (s *Store) DeleteMessage(projectID, messageID string) ([]string, error) {
	var paths []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Message{}).
			Where("project_id = ? AND id = ?", projectID, messageID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrMessageNotFound
		}

		if err := tx.Model(&domain.Attachment{}).
			Where("message_id = ?", messageID).
			Pluck("storage_path", &paths).Error; err != nil {
			return err
		}

		if err := tx.Where("message_id = ?", messageID).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}

		return tx.Where("project_id = ? AND id = ?", projectID, messageID).Delete(&domain.Message{}).Error
	})

	if err != nil {
		return nil, err
	}
	return paths, nil
}

// CountMessages 返回项目邮件总数与未读数
func (s *Store) CountMessages(projectID string) (total, unread int64, err error) {
	if err = s.db.Model(&domain.Message{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.Model(&domain.Message{}).
		Where("project_id = ? AND is_read = ?", projectID, false).
		Count(&unread).Error; err != nil {
		return 0, 0, err
	}
	return total, unread, nil
}

// ========== Attachment Repository ==========

// GetAttachment 按项目、邮件、附件三级定位附件，任何一级不匹配都视作未找到
func (s *Store) GetAttachment(projectID, messageID, attachmentID string) (*domain.Attachment, error) {
	var attachment domain.Attachment
	err := s.db.
		Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("attachments.id = ? AND attachments.message_id = ? AND messages.project_id = ?",
			attachmentID, messageID, projectID).
		First(&attachment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &attachment, nil
}

// ListAttachmentPaths 返回库中所有附件的存储路径
func (s *Store) ListAttachmentPaths() ([]string, error) {
	var paths []string
	err := s.db.Model(&domain.Attachment{}).
		Where("storage_path <> ''").
		Pluck("storage_path", &paths).Error
	return paths, err
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
