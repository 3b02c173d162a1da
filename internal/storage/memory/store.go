package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// Store 使用内存保存账号、项目与邮件数据，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*domain.Account            // accountID -> account
	byEmail     map[string]string                     // email -> accountID
	projects    map[string]*domain.Project            // projectID -> project
	bySlug      map[string]string                     // slug -> projectID
	messages    map[string]map[string]*domain.Message // projectID -> messageID -> message
	attachments map[string][]*domain.Attachment       // messageID -> attachments

	// JWT 黑名单与速率限制，开发模式下顶替 Redis
	blacklist  map[string]time.Time
	rateLimits map[string]*rateLimitEntry
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		accounts:    make(map[string]*domain.Account),
		byEmail:     make(map[string]string),
		projects:    make(map[string]*domain.Project),
		bySlug:      make(map[string]string),
		messages:    make(map[string]map[string]*domain.Message),
		attachments: make(map[string][]*domain.Attachment),
		blacklist:   make(map[string]time.Time),
		rateLimits:  make(map[string]*rateLimitEntry),
	}
}

// ========== 账号 ==========

// CreateAccount 保存账号，邮箱唯一。
func (s *Store) CreateAccount(account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrAccountExists
	}

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	cp := *account
	s.accounts[account.ID] = &cp
	s.byEmail[email] = account.ID
	return nil
}

// GetAccountByID 根据 ID 获取账号。
func (s *Store) GetAccountByID(id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// GetAccountByEmail 根据邮箱获取账号。
func (s *Store) GetAccountByEmail(email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

// UpdateAccount 更新账号。
func (s *Store) UpdateAccount(account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return storage.ErrAccountNotFound
	}
	account.UpdatedAt = time.Now()
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

// UpdateLastLogin 记录最近登录时间。
func (s *Store) UpdateLastLogin(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}
	now := time.Now()
	account.LastLoginAt = &now
	return nil
}

// CountAccounts 返回账号总数。
func (s *Store) CountAccounts() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts)), nil
}

// ========== 项目 ==========

// CreateProject 保存项目，slug 全局唯一。
func (s *Store) CreateProject(project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug := strings.ToLower(project.Slug)
	if _, exists := s.bySlug[slug]; exists {
		return storage.ErrSlugTaken
	}

	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	cp := *project
	s.projects[project.ID] = &cp
	s.bySlug[slug] = project.ID
	return nil
}

// GetProject 根据 ID 获取项目。
func (s *Store) GetProject(id string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrProjectNotFound
	}
	cp := *project
	return &cp, nil
}

// GetProjectBySlug 根据 slug 获取项目。
func (s *Store) GetProjectBySlug(slug string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[strings.ToLower(slug)]
	if !ok {
		return nil, storage.ErrProjectNotFound
	}
	cp := *s.projects[id]
	return &cp, nil
}

// ListProjectsByAccountID 返回账号下的全部项目，按创建时间倒序。
func (s *Store) ListProjectsByAccountID(accountID string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Project, 0)
	for _, p := range s.projects {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateProject 更新项目。
func (s *Store) UpdateProject(project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.ID]; !ok {
		return storage.ErrProjectNotFound
	}
	project.UpdatedAt = time.Now()
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

// DeleteProject 级联删除项目及其邮件与附件元数据，返回被删附件的存储路径。
func (s *Store) DeleteProject(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrProjectNotFound
	}

	paths := make([]string, 0)
	for messageID := range s.messages[id] {
		for _, att := range s.attachments[messageID] {
			if att.StoragePath != "" {
				paths = append(paths, att.StoragePath)
			}
		}
		delete(s.attachments, messageID)
	}
	delete(s.messages, id)
	delete(s.bySlug, strings.ToLower(project.Slug))
	delete(s.projects, id)
	return paths, nil
}

// ========== 邮件 ==========

// CreateMessageWithAttachments 写入邮件与附件元数据。
// 内存实现天然原子：持锁期间一次性放入所有数据。
func (s *Store) CreateMessageWithAttachments(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[message.ProjectID]; !ok {
		return storage.ErrProjectNotFound
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	cp := *message
	cp.Attachments = nil
	if s.messages[message.ProjectID] == nil {
		s.messages[message.ProjectID] = make(map[string]*domain.Message)
	}
	s.messages[message.ProjectID][message.ID] = &cp

	atts := make([]*domain.Attachment, 0, len(message.Attachments))
	for _, att := range message.Attachments {
		a := *att
		a.MessageID = message.ID
		a.Content = nil
		atts = append(atts, &a)
	}
	s.attachments[message.ID] = atts
	return nil
}

// ListMessages 按接收时间倒序分页返回项目邮件（不含正文），以及总数。
func (s *Store) ListMessages(projectID string, limit, offset int) ([]domain.Message, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.messages[projectID]
	all := make([]domain.Message, 0, len(byID))
	for _, m := range byID {
		cp := *m
		cp.BodyText = nil
		cp.BodyHTML = nil
		cp.Headers = nil
		cp.Attachments = s.copyAttachments(m.ID)
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ReceivedAt.Equal(all[j].ReceivedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].ReceivedAt.After(all[j].ReceivedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []domain.Message{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// GetMessage 返回项目范围内的单封邮件，附带附件元数据。
func (s *Store) GetMessage(projectID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[projectID][messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}

	cp := *m
	cp.Attachments = s.copyAttachments(messageID)
	return &cp, nil
}

// copyAttachments 返回附件元数据的深拷贝，须持锁调用。
func (s *Store) copyAttachments(messageID string) []*domain.Attachment {
	atts := make([]*domain.Attachment, 0, len(s.attachments[messageID]))
	for _, att := range s.attachments[messageID] {
		a := *att
		atts = append(atts, &a)
	}
	return atts
}

// SetMessageRead 设置已读标记，重复设置同一值不算错误。
func (s *Store) SetMessageRead(projectID, messageID string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[projectID][messageID]
	if !ok {
		return storage.ErrMessageNotFound
	}
	m.IsRead = read
	return nil
}

// DeleteMessage 删除邮件与附件元数据，返回被删附件的存储路径。
func (s *Store) DeleteMessage(projectID, messageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[projectID][messageID]; !ok {
		return nil, storage.ErrMessageNotFound
	}

	paths := make([]string, 0)
	for _, att := range s.attachments[messageID] {
		if att.StoragePath != "" {
			paths = append(paths, att.StoragePath)
		}
	}
	delete(s.attachments, messageID)
	delete(s.messages[projectID], messageID)
	return paths, nil
}

// CountMessages 返回项目邮件总数与未读数。
func (s *Store) CountMessages(projectID string) (total, unread int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[projectID] {
		total++
		if !m.IsRead {
			unread++
		}
	}
	return total, unread, nil
}

// ========== 附件 ==========

// GetAttachment 按项目、邮件、附件三级定位附件元数据。
func (s *Store) GetAttachment(projectID, messageID, attachmentID string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.messages[projectID][messageID]; !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	for _, att := range s.attachments[messageID] {
		if att.ID == attachmentID {
			cp := *att
			return &cp, nil
		}
	}
	return nil, storage.ErrAttachmentNotFound
}

// ListAttachmentPaths 返回库中所有附件的存储路径。
func (s *Store) ListAttachmentPaths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0)
	for _, atts := range s.attachments {
		for _, att := range atts {
			if att.StoragePath != "" {
				paths = append(paths, att.StoragePath)
			}
		}
	}
	return paths, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 jti 加入黑名单。
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[jti] = time.Now().Add(ttl)
	return nil
}

// IsBlacklisted 检查 jti 是否在黑名单中。
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.blacklist[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		delete(s.blacklist, jti)
		return false, nil
	}
	return true, nil
}

// ========== 速率限制 ==========

// IncrementRateLimit 自增计数器并返回当前值，窗口过期后从零重新计数。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		s.rateLimits[key] = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	entry.count++
	return entry.count, nil
}

// GetRateLimit 返回当前计数值。
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rateLimits[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// ========== 工具方法 ==========

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终健康。
func (s *Store) Health() error {
	return nil
}
