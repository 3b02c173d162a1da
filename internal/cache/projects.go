package cache

import (
	"sync"
	"time"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// Projects 给项目仓库加一层进程内的 slug 读穿缓存。
// SMTP 投递每个 RCPT 都要按 slug 找项目，数据库部署且没有 Redis 时
// 用这层缓存挡掉热路径上的重复查询。
type Projects struct {
	storage.ProjectRepository

	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int
}

type entry struct {
	project   *domain.Project
	expiresAt time.Time
}

// NewProjects 包装项目仓库。
func NewProjects(repo storage.ProjectRepository, ttl time.Duration, maxSize int) *Projects {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Projects{
		ProjectRepository: repo,
		entries:           make(map[string]entry),
		ttl:               ttl,
		maxSize:           maxSize,
	}
}

// GetProjectBySlug 先查缓存，未命中时回源并写入缓存。
func (p *Projects) GetProjectBySlug(slug string) (*domain.Project, error) {
	p.mu.RLock()
	e, ok := p.entries[slug]
	p.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		copied := *e.project
		return &copied, nil
	}

	project, err := p.ProjectRepository.GetProjectBySlug(slug)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.entries) >= p.maxSize {
		p.evictLocked()
	}
	copied := *project
	p.entries[slug] = entry{project: &copied, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return project, nil
}

// UpdateProject 更新后清除缓存。
func (p *Projects) UpdateProject(project *domain.Project) error {
	if err := p.ProjectRepository.UpdateProject(project); err != nil {
		return err
	}
	p.invalidate(project.Slug)
	return nil
}

// DeleteProject 删除后清除缓存。
func (p *Projects) DeleteProject(id string) ([]string, error) {
	project, err := p.ProjectRepository.GetProject(id)
	if err != nil {
		return nil, err
	}
	paths, err := p.ProjectRepository.DeleteProject(id)
	if err != nil {
		return nil, err
	}
	p.invalidate(project.Slug)
	return paths, nil
}

func (p *Projects) invalidate(slug string) {
	p.mu.Lock()
	delete(p.entries, slug)
	p.mu.Unlock()
}

// evictLocked 清掉已过期的条目；仍然超限时整体清空重来，
// 比维护一套 LRU 链表简单，而且缓存本来就允许丢。
func (p *Projects) evictLocked() {
	now := time.Now()
	for slug, e := range p.entries {
		if now.After(e.expiresAt) {
			delete(p.entries, slug)
		}
	}
	if len(p.entries) >= p.maxSize {
		p.entries = make(map[string]entry)
	}
}
