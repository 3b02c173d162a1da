package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// Cache 提供投递热路径需要的缓存能力：项目 slug 查找缓存、
// JWT 黑名单和速率限制计数。
type Cache struct {
	client *Client
	ctx    context.Context
}

// NewCache 基于已有连接创建缓存实例
func NewCache(client *Client) *Cache {
	return &Cache{
		client: client,
		ctx:    context.Background(),
	}
}

// ========== 项目缓存 ==========

// CacheProjectBySlug 缓存 slug 到项目的映射
func (c *Cache) CacheProjectBySlug(project *domain.Project, ttl time.Duration) error {
	key := fmt.Sprintf("project:slug:%s", project.Slug)
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedProjectBySlug 获取缓存的项目，缓存未命中时返回 nil
func (c *Cache) GetCachedProjectBySlug(slug string) (*domain.Project, error) {
	key := fmt.Sprintf("project:slug:%s", slug)
	data, err := c.client.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var project domain.Project
	if err := json.Unmarshal([]byte(data), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// InvalidateProjectSlug 清除 slug 缓存，项目更新或删除后调用
func (c *Cache) InvalidateProjectSlug(slug string) error {
	key := fmt.Sprintf("project:slug:%s", slug)
	return c.client.rdb.Del(c.ctx, key).Err()
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (c *Cache) AddToBlacklist(jti string, ttl time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	return c.client.rdb.Set(c.ctx, key, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (c *Cache) IsBlacklisted(jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	_, err := c.client.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ========== 限流缓存 ==========

// IncrementRateLimit 增加限流计数
func (c *Cache) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	pipe := c.client.rdb.Pipeline()

	incr := pipe.Incr(c.ctx, key)
	pipe.Expire(c.ctx, key, window)

	if _, err := pipe.Exec(c.ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetRateLimit 获取限流计数
func (c *Cache) GetRateLimit(key string) (int64, error) {
	count, err := c.client.rdb.Get(c.ctx, key).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// ========== 项目仓库装饰器 ==========

// CachedProjects 给项目仓库加一层 slug 读穿缓存。
// SMTP 投递每个 RCPT 都要按 slug 找项目，缓存让这条热路径不必每次打数据库。
type CachedProjects struct {
	storage.ProjectRepository
	cache *Cache
	ttl   time.Duration
}

// NewCachedProjects 包装项目仓库
func NewCachedProjects(repo storage.ProjectRepository, cache *Cache, ttl time.Duration) *CachedProjects {
	return &CachedProjects{
		ProjectRepository: repo,
		cache:             cache,
		ttl:               ttl,
	}
}

// GetProjectBySlug 先查缓存，未命中时回源并写入缓存。
// 缓存故障不影响查找，直接回源。
func (p *CachedProjects) GetProjectBySlug(slug string) (*domain.Project, error) {
	if cached, err := p.cache.GetCachedProjectBySlug(slug); err == nil && cached != nil {
		return cached, nil
	}

	project, err := p.ProjectRepository.GetProjectBySlug(slug)
	if err != nil {
		return nil, err
	}

	_ = p.cache.CacheProjectBySlug(project, p.ttl)
	return project, nil
}

// UpdateProject 更新后清除缓存
func (p *CachedProjects) UpdateProject(project *domain.Project) error {
	if err := p.ProjectRepository.UpdateProject(project); err != nil {
		return err
	}
	_ = p.cache.InvalidateProjectSlug(project.Slug)
	return nil
}

// DeleteProject 删除后清除缓存
func (p *CachedProjects) DeleteProject(id string) ([]string, error) {
	project, err := p.ProjectRepository.GetProject(id)
	if err != nil {
		return nil, err
	}
	paths, err := p.ProjectRepository.DeleteProject(id)
	if err != nil {
		return nil, err
	}
	_ = p.cache.InvalidateProjectSlug(project.Slug)
	return paths, nil
}
