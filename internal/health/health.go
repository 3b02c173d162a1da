package health

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/storage"
)

// Checker 健康检查器，聚合数据库、附件目录与可选的 Redis 检查。
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	blobs  *blob.Store
	logger *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, blobs *blob.Store, logger *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		blobs:  blobs,
		logger: logger,
	}
	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddLivenessCheck("database", func() error {
		return c.store.Health()
	})

	// 附件目录必须可写，否则 SMTP 收信时写盘会失败
	c.health.AddReadinessCheck("blob-store", BlobWriteCheck(c.blobs))

	if rateLimitStore, ok := c.store.(storage.RateLimitRepository); ok {
		c.health.AddReadinessCheck("redis", RedisCheck(rateLimitStore))
	}
}

// Handler 返回健康检查处理器，暴露 /live 与 /ready。
func (c *Checker) Handler() http.Handler {
	return c.health
}

// CheckHealth 执行一轮检查并返回各组件状态
func (c *Checker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := c.store.Health(); err != nil {
		results["database"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["database"] = "OK"
	}

	if err := BlobWriteCheck(c.blobs)(); err != nil {
		results["blob_store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["blob_store"] = "OK"
	}

	if rateLimitStore, ok := c.store.(storage.RateLimitRepository); ok {
		if err := RedisCheck(rateLimitStore)(); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// BlobWriteCheck 验证附件根目录仍然可写
func BlobWriteCheck(blobs *blob.Store) healthcheck.Check {
	return func() error {
		probe := filepath.Join(blobs.Root(), ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return fmt.Errorf("blob root not writable: %w", err)
		}
		return os.Remove(probe)
	}
}

// RedisCheck 验证 Redis 可达
func RedisCheck(store storage.RateLimitRepository) healthcheck.Check {
	return func() error {
		_, err := store.GetRateLimit("health_check")
		return err
	}
}
