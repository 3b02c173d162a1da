package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/monitoring"
	"devinbox/backend/internal/storage"
)

// Sweeper 清扫附件根目录中的孤儿文件。
//
// 附件文件总是先落盘、元数据随后入库，元数据写入失败时服务会当场回收文件；
// 但进程在两步之间崩溃会留下没有任何记录指向的落盘文件。清扫任务定期
// 比对磁盘和数据库，删除库中查不到的文件。MinAge 挡住正在入库途中的新文件。
type Sweeper struct {
	repo    storage.AttachmentRepository
	blobs   *blob.Store
	minAge  time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewSweeper 创建清扫任务。metrics 可为 nil。
func NewSweeper(repo storage.AttachmentRepository, blobs *blob.Store, minAge time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if minAge <= 0 {
		minAge = 24 * time.Hour
	}
	return &Sweeper{
		repo:    repo,
		blobs:   blobs,
		minAge:  minAge,
		metrics: metrics,
		log:     log,
	}
}

// Run 按固定间隔执行清扫，直到 ctx 取消。启动时不立即清扫，
// 等满一个间隔再跑第一轮，避免和服务启动时的流量挤在一起。
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce()
			if err != nil {
				s.log.Error("orphan sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.log.Info("orphan sweep completed", zap.Int("removed", removed))
			}
		}
	}
}

// SweepOnce 执行一轮清扫，返回删除的文件数。
//
// 先取数据库中全部附件路径做成集合，再遍历磁盘：不在集合里且修改时间
// 早于 MinAge 的文件删除。先读库再扫盘保证不会误删——清扫开始后新入库
// 的附件，其文件修改时间必然晚于扫描起点，被 MinAge 挡住。
func (s *Sweeper) SweepOnce() (int, error) {
	paths, err := s.repo.ListAttachmentPaths()
	if err != nil {
		return 0, fmt.Errorf("list attachment paths: %w", err)
	}

	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[p] = struct{}{}
	}

	cutoff := time.Now().Add(-s.minAge)
	removed := 0

	err = s.blobs.Walk(func(relPath string, modTime time.Time) error {
		if _, ok := known[relPath]; ok {
			return nil
		}
		if modTime.After(cutoff) {
			return nil
		}

		if err := s.blobs.Remove(relPath); err != nil {
			s.log.Warn("failed to remove orphan blob",
				zap.String("path", relPath),
				zap.Error(err),
			)
			return nil
		}

		s.log.Debug("removed orphan blob",
			zap.String("path", relPath),
			zap.Time("mod_time", modTime),
		)
		removed++
		if s.metrics != nil {
			s.metrics.RecordOrphanRemoved()
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk blob root: %w", err)
	}

	return removed, nil
}
