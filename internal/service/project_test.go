package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/cache"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
	"devinbox/backend/internal/storage/memory"
)

func newTestProjectService(t *testing.T) (*ProjectService, *MessageService, *memory.Store, *blob.Store) {
	t.Helper()
	store := memory.NewStore()
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewProjectService(store, blobs, zap.NewNop()),
		NewMessageService(store, blobs, zap.NewNop()),
		store, blobs
}

func TestProjectCreate(t *testing.T) {
	svc, _, _, _ := newTestProjectService(t)

	t.Run("创建项目", func(t *testing.T) {
		project, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: " Checkout ", Slug: " Checkout-API "})
		require.NoError(t, err)
		assert.Equal(t, "Checkout", project.Name)
		assert.Equal(t, "checkout-api", project.Slug)
		assert.Equal(t, "acct-1", project.AccountID)
		assert.NotEmpty(t, project.ID)
	})

	t.Run("别名重复", func(t *testing.T) {
		_, err := svc.Create("acct-2", domain.CreateProjectRequest{Name: "Other", Slug: "checkout-api"})
		assert.ErrorIs(t, err, storage.ErrSlugTaken)
	})

	t.Run("别名非法", func(t *testing.T) {
		_, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "Bad", Slug: "-bad-"})
		assert.ErrorIs(t, err, domain.ErrInvalidSlug)
	})
}

func TestProjectGetAndList(t *testing.T) {
	svc, _, _, _ := newTestProjectService(t)

	p1, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "One", Slug: "one"})
	require.NoError(t, err)
	_, err = svc.Create("acct-2", domain.CreateProjectRequest{Name: "Two", Slug: "two"})
	require.NoError(t, err)

	t.Run("只列自己的项目", func(t *testing.T) {
		projects, err := svc.List("acct-1")
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "one", projects[0].Slug)
	})

	t.Run("跨账号访问视为未找到", func(t *testing.T) {
		_, err := svc.Get("acct-2", p1.ID)
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
	})
}

func TestProjectUpdate(t *testing.T) {
	svc, _, _, _ := newTestProjectService(t)

	project, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "Before", Slug: "stable"})
	require.NoError(t, err)

	strPtr := func(s string) *string { return &s }

	t.Run("改名不动 slug", func(t *testing.T) {
		updated, err := svc.Update("acct-1", project.ID, domain.UpdateProjectRequest{Name: strPtr("After")})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Name)
		assert.Equal(t, "stable", updated.Slug)
	})

	t.Run("改描述", func(t *testing.T) {
		updated, err := svc.Update("acct-1", project.ID, domain.UpdateProjectRequest{Description: strPtr("staging inbox")})
		require.NoError(t, err)
		assert.Equal(t, "staging inbox", updated.Description)
		assert.Equal(t, "After", updated.Name)
	})

	t.Run("未提供的字段保持不变", func(t *testing.T) {
		updated, err := svc.Update("acct-1", project.ID, domain.UpdateProjectRequest{})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Name)
		assert.Equal(t, "staging inbox", updated.Description)
	})

	t.Run("名称校验", func(t *testing.T) {
		_, err := svc.Update("acct-1", project.ID, domain.UpdateProjectRequest{Name: strPtr("  ")})
		assert.ErrorIs(t, err, domain.ErrProjectNameEmpty)
	})

	t.Run("跨账号更新被拒", func(t *testing.T) {
		_, err := svc.Update("acct-2", project.ID, domain.UpdateProjectRequest{Name: strPtr("Hijack")})
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
	})
}

func TestProjectDelete(t *testing.T) {
	svc, messages, _, blobs := newTestProjectService(t)

	project, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "Doomed", Slug: "doomed"})
	require.NoError(t, err)

	raw, _ := rawWithAttachment(t)
	_, err = messages.Ingest(IngestInput{Project: project, Raw: raw})
	require.NoError(t, err)
	require.Equal(t, 1, blobFileCount(t, blobs))

	t.Run("级联删除邮件与附件文件", func(t *testing.T) {
		require.NoError(t, svc.Delete("acct-1", project.ID))

		_, err := svc.Get("acct-1", project.ID)
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
		assert.Equal(t, 0, blobFileCount(t, blobs))
	})

	t.Run("别名随删除释放", func(t *testing.T) {
		_, err := svc.Create("acct-2", domain.CreateProjectRequest{Name: "Reborn", Slug: "doomed"})
		require.NoError(t, err)
	})

	t.Run("重复删除视为未找到", func(t *testing.T) {
		assert.ErrorIs(t, svc.Delete("acct-1", project.ID), storage.ErrProjectNotFound)
	})
}

// 控制台写操作经过缓存装饰器时必须立即让 slug 缓存失效，
// 否则 SMTP 解析会继续命中已删或过期的项目直到 TTL 到期。
func TestProjectWritesInvalidateCache(t *testing.T) {
	store := memory.NewStore()
	cached := cache.NewProjects(store, time.Hour, 100)
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	svc := NewProjectService(cached, blobs, zap.NewNop())

	strPtr := func(s string) *string { return &s }

	t.Run("更新后按 slug 读到新值", func(t *testing.T) {
		project, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "Before", Slug: "billing"})
		require.NoError(t, err)

		warm, err := cached.GetProjectBySlug("billing")
		require.NoError(t, err)
		require.Equal(t, "Before", warm.Name)

		_, err = svc.Update("acct-1", project.ID, domain.UpdateProjectRequest{Name: strPtr("After")})
		require.NoError(t, err)

		fresh, err := cached.GetProjectBySlug("billing")
		require.NoError(t, err)
		assert.Equal(t, "After", fresh.Name)
	})

	t.Run("删除后 slug 立即解析失败", func(t *testing.T) {
		project, err := svc.Create("acct-1", domain.CreateProjectRequest{Name: "Doomed", Slug: "doomed-cached"})
		require.NoError(t, err)

		_, err = cached.GetProjectBySlug("doomed-cached")
		require.NoError(t, err)

		require.NoError(t, svc.Delete("acct-1", project.ID))

		_, err = cached.GetProjectBySlug("doomed-cached")
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
	})
}
