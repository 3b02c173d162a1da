package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// fakeProjects 只实现按 slug 查找，其余方法不会被解析器调用。
type fakeProjects struct {
	storage.ProjectRepository
	bySlug map[string]*domain.Project
}

func (f *fakeProjects) GetProjectBySlug(slug string) (*domain.Project, error) {
	p, ok := f.bySlug[slug]
	if !ok {
		return nil, storage.ErrProjectNotFound
	}
	return p, nil
}

func newFakeProjects(slugs ...string) *fakeProjects {
	m := make(map[string]*domain.Project, len(slugs))
	for i, s := range slugs {
		m[s] = &domain.Project{ID: string(rune('a' + i)), Slug: s, Name: s}
	}
	return &fakeProjects{bySlug: m}
}

func TestResolverSlug(t *testing.T) {
	r := NewResolver("in.example.dev", newFakeProjects())

	tests := []struct {
		name    string
		address string
		slug    string
		wantErr error
	}{
		{"基础域名的直接子域", "hello@checkout.in.example.dev", "checkout", nil},
		{"本地部分任意", "no-reply+tag@checkout.in.example.dev", "checkout", nil},
		{"带尖括号的地址", "<hello@checkout.in.example.dev>", "checkout", nil},
		{"大写统一转小写", "Hello@CHECKOUT.In.Example.DEV", "checkout", nil},
		{"多级子域取最靠近基础域名的标签", "a@x.checkout.in.example.dev", "checkout", nil},
		{"基础域名本身没有 slug", "a@in.example.dev", "", ErrForeignDomain},
		{"无关域名", "a@example.com", "", ErrForeignDomain},
		{"后缀相似但标签不同", "a@notin.example.dev", "", ErrForeignDomain},
		{"缺少 @", "checkout.in.example.dev", "", ErrInvalidRecipient},
		{"空本地部分", "@checkout.in.example.dev", "", ErrInvalidRecipient},
		{"slug 含下划线", "a@check_out.in.example.dev", "", ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slug, err := r.Slug(tt.address)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.slug, slug)
		})
	}
}

func TestResolverResolve(t *testing.T) {
	projects := newFakeProjects("checkout", "billing")
	r := NewResolver("in.example.dev", projects)

	t.Run("解析到已有项目", func(t *testing.T) {
		p, err := r.Resolve("order@checkout.in.example.dev")
		require.NoError(t, err)
		assert.Equal(t, "checkout", p.Slug)
	})

	t.Run("slug 合法但项目不存在", func(t *testing.T) {
		p, err := r.Resolve("order@ghost.in.example.dev")
		assert.ErrorIs(t, err, ErrUnknownProject)
		assert.Nil(t, p)
	})

	t.Run("外部域名直接拒绝", func(t *testing.T) {
		p, err := r.Resolve("order@other.example.org")
		assert.ErrorIs(t, err, ErrForeignDomain)
		assert.Nil(t, p)
	})
}
