package tenant

import (
	"errors"
	"strings"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// 解析相关的错误定义
var (
	// ErrForeignDomain 收件地址不在基础域名之下
	ErrForeignDomain = errors.New("recipient domain is not under the base domain")
	// ErrInvalidRecipient 收件地址格式不合法
	ErrInvalidRecipient = errors.New("invalid recipient address")
	// ErrUnknownProject slug 合法但没有对应的项目
	ErrUnknownProject = errors.New("no project matches recipient slug")
)

// Resolver 把收件地址解析为租户项目。
//
// 地址形如 anything@<slug>.<基础域名>，本地部分任意，slug 取基础域名前
// 紧邻的那一个子域标签：比如基础域名是 in.example.dev 时，
// a@checkout.in.example.dev 和 a@x.checkout.in.example.dev 都解析到 checkout。
type Resolver struct {
	baseDomain string
	projects   storage.ProjectRepository
}

// NewResolver 创建地址解析器。baseDomain 统一按小写比较。
func NewResolver(baseDomain string, projects storage.ProjectRepository) *Resolver {
	return &Resolver{
		baseDomain: strings.ToLower(strings.TrimSpace(baseDomain)),
		projects:   projects,
	}
}

// BaseDomain 返回解析器绑定的基础域名。
func (r *Resolver) BaseDomain() string {
	return r.baseDomain
}

// Slug 从收件地址中提取项目 slug，不做项目查找。
// 地址不在基础域名下或缺少合法 slug 标签时返回错误。
func (r *Resolver) Slug(address string) (string, error) {
	addr := normalizeAddress(address)

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", ErrInvalidRecipient
	}
	domainPart := addr[at+1:]

	// 基础域名本身没有 slug，可投递域必须是它的真子域
	if domainPart == r.baseDomain {
		return "", ErrForeignDomain
	}
	suffix := "." + r.baseDomain
	if !strings.HasSuffix(domainPart, suffix) {
		return "", ErrForeignDomain
	}

	rest := strings.TrimSuffix(domainPart, suffix)
	labels := strings.Split(rest, ".")
	slug := labels[len(labels)-1]

	if err := domain.ValidateSlug(slug); err != nil {
		return "", ErrInvalidRecipient
	}
	return slug, nil
}

// Resolve 把收件地址解析为项目。slug 合法但查不到项目时返回 ErrUnknownProject。
func (r *Resolver) Resolve(address string) (*domain.Project, error) {
	slug, err := r.Slug(address)
	if err != nil {
		return nil, err
	}

	project, err := r.projects.GetProjectBySlug(slug)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			return nil, ErrUnknownProject
		}
		return nil, err
	}
	return project, nil
}

// normalizeAddress 去掉尖括号并统一为小写。
func normalizeAddress(address string) string {
	addr := strings.TrimSpace(address)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
