package service

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// ProjectService 封装项目管理逻辑。
// repo 接收 ProjectRepository 而不是完整 Store，这样控制台写路径
// 可以接到带失效逻辑的缓存装饰器上。
type ProjectService struct {
	repo  storage.ProjectRepository
	blobs *blob.Store
	log   *zap.Logger
}

// NewProjectService 创建项目业务服务。
func NewProjectService(repo storage.ProjectRepository, blobs *blob.Store, log *zap.Logger) *ProjectService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProjectService{repo: repo, blobs: blobs, log: log}
}

// Create 创建项目。slug 统一转小写，全局唯一。
func (s *ProjectService) Create(accountID string, req domain.CreateProjectRequest) (*domain.Project, error) {
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	project := &domain.Project{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Name:        req.Name,
		Slug:        req.Slug,
		Description: strings.TrimSpace(req.Description),
	}

	if err := s.repo.CreateProject(project); err != nil {
		return nil, err
	}

	s.log.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("slug", project.Slug),
		zap.String("account_id", accountID),
	)
	return project, nil
}

// List 列出账号下的全部项目。
func (s *ProjectService) List(accountID string) ([]domain.Project, error) {
	return s.repo.ListProjectsByAccountID(accountID)
}

// Get 获取账号下的单个项目。项目属于别的账号时一律按不存在处理，
// 不向调用方泄露项目是否存在。
func (s *ProjectService) Get(accountID, projectID string) (*domain.Project, error) {
	project, err := s.repo.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if project.AccountID != accountID {
		return nil, storage.ErrProjectNotFound
	}
	return project, nil
}

// Update 更新项目名称和描述，slug 创建后不可改。
func (s *ProjectService) Update(accountID, projectID string, req domain.UpdateProjectRequest) (*domain.Project, error) {
	project, err := s.Get(accountID, projectID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := domain.ValidateProjectName(name); err != nil {
			return nil, err
		}
		project.Name = name
	}
	if req.Description != nil {
		project.Description = strings.TrimSpace(*req.Description)
	}

	if err := s.repo.UpdateProject(project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete 删除项目及其全部邮件，附件文件尽力清理。
func (s *ProjectService) Delete(accountID, projectID string) error {
	if _, err := s.Get(accountID, projectID); err != nil {
		return err
	}

	paths, err := s.repo.DeleteProject(projectID)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := s.blobs.Remove(path); err != nil {
			s.log.Warn("failed to clean up attachment blob",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	s.log.Info("project deleted",
		zap.String("project_id", projectID),
		zap.String("account_id", accountID),
		zap.Int("attachments_removed", len(paths)),
	)
	return nil
}
