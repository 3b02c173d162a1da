package service

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/mailparse"
	"devinbox/backend/internal/storage"
)

// 投递阶段的错误分类，SMTP 层据此选择回复的状态码
var (
	// ErrMalformed 邮件内容无法解析，永久性失败
	ErrMalformed = errors.New("malformed message")
	// ErrStorage 附件落盘或数据库提交失败，暂时性失败，发件方可以重试
	ErrStorage = errors.New("storage failure")
)

// MessageService 封装入站邮件的落地与查询逻辑。
type MessageService struct {
	repo  storage.Store
	blobs *blob.Store
	log   *zap.Logger
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo storage.Store, blobs *blob.Store, log *zap.Logger) *MessageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{repo: repo, blobs: blobs, log: log}
}

// IngestInput 定义一次投递的输入。
type IngestInput struct {
	Project  *domain.Project // 收件项目，由地址解析得出
	From     string          // 信封发件人
	Raw      []byte          // DATA 阶段收到的完整原始邮件
	Received time.Time       // 接收时间，零值时取当前时间
}

// Ingest 把一封原始邮件落地为项目收件箱中的记录。
//
// 流程：解析 MIME，先把所有附件内容写盘，再把邮件与附件元数据
// 放进一个数据库事务提交。提交失败时回收已写的附件文件，
// 磁盘上不会留下没有元数据指向的孤儿（清扫任务兜底遗漏场景）。
func (s *MessageService) Ingest(input IngestInput) (*domain.Message, error) {
	parsed, err := mailparse.Parse(input.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	now := time.Now().UTC()
	received := input.Received
	if received.IsZero() {
		received = now
	}

	from := parsed.From
	if from == "" {
		from = input.From
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		ProjectID:   input.Project.ID,
		From:        from,
		Recipients:  parsed.Recipients,
		Subject:     parsed.Subject,
		BodyText:    parsed.Text,
		BodyHTML:    parsed.HTML,
		Headers:     parsed.Headers,
		RawSize:     parsed.RawSize,
		ReceivedAt:  received,
		CreatedAt:   now,
		Attachments: parsed.Attachments,
	}

	// 附件内容先于元数据落盘
	savedPaths := make([]string, 0, len(message.Attachments))
	for _, att := range message.Attachments {
		path, err := s.blobs.Save(att.Filename, att.Content)
		if err != nil {
			s.cleanupBlobs(savedPaths)
			return nil, fmt.Errorf("%w: save attachment: %v", ErrStorage, err)
		}
		att.StoragePath = path
		att.MessageID = message.ID
		savedPaths = append(savedPaths, path)
	}

	if err := s.repo.CreateMessageWithAttachments(message); err != nil {
		// 事务没提交，已写盘的附件立刻回收
		s.cleanupBlobs(savedPaths)
		return nil, fmt.Errorf("%w: commit message: %v", ErrStorage, err)
	}

	s.log.Info("message ingested",
		zap.String("project_id", input.Project.ID),
		zap.String("project_slug", input.Project.Slug),
		zap.String("message_id", message.ID),
		zap.Int("attachments", len(message.Attachments)),
		zap.Int64("raw_size", message.RawSize),
	)

	return message, nil
}

// cleanupBlobs 尽力删除已写盘的附件文件，失败只记日志。
func (s *MessageService) cleanupBlobs(paths []string) {
	for _, path := range paths {
		if err := s.blobs.Remove(path); err != nil {
			s.log.Warn("failed to clean up attachment blob",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}
}

// ListPage 表示一页邮件列表。
type ListPage struct {
	Messages []domain.Message `json:"messages"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// List 按接收时间倒序分页列出项目邮件。
func (s *MessageService) List(projectID string, limit, offset int) (*ListPage, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.repo.ListMessages(projectID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &ListPage{
		Messages: messages,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// Get 获取项目范围内的单封邮件详情。
func (s *MessageService) Get(projectID, messageID string) (*domain.Message, error) {
	return s.repo.GetMessage(projectID, messageID)
}

// SetRead 设置邮件的已读标记，重复设置同一值幂等。
func (s *MessageService) SetRead(projectID, messageID string, read bool) error {
	return s.repo.SetMessageRead(projectID, messageID, read)
}

// Counts 返回项目的邮件总数与未读数。
func (s *MessageService) Counts(projectID string) (total, unread int64, err error) {
	return s.repo.CountMessages(projectID)
}

// Delete 删除邮件，附件文件尽力清理，清理失败不影响删除结果。
func (s *MessageService) Delete(projectID, messageID string) error {
	paths, err := s.repo.DeleteMessage(projectID, messageID)
	if err != nil {
		return err
	}
	s.cleanupBlobs(paths)
	return nil
}

// OpenAttachment 返回附件元数据和内容读取器，调用方负责关闭。
func (s *MessageService) OpenAttachment(projectID, messageID, attachmentID string) (*domain.Attachment, io.ReadCloser, error) {
	att, err := s.repo.GetAttachment(projectID, messageID, attachmentID)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s.blobs.Open(att.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// 元数据在而文件丢了，对外统一表现为附件不存在
			s.log.Error("attachment blob missing",
				zap.String("attachment_id", att.ID),
				zap.String("path", att.StoragePath),
			)
			return nil, nil, storage.ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	return att, reader, nil
}
