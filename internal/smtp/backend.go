package smtp

import (
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/monitoring"
	"devinbox/backend/internal/service"
	"devinbox/backend/internal/tenant"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 【安全说明】
// 这是一个只接收邮件的 SMTP 服务器（Receiving-Only SMTP Server）。
// 特性：
// - 只接收发送到 *@<slug>.<基础域名> 的邮件
// - RCPT 阶段即完成 slug 到项目的解析，未知项目直接拒绝
// - 不支持对外发送邮件，不会成为开放中继
//
// 一次 SMTP 事务只归属一个项目：第一个解析成功的收件人决定项目，
// 后续解析到其他项目的收件人返回临时错误，让发件方拆分投递。
type Backend struct {
	resolver *tenant.Resolver
	messages *service.MessageService
	limiter  *ConnectionLimiter
	metrics  *monitoring.Metrics
	log      *zap.Logger

	maxMessageBytes int64
}

// NewBackend 创建 SMTP Backend。limiter 和 metrics 可以为 nil。
func NewBackend(
	resolver *tenant.Resolver,
	messages *service.MessageService,
	limiter *ConnectionLimiter,
	metrics *monitoring.Metrics,
	maxMessageBytes int64,
	log *zap.Logger,
) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = 25 * 1024 * 1024
	}
	return &Backend{
		resolver:        resolver,
		messages:        messages,
		limiter:         limiter,
		metrics:         metrics,
		log:             log,
		maxMessageBytes: maxMessageBytes,
	}
}

// NewSession 创建新的 SMTP 会话，连接数超限时返回 421 让对方稍后重试。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		if b.metrics != nil {
			b.metrics.RecordError("connection_limit", "smtp")
		}
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
			Message:      "too many connections, try again later",
		}
	}
	if b.metrics != nil {
		b.metrics.ConnectionOpened()
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	project     *domain.Project
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 【安全关键】此方法是防止邮件中继的核心。
// 收件地址必须落在基础域名之下且 slug 对应一个已存在的项目，
// 其余地址一律在 RCPT 阶段拒绝，发件方立刻得到明确答复。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	project, err := s.backend.resolver.Resolve(to)
	if err != nil {
		return s.rejectRecipient(to, err)
	}

	// 一次事务只收一个项目的信
	if s.project != nil && s.project.ID != project.ID {
		s.backend.recordRejection("mixed_projects")
		return &gosmtp.SMTPError{
			Code:         452,
			EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
			Message:      "recipients span multiple projects, split the delivery",
		}
	}

	s.project = project
	s.recipients = append(s.recipients, to)
	return nil
}

// rejectRecipient 把解析错误翻译成 SMTP 应答码。
func (s *session) rejectRecipient(to string, err error) error {
	switch {
	case errors.Is(err, tenant.ErrInvalidRecipient):
		s.backend.recordRejection("invalid_recipient")
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	case errors.Is(err, tenant.ErrForeignDomain):
		s.backend.recordRejection("foreign_domain")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 2},
			Message:      "relay access denied - domain not served here",
		}
	case errors.Is(err, tenant.ErrUnknownProject):
		s.backend.recordRejection("unknown_project")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "no such project inbox",
		}
	default:
		s.backend.log.Error("recipient resolution failed",
			zap.String("recipient", to),
			zap.Error(err),
		)
		s.backend.recordRejection("resolver_error")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
}

// Data 处理邮件内容：整封读入后交给收件流水线落地。
func (s *session) Data(r io.Reader) error {
	if s.project == nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	limit := s.backend.maxMessageBytes
	rawBytes, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return err
	}
	if int64(len(rawBytes)) > limit {
		s.backend.recordDelivery("oversize")
		return &gosmtp.SMTPError{
			Code:         552,
			EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
			Message:      "message exceeds maximum size",
		}
	}

	start := time.Now()
	message, err := s.backend.messages.Ingest(service.IngestInput{
		Project:  s.project,
		From:     s.fromAddress,
		Raw:      rawBytes,
		Received: start.UTC(),
	})
	if err != nil {
		return s.rejectData(err)
	}

	s.backend.recordDelivery("accepted")
	if s.backend.metrics != nil {
		s.backend.metrics.RecordIngest(time.Since(start), message.RawSize)
		for _, att := range message.Attachments {
			s.backend.metrics.RecordAttachment(att.Size)
		}
	}

	s.backend.log.Info("message delivered",
		zap.String("project_slug", s.project.Slug),
		zap.String("message_id", message.ID),
		zap.Strings("recipients", s.recipients),
		zap.Int("size", len(rawBytes)),
	)
	return nil
}

// rejectData 把落地失败翻译成 SMTP 应答码。
// 解析失败是永久错误（重投也不会变好），存储失败是临时错误。
func (s *session) rejectData(err error) error {
	if errors.Is(err, service.ErrMalformed) {
		s.backend.recordDelivery("malformed")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message content could not be parsed",
		}
	}

	s.backend.log.Error("message ingest failed",
		zap.String("project_slug", s.project.Slug),
		zap.Error(err),
	)
	s.backend.recordDelivery("storage_error")
	return &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary storage failure, try again later",
	}
}

// Reset 重置事务状态，连接和已落地的邮件不受影响。
func (s *session) Reset() {
	s.fromAddress = ""
	s.project = nil
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	if s.backend.metrics != nil {
		s.backend.metrics.ConnectionClosed()
	}
	return nil
}

func (b *Backend) recordRejection(reason string) {
	if b.metrics != nil {
		b.metrics.RecordRejection(reason)
	}
}

func (b *Backend) recordDelivery(outcome string) {
	if b.metrics != nil {
		b.metrics.RecordDelivery(outcome)
	}
}
