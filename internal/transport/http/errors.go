package httptransport

import (
	"devinbox/backend/internal/auth"
	"devinbox/backend/internal/domain"
	"devinbox/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 校验错误
	domain.ErrInvalidEmail:     "邮箱格式无效",
	domain.ErrEmailTooLong:     "邮箱地址过长",
	domain.ErrInvalidSlug:      "项目别名格式无效，只能包含小写字母、数字和连字符",
	domain.ErrSlugTooLong:      "项目别名过长（最多63个字符）",
	domain.ErrProjectNameEmpty: "项目名称不能为空",
	domain.ErrProjectNameLong:  "项目名称过长（最多100个字符）",
	domain.ErrPasswordTooShort: "密码过短（至少8个字符）",
	domain.ErrPasswordTooLong:  "密码过长（最多128个字符）",

	// 认证错误
	auth.ErrSetupComplete:      "系统已完成初始化",
	auth.ErrInvalidCredentials: "邮箱或密码错误",
	auth.ErrAccountInactive:    "账号已被禁用",
	auth.ErrAccountNotFound:    "账号不存在",
	auth.ErrTokenRevoked:       "登录已失效，请重新登录",

	// 存储错误
	storage.ErrProjectNotFound:    "项目不存在",
	storage.ErrSlugTaken:          "该项目别名已被占用",
	storage.ErrMessageNotFound:    "邮件不存在",
	storage.ErrAttachmentNotFound: "附件不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "邮箱或密码错误"
	MsgTokenExpired       = "登录已过期，请重新登录"
	MsgTokenInvalid       = "无效的访问令牌"

	// 项目相关
	MsgProjectCreateFailed = "创建项目失败"
	MsgProjectListFailed   = "获取项目列表失败"
	MsgProjectNotFound     = "项目不存在"
	MsgProjectUpdateFailed = "更新项目失败"
	MsgProjectDeleteFailed = "删除项目失败"

	// 邮件相关
	MsgMessageNotFound       = "邮件不存在"
	MsgMessageListFailed     = "获取邮件列表失败"
	MsgMessageMarkReadFailed = "更新已读状态失败"
	MsgMessageDeleteFailed   = "删除邮件失败"

	// 附件相关
	MsgAttachmentNotFound = "附件不存在"

	// 账号相关
	MsgAccountNotFound  = "账号不存在"
	MsgAccountGetFailed = "获取账号信息失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
