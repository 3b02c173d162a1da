package domain

import "time"

// Project 表示一个租户项目。项目的 slug 是收件域名中基础域名前的子域标签，
// 投递到 *@<slug>.<基础域名> 的邮件都会归入该项目的收件箱。
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID   string    `json:"accountId" gorm:"type:varchar(36);index;not null"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;type:varchar(63);not null"`
	Description string    `json:"description" gorm:"type:varchar(500)"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// InboxAddress 返回项目收件域名下的示例地址，用于控制台展示。
func (p *Project) InboxAddress(baseDomain string) string {
	return "anything@" + p.Slug + "." + baseDomain
}
